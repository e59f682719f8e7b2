package offsync

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"sync"

	httpAdapter "github.com/maintrack/offsync/internal/adapters/http"
	logAdapter "github.com/maintrack/offsync/internal/adapters/log"
	"github.com/maintrack/offsync/internal/adapters/sqlite"
	"github.com/maintrack/offsync/internal/app"
	"github.com/maintrack/offsync/internal/ports"
)

// Client is an offline-first sync client that can be embedded in other
// applications. Use New() to create an instance and Start() to begin
// syncing. The local store is usable as soon as New returns.
type Client struct {
	config    Config
	lifecycle *app.Lifecycle
	store     *sqlite.Store
	monitor   *app.Monitor
	queue     *app.WriteQueue
	engine    *app.Engine
	eviction  *evictionRunner
	logger    ports.Logger
	emitter   *eventEmitterWrapper

	plugins     []Plugin
	initialized []Plugin

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
}

// New opens the local store and wires the client. The client is created
// in StateStopped. A damaged database yields ErrStoreCorrupted; see Reset.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := defaultOptions(&http.Client{})
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = logAdapter.NewNoopLogger()
	}
	emitter := &eventEmitterWrapper{handler: o.eventHandler}

	storeCfg := sqlite.DefaultConfig(cfg.DatabasePath())
	storeCfg.CacheBudget = cfg.CacheBudgetBytes
	store, err := sqlite.Open(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	remote := httpAdapter.NewRemote(o.httpClient, httpAdapter.RemoteConfig{
		ServiceURL: cfg.ServiceURL,
		AuthToken:  cfg.AuthToken,
		ClientID:   cfg.ClientID,
		Version:    cfg.Version,
	}, logger)

	monitor := app.NewMonitor(remote, app.MonitorConfig{
		ProbeTimeout:    cfg.ProbeTimeout,
		OnlineInterval:  cfg.OnlineProbeInterval,
		OfflineInterval: cfg.OfflineProbeInterval,
		SlowThreshold:   cfg.SlowProbeThreshold,
	}, logger)
	queue := app.NewWriteQueue(store, cfg.MaxAttempts, logger)
	engine := app.NewEngine(app.EngineConfig{
		SyncInterval:   cfg.SyncInterval,
		RequestTimeout: cfg.RequestTimeout,
		Collections:    cfg.Collections,
		PullLimit:      cfg.PullLimit,
	}, remote, store, queue, monitor, logger, emitter)

	eviction, err := newEvictionRunner(cfg.EvictionSchedule, store, logger, emitter.onEvicted)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &Client{
		config:    cfg,
		lifecycle: app.NewLifecycle(logger, emitter),
		store:     store,
		monitor:   monitor,
		queue:     queue,
		engine:    engine,
		eviction:  eviction,
		logger:    logger,
		emitter:   emitter,
		plugins:   o.plugins,
	}, nil
}

// Start begins background probing, syncing and cache eviction.
// Returns immediately; ctx bounds the lifetime of the background work.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrNotRunning
	}
	if !c.lifecycle.CanStart() {
		return ErrAlreadyRunning
	}
	if err := c.lifecycle.TransitionTo(app.StateStarting, "Start() called"); err != nil {
		return err
	}
	if c.store.Corrupted() {
		c.lifecycle.Crash(ErrStoreCorrupted)
		return ErrStoreCorrupted
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.lifecycle.SetCancel(cancel)

	pluginCfg := PluginConfig{
		DataDir:    c.config.DataDir,
		ServiceURL: c.config.ServiceURL,
		ClientID:   c.config.ClientID,
		Logger:     c.logger,
		Tuner:      c,
	}
	for _, p := range c.plugins {
		if err := p.Initialize(runCtx, pluginCfg); err != nil {
			c.logger.Error("plugin initialization failed",
				ports.String("plugin", p.Name()),
				ports.Err(err))
			cancel()
			c.shutdownPlugins()
			c.lifecycle.Crash(fmt.Errorf("plugin %s: %w", p.Name(), err))
			return err
		}
		c.initialized = append(c.initialized, p)
		c.logger.Info("plugin initialized", ports.String("plugin", p.Name()))
	}

	if err := c.eviction.start(runCtx); err != nil {
		cancel()
		c.shutdownPlugins()
		c.lifecycle.Crash(err)
		return err
	}

	if err := c.lifecycle.TransitionTo(app.StateRunning, "workers starting"); err != nil {
		cancel()
		return err
	}

	c.lifecycle.Go(func() {
		_ = c.monitor.Run(runCtx)
	})
	c.lifecycle.Go(func() {
		for tr := range c.monitor.Subscribe(runCtx) {
			c.emitter.onConnectivity(tr)
		}
	})
	c.lifecycle.Go(func() {
		if err := c.engine.Run(runCtx); err != nil {
			c.logger.Error("sync engine stopped", ports.Err(err))
			c.lifecycle.Crash(err)
			c.lifecycle.Cancel()
		}
	})
	return nil
}

// Stop gracefully shuts down background work. An in-flight remote call
// completes and its result is recorded before Stop returns.
// Waits up to 30 seconds; returns ErrShutdownTimeout if forced.
func (c *Client) Stop() error {
	c.mu.Lock()
	if !c.lifecycle.CanStop() {
		c.mu.Unlock()
		return ErrNotRunning
	}
	if err := c.lifecycle.TransitionTo(app.StateStopping, "Stop() called"); err != nil {
		c.mu.Unlock()
		return err
	}
	c.lifecycle.Cancel()
	c.mu.Unlock()

	err := c.lifecycle.WaitWithTimeout(app.ShutdownTimeout)
	c.eviction.stop()
	c.shutdownPlugins()

	if err != nil {
		c.lifecycle.Crash(err)
	} else {
		_ = c.lifecycle.TransitionTo(app.StateStopped, "graceful shutdown")
	}
	return err
}

// shutdownPlugins shuts initialized plugins down in reverse order.
func (c *Client) shutdownPlugins() {
	ctx := context.Background()
	for i := len(c.initialized) - 1; i >= 0; i-- {
		p := c.initialized[i]
		if err := p.Shutdown(ctx); err != nil {
			c.logger.Error("plugin shutdown failed",
				ports.String("plugin", p.Name()),
				ports.Err(err))
		} else {
			c.logger.Info("plugin shutdown complete", ports.String("plugin", p.Name()))
		}
	}
	c.initialized = nil
}

// Close stops the client if needed and closes the local store.
func (c *Client) Close() error {
	if err := c.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		c.logger.Warn("stop before close", ports.Err(err))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	_ = c.lifecycle.WaitWithTimeout(app.ShutdownTimeout)
	c.eviction.stop()
	c.shutdownPlugins()
	return c.store.Close()
}

// Status returns the current lifecycle state.
func (c *Client) Status() State {
	return convertState(c.lifecycle.State())
}

// Err returns the error that crashed the client, if any.
func (c *Client) Err() error {
	return c.lifecycle.Cause()
}

// Connectivity returns the last-known connectivity state without blocking.
func (c *Client) Connectivity() ConnectivityState {
	return c.monitor.State()
}

// Probe checks reachability now and returns the resulting state.
func (c *Client) Probe(ctx context.Context) ConnectivityState {
	return c.monitor.Probe(ctx)
}

// Subscribe returns an endless sequence of connectivity transitions; see
// the package documentation.
func (c *Client) Subscribe(ctx context.Context) iter.Seq[Transition] {
	return c.monitor.Subscribe(ctx)
}

// Phase returns the sync engine's phase.
func (c *Client) Phase() Phase {
	return c.engine.Phase()
}

// SyncNow asks the running engine for a cycle as soon as it is idle.
func (c *Client) SyncNow() {
	c.engine.Kick()
}

// SyncOnce runs a single probe, push and pull cycle on the caller's
// goroutine. The client must not be running.
func (c *Client) SyncOnce(ctx context.Context) error {
	if !c.lifecycle.CanStart() {
		return ErrAlreadyRunning
	}
	return c.engine.Cycle(ctx)
}

// Enqueue durably records a local mutation and requests a sync. The
// returned operation id is stable across retries.
func (c *Client) Enqueue(ctx context.Context, m Mutation) (string, error) {
	id, err := c.queue.Enqueue(ctx, m)
	if err != nil {
		return "", err
	}
	c.engine.Kick()
	return id, nil
}

// Pending returns the live queue in arrival order.
func (c *Client) Pending(ctx context.Context) ([]Mutation, error) {
	return c.queue.Pending(ctx)
}

// DeadLetters returns mutations that will not be retried automatically.
func (c *Client) DeadLetters(ctx context.Context) ([]Mutation, error) {
	return c.queue.DeadLetters(ctx)
}

// Requeue gives a dead letter a fresh attempt budget at the tail of the queue.
func (c *Client) Requeue(ctx context.Context, opID string) error {
	if err := c.queue.Requeue(ctx, opID); err != nil {
		return err
	}
	c.engine.Kick()
	return nil
}

// Purge permanently deletes a dead letter.
func (c *Client) Purge(ctx context.Context, opID string) error {
	return c.queue.Purge(ctx, opID)
}

// Discards returns mutations dropped by conflict resolution.
func (c *Client) Discards(ctx context.Context) ([]Discard, error) {
	return c.queue.Discards(ctx)
}

// GetPage returns a cached page. Missing pages yield ErrNotFound.
func (c *Client) GetPage(ctx context.Context, key string) (CachedPage, error) {
	return c.store.GetPage(ctx, key)
}

// PutPage caches a page fetched while online.
func (c *Client) PutPage(ctx context.Context, page CachedPage) error {
	return c.store.PutPage(ctx, page)
}

// Pages lists cached page metadata, most recently used first.
func (c *Client) Pages(ctx context.Context) ([]CachedPage, error) {
	return c.store.ListPages(ctx)
}

// ClearCache drops every cached page. Queued mutations are untouched.
func (c *Client) ClearCache(ctx context.Context) error {
	return c.store.ClearPages(ctx)
}

// Evict enforces the cache budget now.
func (c *Client) Evict(ctx context.Context) (EvictionResult, error) {
	return c.store.EvictIfOverBudget(ctx)
}

// Cursor returns the sync cursor of a collection.
func (c *Client) Cursor(ctx context.Context, collection string) (Cursor, error) {
	return c.store.Cursor(ctx, collection)
}

// Stats summarizes the queue and cache.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	return c.store.Stats(ctx)
}

// SetMaxAttempts changes the attempt cap of the running client.
func (c *Client) SetMaxAttempts(n int) {
	c.queue.SetMaxAttempts(n)
	c.logger.Info("max attempts updated", ports.Int("max_attempts", c.queue.MaxAttempts()))
}

// SetCacheBudget changes the cache budget; the next eviction pass applies it.
func (c *Client) SetCacheBudget(bytes int64) {
	c.store.SetCacheBudget(bytes)
	c.logger.Info("cache budget updated", ports.Int64("cache_budget_bytes", bytes))
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.config
}

// Reset deletes the local database of cfg. Queued mutations are lost.
// It is the recovery path for ErrStoreCorrupted; the client using the
// directory must be closed.
func Reset(cfg Config) error {
	if cfg.DataDir == "" {
		return fmt.Errorf("%w: data dir is required", ErrInvalidConfig)
	}
	return sqlite.Remove(cfg.DatabasePath())
}

var _ Tuner = (*Client)(nil)
