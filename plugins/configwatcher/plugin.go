// Package configwatcher reloads tunables of a running offsync client when
// its TOML config file changes. Only max_attempts and cache_budget_bytes
// are applied live; other keys take effect on restart.
package configwatcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/maintrack/offsync/pkg/offsync"
)

// Error codes for config file issues.
const (
	ErrCodeFileNotFound     = "FILE_NOT_FOUND"
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodeReadError        = "READ_ERROR"
	ErrCodeParseError       = "PARSE_ERROR"
)

// Plugin watches the config file and applies tunables through the
// client's Tuner.
type Plugin struct {
	mu sync.Mutex

	path          string
	debounceDelay time.Duration

	logger   offsync.Logger
	tuner    offsync.Tuner
	applied  tunables
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	debounce *time.Timer
}

// Config holds configuration options for the config watcher plugin.
type Config struct {
	// Path is the TOML file to watch. Required.
	Path string

	// DebounceDelay is the delay to wait after a file change before reloading.
	// Default: 100 milliseconds
	DebounceDelay time.Duration
}

// DefaultConfig returns a Config for the given file with default settings.
func DefaultConfig(path string) Config {
	return Config{
		Path:          path,
		DebounceDelay: 100 * time.Millisecond,
	}
}

// tunables are the keys applied without a restart.
type tunables struct {
	MaxAttempts      int   `toml:"max_attempts"`
	CacheBudgetBytes int64 `toml:"cache_budget_bytes"`
}

// New creates a new config watcher plugin with the given configuration.
func New(cfg Config) *Plugin {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 100 * time.Millisecond
	}
	return &Plugin{
		path:          cfg.Path,
		debounceDelay: cfg.DebounceDelay,
	}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "configwatcher"
}

// Initialize starts watching. A missing file is not an error; it is
// picked up once created. A directory that cannot be watched disables the
// plugin with a warning.
func (p *Plugin) Initialize(ctx context.Context, cfg offsync.PluginConfig) error {
	p.mu.Lock()
	p.logger = cfg.Logger
	p.tuner = cfg.Tuner
	p.mu.Unlock()

	if p.path == "" || p.tuner == nil {
		p.logger.Warn("config watcher disabled: no config path or tuner")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Editors replace files on save, so watch the directory. Without it
	// the client runs on its startup values.
	dir := filepath.Dir(p.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		p.logger.Warn("config watcher disabled: cannot watch config directory",
			offsync.LogField{Key: "dir", Value: dir},
			offsync.LogField{Key: "code", Value: errorToCode(err)},
			offsync.LogField{Key: "error", Value: err},
		)
		return nil
	}

	watchCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	// Baseline: values already in the file were applied at startup.
	if t, err := p.load(); err == nil {
		p.applied = t
	}

	p.logger.Info("config watcher plugin initialized", offsync.LogField{Key: "path", Value: p.path})

	p.wg.Add(1)
	go p.watchLoop(watchCtx, watcher)
	return nil
}

// Shutdown stops the config watcher.
func (p *Plugin) Shutdown(context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	p.mu.Lock()
	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.mu.Unlock()
	return nil
}

func (p *Plugin) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer p.wg.Done()
	defer watcher.Close()

	name := filepath.Base(p.path)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			p.debounceReload(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("config watcher: watcher error", offsync.LogField{Key: "error", Value: err.Error()})
		}
	}
}

func (p *Plugin) debounceReload(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.debounce = time.AfterFunc(p.debounceDelay, func() {
		if ctx.Err() != nil {
			return
		}
		p.reload()
	})
}

// reload applies tunables that changed since the last reload.
func (p *Plugin) reload() {
	t, err := p.load()
	if err != nil {
		p.logger.Warn("config watcher: reload skipped",
			offsync.LogField{Key: "code", Value: errorToCode(err)},
			offsync.LogField{Key: "error", Value: err.Error()},
		)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if t.MaxAttempts > 0 && t.MaxAttempts != p.applied.MaxAttempts {
		p.tuner.SetMaxAttempts(t.MaxAttempts)
		p.applied.MaxAttempts = t.MaxAttempts
	}
	if t.CacheBudgetBytes > 0 && t.CacheBudgetBytes != p.applied.CacheBudgetBytes {
		p.tuner.SetCacheBudget(t.CacheBudgetBytes)
		p.applied.CacheBudgetBytes = t.CacheBudgetBytes
	}
}

type parseError struct{ err error }

func (e *parseError) Error() string { return "parse config: " + e.err.Error() }
func (e *parseError) Unwrap() error { return e.err }

func (p *Plugin) load() (tunables, error) {
	var t tunables
	b, err := os.ReadFile(p.path)
	if err != nil {
		return t, err
	}
	if err := toml.Unmarshal(b, &t); err != nil {
		return t, &parseError{err: err}
	}
	return t, nil
}

func errorToCode(err error) string {
	var pe *parseError
	switch {
	case errors.As(err, &pe):
		return ErrCodeParseError
	case errors.Is(err, fs.ErrNotExist):
		return ErrCodeFileNotFound
	case errors.Is(err, fs.ErrPermission):
		return ErrCodePermissionDenied
	default:
		return ErrCodeReadError
	}
}

// Ensure Plugin implements offsync.Plugin.
var _ offsync.Plugin = (*Plugin)(nil)
