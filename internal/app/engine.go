package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/maintrack/offsync/internal/domain"
	"github.com/maintrack/offsync/internal/ports"
)

// Default engine configuration values.
const (
	DefaultSyncInterval   = 30 * time.Second
	DefaultRequestTimeout = 30 * time.Second
	DefaultPullLimit      = 200
)

// Phase is the sync engine's state.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhasePushing
	PhasePulling
	PhaseBackoff
)

// String returns a human-readable representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhasePushing:
		return "PUSHING"
	case PhasePulling:
		return "PULLING"
	case PhaseBackoff:
		return "BACKOFF"
	default:
		return "UNKNOWN"
	}
}

// EngineConfig configures the sync engine.
type EngineConfig struct {
	SyncInterval   time.Duration
	RequestTimeout time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// Collections are pulled in order on every cycle.
	Collections []string
	PullLimit   int
}

func (c *EngineConfig) applyDefaults() {
	if c.SyncInterval <= 0 {
		c.SyncInterval = DefaultSyncInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = DefaultBackoffInitial
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = DefaultBackoffMax
	}
	if c.PullLimit <= 0 {
		c.PullLimit = DefaultPullLimit
	}
}

// EngineEvents receives sync progress. Implementations must not block.
type EngineEvents interface {
	OnPhaseChange(previous, current Phase)
	OnMutationApplied(m domain.Mutation, outcome ports.PushOutcome)
	OnConflictResolved(m domain.Mutation, res Resolution)
	OnDeadLettered(m domain.Mutation, reason string)
	OnPullApplied(collection string, changes int, cursor int64)
	OnSyncError(err error, retryIn time.Duration)
}

// StoreError marks a local store failure. It is fatal to the engine.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

// Engine moves queued mutations to the remote and remote changes into the
// local store. Push and pull run on the engine's single goroutine.
type Engine struct {
	cfg      EngineConfig
	remote   ports.Remote
	cursors  ports.CursorStore
	queue    *WriteQueue
	monitor  *Monitor
	resolver Resolver
	logger   ports.Logger
	events   EngineEvents

	phase   atomic.Int32
	kick    chan struct{}
	backoff *backoff
}

// NewEngine creates a sync engine. events may be nil.
func NewEngine(
	cfg EngineConfig,
	remote ports.Remote,
	cursors ports.CursorStore,
	queue *WriteQueue,
	monitor *Monitor,
	logger ports.Logger,
	events EngineEvents,
) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg:     cfg,
		remote:  remote,
		cursors: cursors,
		queue:   queue,
		monitor: monitor,
		logger:  logger,
		events:  events,
		kick:    make(chan struct{}, 1),
		backoff: newBackoff(cfg.BackoffInitial, cfg.BackoffMax),
	}
}

// Phase returns the current phase.
func (e *Engine) Phase() Phase { return Phase(e.phase.Load()) }

// Kick requests a sync cycle as soon as the engine is idle.
func (e *Engine) Kick() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

func (e *Engine) setPhase(p Phase) {
	prev := Phase(e.phase.Swap(int32(p)))
	if prev == p {
		return
	}
	e.logger.Debug("sync phase", ports.String("from", prev.String()), ports.String("to", p.String()))
	if e.events != nil {
		e.events.OnPhaseChange(prev, p)
	}
}

// Run drives the engine until ctx is done or the store fails. A store
// failure is returned; shutdown returns nil.
func (e *Engine) Run(ctx context.Context) error {
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go func() {
		for tr := range e.monitor.Subscribe(watchCtx) {
			if tr.To.CanPull() {
				e.Kick()
			}
		}
	}()

	timer := time.NewTimer(0) // first cycle right away
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.kick:
		case <-timer.C:
		}

		for {
			err := e.cycle(ctx)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				e.setPhase(PhaseIdle)
				break
			}
			var se *StoreError
			if errors.As(err, &se) {
				e.setPhase(PhaseIdle)
				e.logger.Error("sync stopped on store failure", ports.Err(err))
				return err
			}

			e.setPhase(PhaseBackoff)
			delay := e.backoff.Next()
			e.logger.Warn("sync cycle failed, backing off",
				ports.Err(err),
				ports.Duration("retry_in", delay),
			)
			if e.events != nil {
				e.events.OnSyncError(err, delay)
			}
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				e.setPhase(PhaseIdle)
				return nil
			case <-t.C:
			}
			e.setPhase(PhaseIdle)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(e.cfg.SyncInterval)
	}
}

// Cycle runs one probe, push and pull. It returns a transient error when
// the remote became unreachable mid-cycle and a *StoreError when the local
// store failed. The engine is IDLE when Cycle returns.
func (e *Engine) Cycle(ctx context.Context) error {
	err := e.cycle(ctx)
	if err != nil {
		e.setPhase(PhaseIdle)
	}
	return err
}

// cycle leaves the phase where it failed so Run can move straight to
// BACKOFF.
func (e *Engine) cycle(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}
	state := e.monitor.Probe(ctx)
	if !state.CanPull() {
		e.logger.Debug("offline, staying idle")
		return nil
	}

	if state.CanPush() {
		e.setPhase(PhasePushing)
		if err := e.push(ctx); err != nil {
			return err
		}
	} else {
		e.logger.Debug("link degraded, skipping push")
	}

	e.setPhase(PhasePulling)
	if err := e.pull(ctx); err != nil {
		return err
	}
	e.setPhase(PhaseIdle)
	if ctx.Err() == nil {
		e.backoff.Reset()
	}
	return nil
}

// remoteCtx bounds a remote call. Shutdown does not cut it short, so the
// result is always recorded.
func (e *Engine) remoteCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.cfg.RequestTimeout)
}

func (e *Engine) push(ctx context.Context) error {
	wctx := context.WithoutCancel(ctx)
	pass, err := e.queue.Begin(wctx)
	if err != nil {
		return &StoreError{Op: "begin pass", Err: err}
	}
	if pass.Len() > 0 {
		e.logger.Debug("push pass", ports.Int("pending", pass.Len()))
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		m, ok := pass.Next()
		if !ok {
			return nil
		}
		if err := e.pushOne(ctx, pass, m, true); err != nil {
			return err
		}
	}
}

func (e *Engine) pushOne(ctx context.Context, pass *Pass, m domain.Mutation, mayResubmit bool) error {
	wctx := context.WithoutCancel(ctx)

	rctx, cancel := e.remoteCtx(ctx)
	res, err := e.remote.Push(rctx, m)
	cancel()

	if err != nil {
		if domain.IsTransient(err) {
			// The link failed, not the mutation: keep its attempt budget.
			if derr := e.queue.Defer(wctx, m, err); derr != nil {
				if serr := e.storeErr("record transient", derr); serr != nil {
					return serr
				}
			}
			return err
		}
		if ferr := e.failAndBlock(wctx, pass, m, err); ferr != nil {
			return ferr
		}
		e.logger.Warn("push failed",
			ports.String("op_id", m.OpID),
			ports.String("entity", m.Ref().String()),
			ports.Err(err),
		)
		return nil
	}

	switch res.Outcome {
	case ports.Applied, ports.AlreadyApplied:
		if err := e.queue.Applied(wctx, m, res.Revision); err != nil {
			return e.storeErr("ack", err)
		}
		if res.Revision != "" {
			pass.Rebase(m.Ref(), res.Revision)
		}
		e.logger.Info("mutation applied",
			ports.String("op_id", m.OpID),
			ports.String("entity", m.Ref().String()),
			ports.String("outcome", res.Outcome.String()),
		)
		if e.events != nil {
			e.events.OnMutationApplied(m, res.Outcome)
		}
		return nil

	case ports.Rejected:
		if err := e.queue.Reject(wctx, m, res.Reason); err != nil {
			return e.storeErr("dead-letter", err)
		}
		e.emitDead(m, res.Reason)
		return nil

	case ports.Conflict:
		return e.resolve(ctx, pass, m, res.Current, mayResubmit)
	}
	return fmt.Errorf("unknown push outcome %d", res.Outcome)
}

func (e *Engine) resolve(ctx context.Context, pass *Pass, m domain.Mutation, current *domain.EntityState, mayResubmit bool) error {
	wctx := context.WithoutCancel(ctx)
	if current == nil {
		return e.failAndBlock(wctx, pass, m, errors.New("conflict without remote state"))
	}
	res := e.resolver.Resolve(m, *current)
	e.logger.Info("conflict resolved",
		ports.String("op_id", m.OpID),
		ports.String("entity", m.Ref().String()),
		ports.String("action", res.Action.String()),
		ports.String("remote_revision", current.Revision),
	)

	switch res.Action {
	case ActionResubmit:
		if !mayResubmit {
			return e.failAndBlock(wctx, pass, m, errors.New("conflict persists after rebase"))
		}
		if err := e.queue.Rebase(wctx, m.OpID, res.Revision); err != nil {
			return e.storeErr("rebase", err)
		}
		if e.events != nil {
			e.events.OnConflictResolved(m, res)
		}
		m.BaseRevision = res.Revision
		return e.pushOne(ctx, pass, m, false)

	case ActionDiscard:
		if err := e.queue.Discard(wctx, res.Discard, current); err != nil {
			return e.storeErr("discard", err)
		}
	case ActionAck:
		if err := e.queue.Ack(wctx, m.OpID); err != nil {
			return e.storeErr("ack", err)
		}
	}
	if e.events != nil {
		e.events.OnConflictResolved(m, res)
	}
	return nil
}

func (e *Engine) failAndBlock(ctx context.Context, pass *Pass, m domain.Mutation, cause error) error {
	dead, err := e.queue.Fail(ctx, m, cause)
	if err != nil {
		return e.storeErr("mark failed", err)
	}
	if dead {
		e.emitDead(m, cause.Error())
	} else {
		pass.Block(m.Ref())
	}
	return nil
}

func (e *Engine) pull(ctx context.Context) error {
	wctx := context.WithoutCancel(ctx)
	for _, coll := range e.cfg.Collections {
		for {
			if ctx.Err() != nil {
				return nil
			}
			cur, err := e.cursors.Cursor(wctx, coll)
			if err != nil {
				return &StoreError{Op: "read cursor", Err: err}
			}

			rctx, cancel := e.remoteCtx(ctx)
			res, err := e.remote.Pull(rctx, coll, cur.Revision, e.cfg.PullLimit)
			cancel()
			if err != nil {
				if domain.IsTransient(err) {
					return err
				}
				e.logger.Warn("pull failed", ports.String("collection", coll), ports.Err(err))
				break
			}

			next := res.NextCursor
			if len(res.Changes) == 0 && next <= cur.Revision {
				break
			}
			if err := e.cursors.ApplyPull(wctx, coll, res.Changes, next); err != nil {
				if errors.Is(err, domain.ErrCursorRegression) {
					e.logger.Warn("remote cursor moved backwards, batch dropped",
						ports.String("collection", coll),
						ports.Int64("cursor", cur.Revision),
						ports.Int64("next", next),
					)
					break
				}
				return &StoreError{Op: "apply pull", Err: err}
			}
			e.logger.Debug("pull applied",
				ports.String("collection", coll),
				ports.Int("changes", len(res.Changes)),
				ports.Int64("cursor", next),
			)
			if e.events != nil {
				e.events.OnPullApplied(coll, len(res.Changes), next)
			}
			if !res.HasMore || next == cur.Revision {
				break
			}
		}
	}
	return nil
}

// storeErr tolerates a mutation that disappeared underneath the pass
// (purged or acked from another path) and escalates everything else.
func (e *Engine) storeErr(op string, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		e.logger.Debug("mutation vanished during pass", ports.String("op", op))
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

func (e *Engine) emitDead(m domain.Mutation, reason string) {
	if e.events != nil {
		e.events.OnDeadLettered(m, reason)
	}
}
