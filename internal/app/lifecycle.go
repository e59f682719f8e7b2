package app

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/maintrack/offsync/internal/domain"
	"github.com/maintrack/offsync/internal/ports"
)

// ShutdownTimeout is the maximum time to wait for graceful shutdown.
const ShutdownTimeout = 30 * time.Second

// State represents the lifecycle state of the sync client.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateCrashed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateCrashed:
		return "Crashed"
	default:
		return "Unknown"
	}
}

// transitions lists the allowed targets per state and the error returned
// for anything else.
var transitions = map[State]struct {
	to  []State
	err error
}{
	StateStopped:  {[]State{StateStarting}, domain.ErrNotRunning},
	StateStarting: {[]State{StateRunning, StateStopping, StateCrashed}, domain.ErrAlreadyRunning},
	StateRunning:  {[]State{StateStopping, StateCrashed}, domain.ErrAlreadyRunning},
	StateStopping: {[]State{StateStopped, StateCrashed}, domain.ErrAlreadyRunning},
	StateCrashed:  {[]State{StateStarting}, domain.ErrNotRunning},
}

// Lifecycle manages the state machine for the sync client.
type Lifecycle struct {
	mu           sync.RWMutex
	state        State
	cause        error
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	logger       ports.Logger
	eventEmitter EventEmitter
}

// EventEmitter is called when lifecycle state changes.
type EventEmitter interface {
	OnStateChange(previous, current State, reason string)
}

// NewLifecycle creates a new lifecycle manager.
func NewLifecycle(logger ports.Logger, emitter EventEmitter) *Lifecycle {
	return &Lifecycle{
		state:        StateStopped,
		logger:       logger,
		eventEmitter: emitter,
	}
}

// State returns the current lifecycle state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// TransitionTo attempts to transition to a new state.
// Returns an error if the transition is not valid.
func (l *Lifecycle) TransitionTo(newState State, reason string) error {
	return l.transition(newState, reason, nil)
}

// Crash moves to Crashed and remembers err as the cause. A client that is
// already stopped stays stopped.
func (l *Lifecycle) Crash(err error) {
	if terr := l.transition(StateCrashed, err.Error(), err); terr != nil {
		l.logger.Warn("crash transition refused", ports.Err(terr), ports.String("state", l.State().String()))
	}
}

func (l *Lifecycle) transition(newState State, reason string, cause error) error {
	l.mu.Lock()
	oldState := l.state
	if !slices.Contains(transitions[oldState].to, newState) {
		l.mu.Unlock()
		return transitions[oldState].err
	}
	l.state = newState
	switch newState {
	case StateStarting:
		l.cause = nil
	case StateCrashed:
		l.cause = cause
	}
	l.mu.Unlock()

	// Emit outside of lock
	if l.eventEmitter != nil {
		l.eventEmitter.OnStateChange(oldState, newState, reason)
	}

	l.logger.Info("state transition",
		ports.String("from", oldState.String()),
		ports.String("to", newState.String()),
		ports.String("reason", reason),
	)
	return nil
}

// Cause returns the error that crashed the client, if any.
func (l *Lifecycle) Cause() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cause
}

// CanStart returns true if Start() can be called.
func (l *Lifecycle) CanStart() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateStopped || l.state == StateCrashed
}

// CanStop returns true if Stop() can be called.
func (l *Lifecycle) CanStop() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateRunning || l.state == StateStarting
}

// SetCancel stores the cancel function for graceful shutdown.
func (l *Lifecycle) SetCancel(cancel context.CancelFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancel = cancel
}

// Cancel triggers graceful shutdown.
func (l *Lifecycle) Cancel() {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Go runs fn as a tracked worker.
func (l *Lifecycle) Go(fn func()) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		fn()
	}()
}

// WaitWithTimeout waits for all workers to finish with a timeout.
// Returns ErrShutdownTimeout if the timeout expires.
func (l *Lifecycle) WaitWithTimeout(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return nil
	case <-t.C:
		l.logger.Warn("shutdown timeout, forcing exit",
			ports.Duration("timeout", timeout),
		)
		return domain.ErrShutdownTimeout
	}
}
