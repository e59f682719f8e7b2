package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/maintrack/offsync/internal/domain"
)

// transitionLog records lifecycle changes in order.
type transitionLog struct {
	mu      sync.Mutex
	changes []string
}

func (r *transitionLog) OnStateChange(previous, current State, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, previous.String()+">"+current.String()+":"+reason)
}

func (r *transitionLog) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.changes) == 0 {
		return ""
	}
	return r.changes[len(r.changes)-1]
}

// lifecycleIn walks a fresh lifecycle to state the way the client does.
func lifecycleIn(t *testing.T, state State) *Lifecycle {
	t.Helper()
	paths := map[State][]State{
		StateStopped:  nil,
		StateStarting: {StateStarting},
		StateRunning:  {StateStarting, StateRunning},
		StateStopping: {StateStarting, StateRunning, StateStopping},
		StateCrashed:  {StateStarting, StateRunning, StateCrashed},
	}
	l := NewLifecycle(&mockLogger{}, nil)
	for _, s := range paths[state] {
		if err := l.TransitionTo(s, "setup"); err != nil {
			t.Fatalf("setup %v: %v", s, err)
		}
	}
	return l
}

func TestLifecycle_Transitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
		want error
	}{
		// Start, including a restart after a crash.
		{StateStopped, StateStarting, nil},
		{StateCrashed, StateStarting, nil},
		{StateRunning, StateStarting, domain.ErrAlreadyRunning},
		{StateStopping, StateStarting, domain.ErrAlreadyRunning},

		// Plugin init failure and engine store failure.
		{StateStarting, StateCrashed, nil},
		{StateRunning, StateCrashed, nil},
		{StateStopped, StateCrashed, domain.ErrNotRunning},

		// Stop.
		{StateStarting, StateStopping, nil},
		{StateRunning, StateStopping, nil},
		{StateStopping, StateStopped, nil},
		{StateStopped, StateStopping, domain.ErrNotRunning},
		{StateCrashed, StateStopping, domain.ErrNotRunning},
		{StateRunning, StateStopped, domain.ErrAlreadyRunning},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+">"+tt.to.String(), func(t *testing.T) {
			l := lifecycleIn(t, tt.from)
			err := l.TransitionTo(tt.to, "test")
			if err != tt.want {
				t.Fatalf("TransitionTo() = %v, want %v", err, tt.want)
			}
			want := tt.to
			if tt.want != nil {
				want = tt.from
			}
			if l.State() != want {
				t.Errorf("state = %v, want %v", l.State(), want)
			}
		})
	}
}

func TestLifecycle_CanStartCanStop(t *testing.T) {
	tests := []struct {
		state     State
		wantStart bool
		wantStop  bool
	}{
		{StateStopped, true, false},
		{StateStarting, false, true},
		{StateRunning, false, true},
		{StateStopping, false, false},
		{StateCrashed, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			l := lifecycleIn(t, tt.state)
			if got := l.CanStart(); got != tt.wantStart {
				t.Errorf("CanStart() = %v, want %v", got, tt.wantStart)
			}
			if got := l.CanStop(); got != tt.wantStop {
				t.Errorf("CanStop() = %v, want %v", got, tt.wantStop)
			}
		})
	}
}

func TestLifecycle_CrashOnStoreFailure(t *testing.T) {
	f := newEngineFixture(t, 10)
	f.remote.seed("work_order", "R1", `{}`, t0, false)
	f.engine.cursors = corruptCursors{f.store}

	events := &transitionLog{}
	l := NewLifecycle(&mockLogger{}, events)
	_ = l.TransitionTo(StateStarting, "start")
	_ = l.TransitionTo(StateRunning, "started")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	l.SetCancel(cancel)
	l.Go(func() {
		if err := f.engine.Run(ctx); err != nil {
			l.Crash(err)
			l.Cancel()
		}
	})
	if err := l.WaitWithTimeout(5 * time.Second); err != nil {
		t.Fatalf("WaitWithTimeout: %v", err)
	}

	if l.State() != StateCrashed {
		t.Fatalf("state = %v, want Crashed", l.State())
	}
	var se *StoreError
	if !errors.As(l.Cause(), &se) || !errors.Is(l.Cause(), domain.ErrStoreCorrupted) {
		t.Fatalf("Cause() = %v, want StoreError wrapping ErrStoreCorrupted", l.Cause())
	}
	if got, want := events.last(), "Running>Crashed:"+l.Cause().Error(); got != want {
		t.Errorf("last transition = %q, want %q", got, want)
	}

	// A restart clears the cause.
	if err := l.TransitionTo(StateStarting, "restart"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if l.Cause() != nil {
		t.Errorf("Cause() after restart = %v", l.Cause())
	}
}

func TestLifecycle_CrashAfterStopIsIgnored(t *testing.T) {
	l := lifecycleIn(t, StateStopping)
	_ = l.TransitionTo(StateStopped, "stopped")

	l.Crash(domain.ErrStoreCorrupted)
	if l.State() != StateStopped {
		t.Fatalf("state = %v, want Stopped", l.State())
	}
	if l.Cause() != nil {
		t.Errorf("Cause() = %v, want nil", l.Cause())
	}
}

func TestLifecycle_WaitForInFlightPush(t *testing.T) {
	f := newEngineFixture(t, 10)
	id := f.enqueue(t, "R1", domain.OpCreate, `{}`, "", t0)

	started := make(chan struct{})
	release := make(chan struct{})
	f.remote.onPush = func(domain.Mutation) {
		close(started)
		<-release
	}

	l := lifecycleIn(t, StateRunning)
	ctx, cancel := context.WithCancel(context.Background())
	l.SetCancel(cancel)
	l.Go(func() { _ = f.engine.Run(ctx) })

	<-started
	if err := l.TransitionTo(StateStopping, "stop"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	l.Cancel()

	// The push is still out, so the engine cannot have returned.
	if err := l.WaitWithTimeout(20 * time.Millisecond); err != domain.ErrShutdownTimeout {
		t.Fatalf("WaitWithTimeout() = %v, want ErrShutdownTimeout", err)
	}
	close(release)
	if err := l.WaitWithTimeout(5 * time.Second); err != nil {
		t.Fatalf("WaitWithTimeout() = %v", err)
	}
	if got := f.remote.Applied(); len(got) != 1 || got[0] != id {
		t.Fatalf("applied = %v", got)
	}
	if got := f.pending(t); len(got) != 0 {
		t.Fatalf("pending = %v, want the in-flight push acked", got)
	}
}

func TestLifecycle_CancelWithoutFunc(t *testing.T) {
	l := NewLifecycle(&mockLogger{}, nil)
	l.Cancel()
	if l.State() != StateStopped {
		t.Errorf("state = %v", l.State())
	}
}
