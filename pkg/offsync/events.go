package offsync

import (
	"time"

	"github.com/maintrack/offsync/internal/app"
	"github.com/maintrack/offsync/internal/domain"
	"github.com/maintrack/offsync/internal/ports"
)

// EventHandler receives client events. Methods are called synchronously
// from the sync goroutine and must return quickly.
type EventHandler interface {
	OnStateChange(StateChangeEvent)
	OnConnectivityChange(Transition)
	OnPhaseChange(PhaseChangeEvent)
	OnMutationApplied(MutationAppliedEvent)
	OnConflictResolved(ConflictResolvedEvent)
	OnDeadLettered(DeadLetteredEvent)
	OnPullApplied(PullAppliedEvent)
	OnSyncError(SyncErrorEvent)
	OnCacheEvicted(EvictionResult)
}

// StateChangeEvent is emitted on lifecycle transitions.
type StateChangeEvent struct {
	Previous State
	Current  State
	Reason   string
}

// PhaseChangeEvent is emitted when the sync engine changes phase.
type PhaseChangeEvent struct {
	Previous Phase
	Current  Phase
}

// MutationAppliedEvent is emitted when the remote accepted a mutation.
type MutationAppliedEvent struct {
	Mutation Mutation
	Outcome  PushOutcome
}

// ConflictResolvedEvent is emitted after the resolver handled a conflict.
type ConflictResolvedEvent struct {
	Mutation Mutation
	Action   Action
	// Discard is set when the local mutation lost.
	Discard *Discard
}

// DeadLetteredEvent is emitted when a mutation leaves the live queue.
type DeadLetteredEvent struct {
	Mutation Mutation
	Reason   string
}

// PullAppliedEvent is emitted after a pulled batch was committed.
type PullAppliedEvent struct {
	Collection string
	Changes    int
	Cursor     int64
}

// SyncErrorEvent is emitted when a cycle failed and the engine backs off.
type SyncErrorEvent struct {
	Error   error
	RetryIn time.Duration
}

// BaseEventHandler implements EventHandler with no-ops, for embedding.
type BaseEventHandler struct{}

func (BaseEventHandler) OnStateChange(StateChangeEvent)           {}
func (BaseEventHandler) OnConnectivityChange(Transition)          {}
func (BaseEventHandler) OnPhaseChange(PhaseChangeEvent)           {}
func (BaseEventHandler) OnMutationApplied(MutationAppliedEvent)   {}
func (BaseEventHandler) OnConflictResolved(ConflictResolvedEvent) {}
func (BaseEventHandler) OnDeadLettered(DeadLetteredEvent)         {}
func (BaseEventHandler) OnPullApplied(PullAppliedEvent)           {}
func (BaseEventHandler) OnSyncError(SyncErrorEvent)               {}
func (BaseEventHandler) OnCacheEvicted(EvictionResult)            {}

// eventEmitterWrapper adapts EventHandler to the internal emitter interfaces.
type eventEmitterWrapper struct {
	handler EventHandler
}

func (e *eventEmitterWrapper) OnStateChange(previous, current app.State, reason string) {
	if e.handler == nil {
		return
	}
	e.handler.OnStateChange(StateChangeEvent{
		Previous: convertState(previous),
		Current:  convertState(current),
		Reason:   reason,
	})
}

func (e *eventEmitterWrapper) OnPhaseChange(previous, current app.Phase) {
	if e.handler == nil {
		return
	}
	e.handler.OnPhaseChange(PhaseChangeEvent{Previous: previous, Current: current})
}

func (e *eventEmitterWrapper) OnMutationApplied(m domain.Mutation, outcome ports.PushOutcome) {
	if e.handler == nil {
		return
	}
	e.handler.OnMutationApplied(MutationAppliedEvent{Mutation: m, Outcome: outcome})
}

func (e *eventEmitterWrapper) OnConflictResolved(m domain.Mutation, res app.Resolution) {
	if e.handler == nil {
		return
	}
	ev := ConflictResolvedEvent{Mutation: m, Action: res.Action}
	if res.Action == app.ActionDiscard {
		d := res.Discard
		ev.Discard = &d
	}
	e.handler.OnConflictResolved(ev)
}

func (e *eventEmitterWrapper) OnDeadLettered(m domain.Mutation, reason string) {
	if e.handler == nil {
		return
	}
	e.handler.OnDeadLettered(DeadLetteredEvent{Mutation: m, Reason: reason})
}

func (e *eventEmitterWrapper) OnPullApplied(collection string, changes int, cursor int64) {
	if e.handler == nil {
		return
	}
	e.handler.OnPullApplied(PullAppliedEvent{Collection: collection, Changes: changes, Cursor: cursor})
}

func (e *eventEmitterWrapper) OnSyncError(err error, retryIn time.Duration) {
	if e.handler == nil {
		return
	}
	e.handler.OnSyncError(SyncErrorEvent{Error: err, RetryIn: retryIn})
}

func (e *eventEmitterWrapper) onConnectivity(tr domain.Transition) {
	if e.handler == nil {
		return
	}
	e.handler.OnConnectivityChange(tr)
}

func (e *eventEmitterWrapper) onEvicted(res domain.EvictionResult) {
	if e.handler == nil {
		return
	}
	e.handler.OnCacheEvicted(res)
}
