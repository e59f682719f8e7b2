package offsync

import (
	"github.com/maintrack/offsync/internal/app"
	"github.com/maintrack/offsync/internal/domain"
	"github.com/maintrack/offsync/internal/ports"
)

// Re-exported domain types.
type (
	Mutation          = domain.Mutation
	OpKind            = domain.OpKind
	CachedPage        = domain.CachedPage
	EntityState       = domain.EntityState
	Discard           = domain.Discard
	Cursor            = domain.Cursor
	Stats             = domain.Stats
	EvictionResult    = domain.EvictionResult
	ConnectivityState = domain.ConnectivityState
	Transition        = domain.Transition
	PushOutcome       = ports.PushOutcome
	Phase             = app.Phase
	Action            = app.Action
)

const (
	OpCreate = domain.OpCreate
	OpUpdate = domain.OpUpdate
	OpDelete = domain.OpDelete

	Online   = domain.Online
	Offline  = domain.Offline
	Degraded = domain.Degraded

	PhaseIdle    = app.PhaseIdle
	PhasePushing = app.PhasePushing
	PhasePulling = app.PhasePulling
	PhaseBackoff = app.PhaseBackoff
)

// HTTPClient is the interface for making HTTP requests.
// *http.Client satisfies this interface.
type HTTPClient = ports.HTTPClient

// Logger is the interface for structured logging.
type Logger = ports.Logger

// LogField represents a structured log field.
type LogField = ports.Field

// State is the lifecycle state of a Client.
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

func convertState(s app.State) State {
	switch s {
	case app.StateStarting:
		return StateStarting
	case app.StateRunning:
		return StateRunning
	case app.StateStopping:
		return StateStopping
	case app.StateCrashed:
		return StateCrashed
	default:
		return StateStopped
	}
}
