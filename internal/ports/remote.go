package ports

import (
	"context"

	"github.com/maintrack/offsync/internal/domain"
)

// PushOutcome is the remote's verdict on a submitted mutation.
type PushOutcome int

const (
	// Applied means the remote accepted the mutation.
	Applied PushOutcome = iota
	// AlreadyApplied means the operation id was seen before; the effect exists once.
	AlreadyApplied
	// Conflict means the entity changed since the mutation's base revision.
	Conflict
	// Rejected means the mutation failed the remote's validation rules.
	Rejected
)

// String returns a human-readable representation of the outcome.
func (o PushOutcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case AlreadyApplied:
		return "already_applied"
	case Conflict:
		return "conflict"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// PushResult carries the outcome and, for conflicts, the remote's current state.
type PushResult struct {
	Outcome PushOutcome
	Current *domain.EntityState
	Reason  string
	// Revision is the entity revision the write produced. It may be empty
	// when the remote does not report one.
	Revision string
}

// PullResult is one batch of a collection's change stream.
type PullResult struct {
	Changes    []domain.Change
	NextCursor int64
	HasMore    bool
}

// Remote is the authoritative service as seen by the engine.
//
// Push and Pull return a *domain.TransientError for network failures and a
// *domain.ServerError for responses outside the protocol; protocol outcomes
// (conflict, rejection) are reported through PushResult, not errors.
type Remote interface {
	// Probe performs a lightweight reachability check.
	Probe(ctx context.Context) error

	// Push submits a mutation tagged with its operation id.
	Push(ctx context.Context, m domain.Mutation) (PushResult, error)

	// Pull requests changes of a collection since the given cursor.
	// An empty Changes slice with HasMore false means "no changes".
	Pull(ctx context.Context, collection string, since int64, limit int) (PullResult, error)
}
