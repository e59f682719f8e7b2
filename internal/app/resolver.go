package app

import "github.com/maintrack/offsync/internal/domain"

// Action is the resolver's verdict on a conflicting mutation.
type Action int

const (
	// ActionResubmit rebases the local mutation onto the remote revision.
	ActionResubmit Action = iota
	// ActionDiscard drops the local mutation in favor of the remote state.
	ActionDiscard
	// ActionAck drops the local mutation because the remote already has its effect.
	ActionAck
)

// String returns a human-readable representation of the action.
func (a Action) String() string {
	switch a {
	case ActionResubmit:
		return "resubmit"
	case ActionDiscard:
		return "discard"
	case ActionAck:
		return "ack"
	default:
		return "unknown"
	}
}

// Resolution is the outcome of a conflict.
type Resolution struct {
	Action Action
	// Revision to rebase onto, for ActionResubmit.
	Revision string
	// Discard to record, for ActionDiscard.
	Discard domain.Discard
}

// Resolver applies whole-record last-writer-wins on wall-clock time.
// Resolve is deterministic: the same inputs always give the same result.
type Resolver struct{}

// Resolve decides between the local mutation and the remote state.
//
// Local wins only when strictly later; a tie goes to the remote. The one
// exception is a local update against a remote delete, where the delete
// must be strictly later to win.
func (Resolver) Resolve(local domain.Mutation, remote domain.EntityState) Resolution {
	lt, rt := local.LocalTime, remote.UpdatedAt
	localDelete := local.Kind == domain.OpDelete

	switch {
	case localDelete && remote.Deleted:
		return Resolution{Action: ActionAck}

	case localDelete:
		if lt.After(rt) {
			return resubmit(remote)
		}
		return discard(local, remote, domain.ReasonDeleteSuperseded)

	case remote.Deleted:
		if rt.After(lt) {
			return discard(local, remote, domain.ReasonStaleWrite)
		}
		return resubmit(remote)

	default:
		if lt.After(rt) {
			return resubmit(remote)
		}
		return discard(local, remote, domain.ReasonStaleWrite)
	}
}

func resubmit(remote domain.EntityState) Resolution {
	return Resolution{Action: ActionResubmit, Revision: remote.Revision}
}

func discard(local domain.Mutation, remote domain.EntityState, reason string) Resolution {
	return Resolution{
		Action: ActionDiscard,
		Discard: domain.Discard{
			OpID:           local.OpID,
			EntityType:     local.EntityType,
			EntityKey:      local.EntityKey,
			Kind:           local.Kind,
			Reason:         reason,
			LocalTime:      local.LocalTime,
			RemoteRevision: remote.Revision,
			RemoteTime:     remote.UpdatedAt,
		},
	}
}
