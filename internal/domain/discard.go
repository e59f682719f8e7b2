package domain

import "time"

// Discard reasons recorded by the conflict resolver.
const (
	ReasonStaleWrite       = "stale-write"
	ReasonDeleteSuperseded = "delete-superseded"
)

// Discard records a local mutation that lost conflict resolution, so the
// UI can tell the user their edit was not kept.
type Discard struct {
	OpID           string    `json:"op_id"`
	EntityType     string    `json:"entity_type"`
	EntityKey      string    `json:"entity_key"`
	Kind           OpKind    `json:"kind"`
	Reason         string    `json:"reason"`
	LocalTime      time.Time `json:"local_time"`
	RemoteRevision string    `json:"remote_revision"`
	RemoteTime     time.Time `json:"remote_time"`
	RecordedAt     time.Time `json:"recorded_at"`
}
