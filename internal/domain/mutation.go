package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// OpKind is the kind of change a mutation applies to its entity.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Valid reports whether k is one of the known kinds.
func (k OpKind) Valid() bool {
	return k == OpCreate || k == OpUpdate || k == OpDelete
}

// MutationStatus distinguishes live queue entries from dead letters.
type MutationStatus string

const (
	StatusPending MutationStatus = "pending"
	StatusDead    MutationStatus = "dead"
)

// Mutation is a locally originated write waiting to be accepted by the
// remote service. OpID is generated once by the client and stays stable
// across retries so the remote can treat resubmission as a no-op.
type Mutation struct {
	OpID       string          `json:"op_id"`
	Seq        int64           `json:"seq"`
	EntityType string          `json:"entity_type"`
	EntityKey  string          `json:"entity_key"`
	Kind       OpKind          `json:"kind"`
	Payload    json.RawMessage `json:"payload,omitempty"`

	// BaseRevision is the remote revision the local edit was made against.
	BaseRevision string    `json:"base_revision,omitempty"`
	LocalTime    time.Time `json:"local_time"`

	Attempts   int            `json:"attempts"`
	LastError  string         `json:"last_error,omitempty"`
	Status     MutationStatus `json:"status"`
	DeadReason string         `json:"dead_reason,omitempty"`
}

// Ref returns the entity the mutation targets.
func (m Mutation) Ref() EntityRef {
	return EntityRef{Type: m.EntityType, Key: m.EntityKey}
}

// Validate checks the fields Enqueue requires.
func (m Mutation) Validate() error {
	if m.EntityType == "" || m.EntityKey == "" {
		return fmt.Errorf("%w: entity type and key are required", ErrInvalidMutation)
	}
	if !m.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMutation, m.Kind)
	}
	if m.Kind != OpDelete && len(m.Payload) > 0 && !json.Valid(m.Payload) {
		return fmt.Errorf("%w: payload is not valid JSON", ErrInvalidMutation)
	}
	return nil
}

// EntityRef identifies a remote entity. Ordering guarantees are per ref.
type EntityRef struct {
	Type string
	Key  string
}

// String returns "type/key".
func (r EntityRef) String() string { return r.Type + "/" + r.Key }

// Path returns the canonical remote path for the entity, which is also the
// cache key of its page.
func (r EntityRef) Path() string { return "/api/" + r.Type + "/" + r.Key }
