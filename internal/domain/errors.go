package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the engine and its stores.
// Check them with errors.Is.
var (
	// ErrNotFound is returned when a page, mutation or dead letter does not exist.
	ErrNotFound = errors.New("offsync: not found")

	// ErrStoreCorrupted is fatal: the local store can no longer guarantee
	// durability and refuses further writes until it is reset.
	ErrStoreCorrupted = errors.New("offsync: local store corrupted")

	// ErrCursorRegression is returned when a pull tries to move a cursor backwards.
	ErrCursorRegression = errors.New("offsync: sync cursor regression")

	// ErrInvalidMutation is returned when a mutation is missing required fields.
	ErrInvalidMutation = errors.New("offsync: invalid mutation")

	// ErrAlreadyRunning is returned when Start() is called on a running client.
	ErrAlreadyRunning = errors.New("offsync: already running")

	// ErrNotRunning is returned when Stop() is called on a stopped client.
	ErrNotRunning = errors.New("offsync: not running")

	// ErrShutdownTimeout is returned when graceful shutdown times out.
	ErrShutdownTimeout = errors.New("offsync: shutdown timeout")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("offsync: invalid configuration")
)

// TransientError wraps a network-level failure: connection refused, DNS,
// TLS, timeout. The sync cycle backs off and retries; it is never shown to
// the user beyond the offline indicator.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ServerError is a response the remote produced but that is neither a
// success nor a protocol-level outcome (5xx, unexpected 4xx).
type ServerError struct {
	Status int
	Body   string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Body)
}

// ProbeError describes a failed reachability probe. It only ever updates
// the connectivity state.
type ProbeError struct {
	Err error
}

func (e *ProbeError) Error() string { return "probe: " + e.Err.Error() }
func (e *ProbeError) Unwrap() error { return e.Err }
