package offsync

import (
	"github.com/maintrack/offsync/internal/app"
	"github.com/maintrack/offsync/internal/domain"
)

// Errors returned by the client. Check them with errors.Is.
var (
	ErrNotFound         = domain.ErrNotFound
	ErrStoreCorrupted   = domain.ErrStoreCorrupted
	ErrCursorRegression = domain.ErrCursorRegression
	ErrInvalidMutation  = domain.ErrInvalidMutation
	ErrAlreadyRunning   = domain.ErrAlreadyRunning
	ErrNotRunning       = domain.ErrNotRunning
	ErrShutdownTimeout  = domain.ErrShutdownTimeout
	ErrInvalidConfig    = domain.ErrInvalidConfig
)

// Error types, for errors.As.
type (
	TransientError = domain.TransientError
	ServerError    = domain.ServerError
	ProbeError     = domain.ProbeError
	StoreError     = app.StoreError
)

// IsTransient reports whether err is a network-level failure.
func IsTransient(err error) bool { return domain.IsTransient(err) }
