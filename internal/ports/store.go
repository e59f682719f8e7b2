package ports

import (
	"context"

	"github.com/maintrack/offsync/internal/domain"
)

// PageCache is the offline page/asset cache.
type PageCache interface {
	PutPage(ctx context.Context, page domain.CachedPage) error
	// GetPage returns domain.ErrNotFound when the key is not cached.
	GetPage(ctx context.Context, key string) (domain.CachedPage, error)
	EvictIfOverBudget(ctx context.Context) (domain.EvictionResult, error)
	ClearPages(ctx context.Context) error
	SetCacheBudget(bytes int64)
}

// MutationLog is the durable write-ahead queue of local mutations.
type MutationLog interface {
	// Enqueue persists m before returning its operation id. Enqueueing an
	// operation id that already exists is a no-op.
	Enqueue(ctx context.Context, m domain.Mutation) (string, error)
	// ListPending returns live mutations in insertion order.
	ListPending(ctx context.Context) ([]domain.Mutation, error)
	// Ack removes a mutation the remote accepted.
	Ack(ctx context.Context, opID string) error
	// AckApplied removes an accepted mutation and rebases the later live
	// mutations on the same entity onto revision, returning how many moved.
	AckApplied(ctx context.Context, opID, revision string) (rebased int, err error)
	// MarkFailed records a failed attempt. When the attempt count reaches
	// maxAttempts the mutation becomes a dead letter and dead is true.
	MarkFailed(ctx context.Context, opID, errMsg string, maxAttempts int) (dead bool, err error)
	// RecordTransient stores errMsg as the last error without counting an
	// attempt.
	RecordTransient(ctx context.Context, opID, errMsg string) error
	// DeadLetter moves a mutation out of the live queue immediately.
	DeadLetter(ctx context.Context, opID, reason string) error
	// Rebase points a mutation at a newer remote revision.
	Rebase(ctx context.Context, opID, revision string) error
	ListDeadLetters(ctx context.Context) ([]domain.Mutation, error)
	RequeueDeadLetter(ctx context.Context, opID string) error
	PurgeDeadLetter(ctx context.Context, opID string) error
	// Discard atomically removes a mutation, records why, and refreshes the
	// cached page for the entity (page may be nil; a deleted remote entity
	// removes the page).
	Discard(ctx context.Context, d domain.Discard, remote *domain.EntityState) error
	ListDiscards(ctx context.Context) ([]domain.Discard, error)
}

// CursorStore applies pulled batches and tracks per-collection cursors.
type CursorStore interface {
	Cursor(ctx context.Context, collection string) (domain.Cursor, error)
	// ApplyPull writes every change and advances the cursor in one
	// transaction. Nothing is applied if any step fails.
	ApplyPull(ctx context.Context, collection string, changes []domain.Change, next int64) error
}

// Store is the whole local store.
type Store interface {
	PageCache
	MutationLog
	CursorStore
	Stats(ctx context.Context) (domain.Stats, error)
	Close() error
}
