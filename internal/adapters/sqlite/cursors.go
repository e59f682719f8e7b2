package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/maintrack/offsync/internal/domain"
)

// Cursor returns the collection's cursor; a never-pulled collection is at 0.
func (s *Store) Cursor(ctx context.Context, collection string) (domain.Cursor, error) {
	c := domain.Cursor{Collection: collection}
	var updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT revision, updated_at FROM cursors WHERE collection = ?`, collection).Scan(&c.Revision, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return c, nil
	}
	if err != nil {
		return domain.Cursor{}, s.classify(fmt.Errorf("read cursor %s: %w", collection, err))
	}
	c.UpdatedAt = fromNanos(updated)
	return c, nil
}

// ApplyPull writes a pulled batch and advances the cursor atomically.
// A next value below the stored cursor aborts the batch with
// ErrCursorRegression.
func (s *Store) ApplyPull(ctx context.Context, collection string, changes []domain.Change, next int64) error {
	err := s.write(ctx, func(tx *sql.Tx) error {
		var current int64
		err := tx.QueryRowContext(ctx, `SELECT revision FROM cursors WHERE collection = ?`, collection).Scan(&current)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if next < current {
			return fmt.Errorf("%w: %s at %d, batch ends at %d", domain.ErrCursorRegression, collection, current, next)
		}
		for _, ch := range changes {
			if err := s.applyEntity(ctx, tx, ch); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO cursors (collection, revision, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(collection) DO UPDATE SET revision = excluded.revision, updated_at = excluded.updated_at`,
			collection, next, s.now().UnixNano())
		return err
	})
	if err != nil {
		return err
	}
	_, err = s.EvictIfOverBudget(ctx)
	return err
}

// applyEntity mirrors one remote entity state into the page cache.
func (s *Store) applyEntity(ctx context.Context, tx *sql.Tx, e domain.EntityState) error {
	if e.Deleted {
		_, err := tx.ExecContext(ctx, `DELETE FROM pages WHERE key = ?`, e.CacheKey())
		return err
	}
	return s.upsertPage(ctx, tx, e.Page(s.now()))
}

// Stats summarizes queue and cache sizes.
func (s *Store) Stats(ctx context.Context) (domain.Stats, error) {
	st := domain.Stats{CacheBudget: s.budget.Load()}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM mutations WHERE status = 'pending'),
			(SELECT COUNT(*) FROM mutations WHERE status = 'dead'),
			(SELECT COUNT(*) FROM discards),
			(SELECT COUNT(*) FROM pages),
			(SELECT COALESCE(SUM(size), 0) FROM pages)`).
		Scan(&st.Pending, &st.DeadLetters, &st.Discards, &st.Pages, &st.CacheBytes)
	if err != nil {
		return domain.Stats{}, s.classify(err)
	}
	return st, nil
}
