package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang/snappy"

	"github.com/maintrack/offsync/internal/domain"
)

// PutPage stores or overwrites a cached page, then enforces the budget.
func (s *Store) PutPage(ctx context.Context, page domain.CachedPage) error {
	if page.Key == "" {
		return fmt.Errorf("put page: empty key")
	}
	if page.CapturedAt.IsZero() {
		page.CapturedAt = s.now()
	}
	err := s.write(ctx, func(tx *sql.Tx) error {
		return s.upsertPage(ctx, tx, page)
	})
	if err != nil {
		return err
	}
	_, err = s.EvictIfOverBudget(ctx)
	return err
}

func (s *Store) upsertPage(ctx context.Context, tx *sql.Tx, page domain.CachedPage) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO pages (key, body, content_type, revision, captured_at, expires_at, last_access, size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			body = excluded.body,
			content_type = excluded.content_type,
			revision = excluded.revision,
			captured_at = excluded.captured_at,
			expires_at = excluded.expires_at,
			last_access = excluded.last_access,
			size = excluded.size`,
		page.Key,
		snappy.Encode(nil, page.Body),
		page.ContentType,
		page.Revision,
		nanos(page.CapturedAt),
		nanos(page.ExpiresAt),
		s.nextTick(),
		int64(len(page.Body)),
	)
	if err != nil {
		return fmt.Errorf("upsert page %s: %w", page.Key, err)
	}
	return nil
}

// GetPage returns the cached page for key and marks it recently used.
func (s *Store) GetPage(ctx context.Context, key string) (domain.CachedPage, error) {
	var (
		p                                 domain.CachedPage
		blob                              []byte
		captured, expires, access, size64 int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT key, body, content_type, revision, captured_at, expires_at, last_access, size
		FROM pages WHERE key = ?`, key).
		Scan(&p.Key, &blob, &p.ContentType, &p.Revision, &captured, &expires, &access, &size64)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CachedPage{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.CachedPage{}, s.classify(fmt.Errorf("get page %s: %w", key, err))
	}
	body, err := snappy.Decode(nil, blob)
	if err != nil {
		return domain.CachedPage{}, s.classify(fmt.Errorf("%w: page %s body: %v", domain.ErrStoreCorrupted, key, err))
	}
	p.Body = body
	p.CapturedAt = fromNanos(captured)
	p.ExpiresAt = fromNanos(expires)
	p.Size = size64

	// LRU touch; a failed touch does not fail the read.
	tick := s.nextTick()
	if err := s.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE pages SET last_access = ? WHERE key = ?`, tick, key)
		return err
	}); err == nil {
		access = tick
	}
	p.LastAccess = fromNanos(access)
	return p, nil
}

// EvictIfOverBudget removes least-recently-used pages until the cached
// bytes fit the budget.
func (s *Store) EvictIfOverBudget(ctx context.Context) (domain.EvictionResult, error) {
	var res domain.EvictionResult
	budget := s.budget.Load()

	err := s.write(ctx, func(tx *sql.Tx) error {
		res = domain.EvictionResult{}
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(size), 0) FROM pages`).Scan(&res.TotalBytes); err != nil {
			return fmt.Errorf("sum cache size: %w", err)
		}
		if budget <= 0 || res.TotalBytes <= budget {
			return nil
		}
		rows, err := tx.QueryContext(ctx, `SELECT key, size FROM pages ORDER BY last_access ASC`)
		if err != nil {
			return fmt.Errorf("scan lru: %w", err)
		}
		var victims []string
		total := res.TotalBytes
		for rows.Next() && total > budget {
			var key string
			var size int64
			if err := rows.Scan(&key, &size); err != nil {
				rows.Close()
				return err
			}
			victims = append(victims, key)
			total -= size
			res.FreedBytes += size
		}
		if err := rows.Close(); err != nil {
			return err
		}
		for _, key := range victims {
			if _, err := tx.ExecContext(ctx, `DELETE FROM pages WHERE key = ?`, key); err != nil {
				return fmt.Errorf("evict %s: %w", key, err)
			}
		}
		res.Evicted = len(victims)
		res.TotalBytes = total
		return nil
	})
	if err != nil {
		return domain.EvictionResult{}, err
	}
	return res, nil
}

// ClearPages drops the whole page cache.
func (s *Store) ClearPages(ctx context.Context) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM pages`)
		return err
	})
}

// ListPages returns page metadata, most recently used first. Bodies are omitted.
func (s *Store) ListPages(ctx context.Context) ([]domain.CachedPage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, content_type, revision, captured_at, expires_at, last_access, size
		FROM pages ORDER BY last_access DESC`)
	if err != nil {
		return nil, s.classify(err)
	}
	defer rows.Close()

	var pages []domain.CachedPage
	for rows.Next() {
		var p domain.CachedPage
		var captured, expires, access int64
		if err := rows.Scan(&p.Key, &p.ContentType, &p.Revision, &captured, &expires, &access, &p.Size); err != nil {
			return nil, err
		}
		p.CapturedAt, p.ExpiresAt, p.LastAccess = fromNanos(captured), fromNanos(expires), fromNanos(access)
		pages = append(pages, p)
	}
	return pages, rows.Err()
}
