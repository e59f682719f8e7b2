// Package sqlite implements the local store on an embedded SQLite database
// (modernc.org/sqlite, pure Go).
//
// One database file holds the page cache, the mutation log, dead letters,
// the discard record and the per-collection sync cursors. The file is
// opened in WAL mode with synchronous=FULL so that a committed write
// survives power loss and readers always see a committed snapshot.
// All writes are serialized through a single writer lock.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"modernc.org/sqlite"

	"github.com/maintrack/offsync/internal/domain"
)

// FileName is the database file name inside the data directory.
const FileName = "offsync.db"

// Config configures the store.
type Config struct {
	// Path to the database file.
	Path string

	// CacheBudget is the page cache budget in bytes; <= 0 disables eviction.
	CacheBudget int64

	// BusyTimeout is how long a connection waits for a lock.
	BusyTimeout time.Duration

	// MaxConnections bounds the reader pool.
	MaxConnections int
}

// DefaultConfig returns defaults for a database at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		CacheBudget:    256 << 20,
		BusyTimeout:    5 * time.Second,
		MaxConnections: 4,
	}
}

// Store implements ports.Store.
type Store struct {
	db   *sql.DB
	path string

	writeMu sync.Mutex
	budget  atomic.Int64
	corrupt atomic.Bool
	tick    atomic.Int64

	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (creating if needed) the database at cfg.Path, verifies its
// integrity and applies the schema. A damaged file yields ErrStoreCorrupted.
func Open(cfg Config, opts ...Option) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: store path is required", domain.ErrInvalidConfig)
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 4
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_txlock=immediate",
		cfg.Path, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxConnections)

	s := &Store{db: db, path: cfg.Path, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.budget.Store(cfg.CacheBudget)

	if err := s.verify(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, s.classify(fmt.Errorf("apply schema: %w", err))
	}
	var maxTick sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(last_access) FROM pages`).Scan(&maxTick); err != nil {
		_ = db.Close()
		return nil, s.classify(fmt.Errorf("load access clock: %w", err))
	}
	s.tick.Store(maxTick.Int64)
	return s, nil
}

// verify runs SQLite's quick integrity check.
func (s *Store) verify() error {
	var result string
	if err := s.db.QueryRow(`PRAGMA quick_check`).Scan(&result); err != nil {
		return s.classify(fmt.Errorf("integrity check: %w", err))
	}
	if result != "ok" {
		s.corrupt.Store(true)
		return fmt.Errorf("%w: %s", domain.ErrStoreCorrupted, result)
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Corrupted reports whether a corruption error has been observed.
func (s *Store) Corrupted() bool { return s.corrupt.Load() }

// SetCacheBudget changes the page cache budget; <= 0 disables eviction.
func (s *Store) SetCacheBudget(bytes int64) { s.budget.Store(bytes) }

// Close checkpoints the WAL and closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if !s.corrupt.Load() {
		_, _ = s.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`)
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Remove deletes the database file and its WAL side files. The store must
// be closed. Used to recover from corruption.
func Remove(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// write runs fn in a write transaction under the writer lock.
func (s *Store) write(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.corrupt.Load() {
		return domain.ErrStoreCorrupted
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.classify(fmt.Errorf("begin: %w", err))
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return s.classify(err)
	}
	if err := tx.Commit(); err != nil {
		return s.classify(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// classify poisons the store when err reports on-disk corruption.
func (s *Store) classify(err error) error {
	if err == nil || !isCorruption(err) {
		return err
	}
	s.corrupt.Store(true)
	return fmt.Errorf("%w: %v", domain.ErrStoreCorrupted, err)
}

const (
	codeCorrupt = 11
	codeNotADB  = 26
)

func isCorruption(err error) bool {
	if errors.Is(err, domain.ErrStoreCorrupted) {
		return true
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		primary := se.Code() & 0xff
		return primary == codeCorrupt || primary == codeNotADB
	}
	msg := err.Error()
	return strings.Contains(msg, "malformed") || strings.Contains(msg, "not a database")
}

// nextTick returns a strictly increasing access stamp.
func (s *Store) nextTick() int64 {
	now := s.now().UnixNano()
	for {
		cur := s.tick.Load()
		next := now
		if next <= cur {
			next = cur + 1
		}
		if s.tick.CompareAndSwap(cur, next) {
			return next
		}
	}
}

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
