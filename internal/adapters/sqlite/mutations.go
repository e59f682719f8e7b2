package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/maintrack/offsync/internal/domain"
)

const mutationColumns = `seq, op_id, entity_type, entity_key, kind, payload, base_revision,
	local_time, attempts, last_error, status, dead_reason`

// Enqueue appends m to the mutation log. The row is committed before
// Enqueue returns. An empty OpID is filled with a new UUID; an OpID that is
// already logged is left untouched and returned as is.
func (s *Store) Enqueue(ctx context.Context, m domain.Mutation) (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}
	if m.OpID == "" {
		m.OpID = uuid.NewString()
	}
	if m.LocalTime.IsZero() {
		m.LocalTime = s.now()
	}
	err := s.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO mutations (op_id, entity_type, entity_key, kind, payload, base_revision, local_time, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, 'pending')
			ON CONFLICT(op_id) DO NOTHING`,
			m.OpID, m.EntityType, m.EntityKey, string(m.Kind), []byte(m.Payload), m.BaseRevision, nanos(m.LocalTime))
		if err != nil {
			return fmt.Errorf("enqueue %s: %w", m.OpID, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return m.OpID, nil
}

// ListPending returns live mutations in insertion order.
func (s *Store) ListPending(ctx context.Context) ([]domain.Mutation, error) {
	return s.listMutations(ctx, domain.StatusPending)
}

// ListDeadLetters returns dead-lettered mutations in insertion order.
func (s *Store) ListDeadLetters(ctx context.Context) ([]domain.Mutation, error) {
	return s.listMutations(ctx, domain.StatusDead)
}

// GetMutation returns one mutation regardless of status.
func (s *Store) GetMutation(ctx context.Context, opID string) (domain.Mutation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+mutationColumns+` FROM mutations WHERE op_id = ?`, opID)
	m, err := scanMutation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Mutation{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Mutation{}, s.classify(err)
	}
	return m, nil
}

func (s *Store) listMutations(ctx context.Context, status domain.MutationStatus) ([]domain.Mutation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+mutationColumns+` FROM mutations WHERE status = ? ORDER BY seq ASC`, string(status))
	if err != nil {
		return nil, s.classify(fmt.Errorf("list %s mutations: %w", status, err))
	}
	defer rows.Close()

	var out []domain.Mutation
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, s.classify(err)
		}
		out = append(out, m)
	}
	return out, s.classify(rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMutation(sc scanner) (domain.Mutation, error) {
	var (
		m         domain.Mutation
		kind      string
		status    string
		payload   []byte
		localTime int64
	)
	err := sc.Scan(&m.Seq, &m.OpID, &m.EntityType, &m.EntityKey, &kind, &payload, &m.BaseRevision,
		&localTime, &m.Attempts, &m.LastError, &status, &m.DeadReason)
	if err != nil {
		return domain.Mutation{}, err
	}
	m.Kind = domain.OpKind(kind)
	m.Status = domain.MutationStatus(status)
	m.LocalTime = fromNanos(localTime)
	if len(payload) > 0 {
		m.Payload = payload
	}
	return m, nil
}

// Ack removes a mutation the remote accepted.
func (s *Store) Ack(ctx context.Context, opID string) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		return deleteMutation(ctx, tx, opID)
	})
}

// AckApplied removes an accepted mutation and points the later live
// mutations on the same entity at the revision the write produced. It
// returns how many followers were rebased. An empty revision acks only.
func (s *Store) AckApplied(ctx context.Context, opID, revision string) (int, error) {
	var rebased int
	err := s.write(ctx, func(tx *sql.Tx) error {
		var (
			seq      int64
			typ, key string
		)
		err := tx.QueryRowContext(ctx,
			`SELECT seq, entity_type, entity_key FROM mutations WHERE op_id = ?`, opID).Scan(&seq, &typ, &key)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := deleteMutation(ctx, tx, opID); err != nil {
			return err
		}
		if revision == "" {
			return nil
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE mutations SET base_revision = ?
			WHERE entity_type = ? AND entity_key = ? AND seq > ? AND status = 'pending'`,
			revision, typ, key, seq)
		if err != nil {
			return fmt.Errorf("rebase followers of %s: %w", opID, err)
		}
		n, _ := res.RowsAffected()
		rebased = int(n)
		return nil
	})
	return rebased, err
}

func deleteMutation(ctx context.Context, tx *sql.Tx, opID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM mutations WHERE op_id = ?`, opID)
	if err != nil {
		return fmt.Errorf("delete mutation %s: %w", opID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkFailed increments the attempt count. Reaching maxAttempts moves the
// mutation to the dead-letter set.
func (s *Store) MarkFailed(ctx context.Context, opID, errMsg string, maxAttempts int) (bool, error) {
	var dead bool
	err := s.write(ctx, func(tx *sql.Tx) error {
		var attempts int
		err := tx.QueryRowContext(ctx,
			`SELECT attempts FROM mutations WHERE op_id = ? AND status = 'pending'`, opID).Scan(&attempts)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		attempts++
		dead = maxAttempts > 0 && attempts >= maxAttempts
		status, reason := domain.StatusPending, ""
		if dead {
			status = domain.StatusDead
			reason = fmt.Sprintf("attempt limit %d reached", maxAttempts)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE mutations SET attempts = ?, last_error = ?, status = ?, dead_reason = ? WHERE op_id = ?`,
			attempts, errMsg, string(status), reason, opID)
		return err
	})
	return dead, err
}

// RecordTransient notes a failure that says nothing about the mutation
// itself, such as a dropped connection. The attempt count is left alone.
func (s *Store) RecordTransient(ctx context.Context, opID, errMsg string) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE mutations SET last_error = ? WHERE op_id = ? AND status = 'pending'`, errMsg, opID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}

// DeadLetter moves a live mutation to the dead-letter set immediately.
func (s *Store) DeadLetter(ctx context.Context, opID, reason string) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE mutations SET status = 'dead', dead_reason = ?, last_error = ? WHERE op_id = ? AND status = 'pending'`,
			reason, reason, opID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}

// Rebase points a live mutation at a newer remote revision.
func (s *Store) Rebase(ctx context.Context, opID, revision string) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE mutations SET base_revision = ? WHERE op_id = ? AND status = 'pending'`, revision, opID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}

// RequeueDeadLetter gives a dead letter a fresh attempt budget and moves it
// to the tail of the queue.
func (s *Store) RequeueDeadLetter(ctx context.Context, opID string) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE mutations
			SET status = 'pending', attempts = 0, last_error = '', dead_reason = '',
				seq = (SELECT COALESCE(MAX(seq), 0) + 1 FROM mutations)
			WHERE op_id = ? AND status = 'dead'`, opID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}

// PurgeDeadLetter permanently removes a dead letter.
func (s *Store) PurgeDeadLetter(ctx context.Context, opID string) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM mutations WHERE op_id = ? AND status = 'dead'`, opID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}

// Discard removes the mutation, records the discard once, and brings the
// entity's cached page in line with the remote state.
func (s *Store) Discard(ctx context.Context, d domain.Discard, remote *domain.EntityState) error {
	if d.RecordedAt.IsZero() {
		d.RecordedAt = s.now()
	}
	return s.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO discards (op_id, entity_type, entity_key, kind, reason, local_time, remote_revision, remote_time, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(op_id) DO NOTHING`,
			d.OpID, d.EntityType, d.EntityKey, string(d.Kind), d.Reason,
			nanos(d.LocalTime), d.RemoteRevision, nanos(d.RemoteTime), nanos(d.RecordedAt))
		if err != nil {
			return fmt.Errorf("record discard %s: %w", d.OpID, err)
		}
		if err := deleteMutation(ctx, tx, d.OpID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if remote == nil {
			return nil
		}
		return s.applyEntity(ctx, tx, *remote)
	})
}

// ListDiscards returns the discard record, oldest first.
func (s *Store) ListDiscards(ctx context.Context) ([]domain.Discard, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT op_id, entity_type, entity_key, kind, reason, local_time, remote_revision, remote_time, recorded_at
		FROM discards ORDER BY recorded_at ASC, op_id ASC`)
	if err != nil {
		return nil, s.classify(err)
	}
	defer rows.Close()

	var out []domain.Discard
	for rows.Next() {
		var d domain.Discard
		var kind string
		var local, remote, recorded int64
		if err := rows.Scan(&d.OpID, &d.EntityType, &d.EntityKey, &kind, &d.Reason, &local, &d.RemoteRevision, &remote, &recorded); err != nil {
			return nil, err
		}
		d.Kind = domain.OpKind(kind)
		d.LocalTime, d.RemoteTime, d.RecordedAt = fromNanos(local), fromNanos(remote), fromNanos(recorded)
		out = append(out, d)
	}
	return out, rows.Err()
}
