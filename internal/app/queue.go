package app

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/maintrack/offsync/internal/domain"
	"github.com/maintrack/offsync/internal/ports"
)

// DefaultMaxAttempts is the attempt cap before a mutation is dead-lettered.
const DefaultMaxAttempts = 10

// WriteQueue is the engine's view of the durable mutation log: arrival
// order, per-key FIFO and the attempt cap.
type WriteQueue struct {
	log         ports.MutationLog
	logger      ports.Logger
	maxAttempts atomic.Int64
}

// NewWriteQueue creates a queue over log.
func NewWriteQueue(log ports.MutationLog, maxAttempts int, logger ports.Logger) *WriteQueue {
	q := &WriteQueue{log: log, logger: logger}
	q.SetMaxAttempts(maxAttempts)
	return q
}

// SetMaxAttempts changes the attempt cap; <= 0 restores the default.
func (q *WriteQueue) SetMaxAttempts(n int) {
	if n <= 0 {
		n = DefaultMaxAttempts
	}
	q.maxAttempts.Store(int64(n))
}

// MaxAttempts returns the attempt cap.
func (q *WriteQueue) MaxAttempts() int { return int(q.maxAttempts.Load()) }

// Enqueue durably appends m and returns its operation id.
func (q *WriteQueue) Enqueue(ctx context.Context, m domain.Mutation) (string, error) {
	id, err := q.log.Enqueue(ctx, m)
	if err != nil {
		return "", err
	}
	q.logger.Debug("mutation enqueued",
		ports.String("op_id", id),
		ports.String("entity", m.Ref().String()),
		ports.String("kind", string(m.Kind)),
	)
	return id, nil
}

// Pending returns live mutations in arrival order.
func (q *WriteQueue) Pending(ctx context.Context) ([]domain.Mutation, error) {
	return q.log.ListPending(ctx)
}

// Begin snapshots the pending mutations for one push pass.
func (q *WriteQueue) Begin(ctx context.Context) (*Pass, error) {
	items, err := q.log.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return &Pass{items: items, blocked: make(map[domain.EntityRef]bool)}, nil
}

// Ack removes an accepted mutation.
func (q *WriteQueue) Ack(ctx context.Context, opID string) error {
	return q.log.Ack(ctx, opID)
}

// Applied removes an accepted mutation. When the remote reported the new
// revision, later edits of the same entity are moved onto it so they do
// not conflict with this device's own write.
func (q *WriteQueue) Applied(ctx context.Context, m domain.Mutation, revision string) error {
	n, err := q.log.AckApplied(ctx, m.OpID, revision)
	if err != nil {
		return err
	}
	if n > 0 {
		q.logger.Debug("followers rebased",
			ports.String("entity", m.Ref().String()),
			ports.String("revision", revision),
			ports.Int("count", n),
		)
	}
	return nil
}

// Defer records a transient failure. It does not use up an attempt.
func (q *WriteQueue) Defer(ctx context.Context, m domain.Mutation, cause error) error {
	return q.log.RecordTransient(ctx, m.OpID, cause.Error())
}

// Fail records a failed attempt. It reports whether the mutation reached
// the attempt cap and was dead-lettered.
func (q *WriteQueue) Fail(ctx context.Context, m domain.Mutation, cause error) (bool, error) {
	dead, err := q.log.MarkFailed(ctx, m.OpID, cause.Error(), q.MaxAttempts())
	if err != nil {
		return false, err
	}
	if dead {
		q.logger.Warn("mutation dead-lettered",
			ports.String("op_id", m.OpID),
			ports.String("entity", m.Ref().String()),
			ports.Int("attempts", m.Attempts+1),
			ports.Err(cause),
		)
	}
	return dead, nil
}

// Reject dead-letters a mutation the remote refused.
func (q *WriteQueue) Reject(ctx context.Context, m domain.Mutation, reason string) error {
	if err := q.log.DeadLetter(ctx, m.OpID, reason); err != nil {
		return err
	}
	q.logger.Warn("mutation rejected",
		ports.String("op_id", m.OpID),
		ports.String("entity", m.Ref().String()),
		ports.String("reason", reason),
	)
	return nil
}

// Rebase points a mutation at a newer remote revision.
func (q *WriteQueue) Rebase(ctx context.Context, opID, revision string) error {
	return q.log.Rebase(ctx, opID, revision)
}

// Discard drops a mutation that lost a conflict.
func (q *WriteQueue) Discard(ctx context.Context, d domain.Discard, remote *domain.EntityState) error {
	return q.log.Discard(ctx, d, remote)
}

// DeadLetters returns the dead-letter set.
func (q *WriteQueue) DeadLetters(ctx context.Context) ([]domain.Mutation, error) {
	return q.log.ListDeadLetters(ctx)
}

// Requeue returns a dead letter to the tail of the queue.
func (q *WriteQueue) Requeue(ctx context.Context, opID string) error {
	return q.log.RequeueDeadLetter(ctx, opID)
}

// Purge deletes a dead letter.
func (q *WriteQueue) Purge(ctx context.Context, opID string) error {
	return q.log.PurgeDeadLetter(ctx, opID)
}

// Discards returns the discard record.
func (q *WriteQueue) Discards(ctx context.Context) ([]domain.Discard, error) {
	return q.log.ListDiscards(ctx)
}

// Pass walks a snapshot of the queue in arrival order. Once a key is
// blocked its remaining mutations are skipped until the next pass; other
// keys keep flowing.
type Pass struct {
	items   []domain.Mutation
	pos     int
	blocked map[domain.EntityRef]bool
}

// Next returns the next mutation whose key is not blocked.
func (p *Pass) Next() (domain.Mutation, bool) {
	for p.pos < len(p.items) {
		m := p.items[p.pos]
		p.pos++
		if p.blocked[m.Ref()] {
			continue
		}
		return m, true
	}
	return domain.Mutation{}, false
}

// Block skips the rest of ref's mutations in this pass.
func (p *Pass) Block(ref domain.EntityRef) {
	p.blocked[ref] = true
}

// Rebase points the not yet visited mutations of ref at revision, matching
// what the store did on ack.
func (p *Pass) Rebase(ref domain.EntityRef, revision string) {
	for i := p.pos; i < len(p.items); i++ {
		if p.items[i].Ref() == ref {
			p.items[i].BaseRevision = revision
		}
	}
}

// Blocked reports whether ref is blocked.
func (p *Pass) Blocked(ref domain.EntityRef) bool {
	return p.blocked[ref]
}

// Len returns the snapshot size.
func (p *Pass) Len() int { return len(p.items) }
