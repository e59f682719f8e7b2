package app

import (
	"context"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/maintrack/offsync/internal/adapters/sqlite"
	"github.com/maintrack/offsync/internal/domain"
	"github.com/maintrack/offsync/internal/ports"
)

// mockLogger implements ports.Logger for testing.
type mockLogger struct{}

func (mockLogger) Debug(msg string, fields ...ports.Field) {}
func (mockLogger) Info(msg string, fields ...ports.Field)  {}
func (mockLogger) Warn(msg string, fields ...ports.Field)  {}
func (mockLogger) Error(msg string, fields ...ports.Field) {}

// fakeRemote is an in-memory system of record with revision-checked
// writes, operation-id dedup and a per-collection change log.
type fakeRemote struct {
	mu       sync.Mutex
	rev      int64
	entities map[domain.EntityRef]domain.EntityState
	log      []domain.Change
	seen     map[string]bool

	applied []string // op ids in apply order
	pushes  []string // every push attempt

	// failPush, when set, is consulted before a push is handled.
	failPush func(m domain.Mutation, attempt int) error
	// applyThenFail applies the mutation and then loses the response.
	applyThenFail map[string]int
	reject        map[string]string
	attempts      map[string]int
	onPush        func(m domain.Mutation)
	// serverClock, when set, stamps applied writes instead of the
	// mutation's local time.
	serverClock func() time.Time
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		entities:      make(map[domain.EntityRef]domain.EntityState),
		seen:          make(map[string]bool),
		applyThenFail: make(map[string]int),
		reject:        make(map[string]string),
		attempts:      make(map[string]int),
	}
}

func (r *fakeRemote) Probe(ctx context.Context) error { return nil }

// seed writes a remote-side edit.
func (r *fakeRemote) seed(typ, key, body string, at time.Time, deleted bool) domain.EntityState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.write(typ, key, []byte(body), at, deleted)
}

func (r *fakeRemote) write(typ, key string, body []byte, at time.Time, deleted bool) domain.EntityState {
	r.rev++
	st := domain.EntityState{
		EntityType: typ,
		EntityKey:  key,
		Revision:   strconv.FormatInt(r.rev, 10),
		UpdatedAt:  at,
		Deleted:    deleted,
	}
	if !deleted {
		st.Body = body
	}
	r.entities[st.Ref()] = st
	r.log = append(r.log, st)
	return st
}

func (r *fakeRemote) Push(ctx context.Context, m domain.Mutation) (ports.PushResult, error) {
	r.mu.Lock()
	onPush := r.onPush
	r.mu.Unlock()
	if onPush != nil {
		onPush(m)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushes = append(r.pushes, m.OpID)
	r.attempts[m.OpID]++
	if r.failPush != nil {
		if err := r.failPush(m, r.attempts[m.OpID]); err != nil {
			return ports.PushResult{}, err
		}
	}
	if r.seen[m.OpID] {
		return ports.PushResult{Outcome: ports.AlreadyApplied}, nil
	}
	if reason, ok := r.reject[m.EntityKey]; ok {
		return ports.PushResult{Outcome: ports.Rejected, Reason: reason}, nil
	}
	if cur, ok := r.entities[m.Ref()]; ok && cur.Revision != m.BaseRevision {
		c := cur
		return ports.PushResult{Outcome: ports.Conflict, Current: &c}, nil
	}

	at := m.LocalTime
	if r.serverClock != nil {
		at = r.serverClock()
	}
	st := r.write(m.EntityType, m.EntityKey, m.Payload, at, m.Kind == domain.OpDelete)
	r.seen[m.OpID] = true
	r.applied = append(r.applied, m.OpID)

	if n := r.applyThenFail[m.OpID]; n > 0 {
		r.applyThenFail[m.OpID] = n - 1
		return ports.PushResult{}, &domain.TransientError{Op: "push", Err: context.DeadlineExceeded}
	}
	return ports.PushResult{Outcome: ports.Applied, Revision: st.Revision}, nil
}

func (r *fakeRemote) Pull(ctx context.Context, collection string, since int64, limit int) (ports.PullResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Change
	next := since
	hasMore := false
	for _, ch := range r.log {
		rev, _ := strconv.ParseInt(ch.Revision, 10, 64)
		if ch.EntityType != collection || rev <= since {
			continue
		}
		if len(out) == limit {
			hasMore = true
			break
		}
		out = append(out, ch)
		next = rev
	}
	return ports.PullResult{Changes: out, NextCursor: next, HasMore: hasMore}, nil
}

func (r *fakeRemote) Applied() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.applied...)
}

func (r *fakeRemote) Pushes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.pushes...)
}

func (r *fakeRemote) Entity(typ, key string) (domain.EntityState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.entities[domain.EntityRef{Type: typ, Key: key}]
	return st, ok
}

// recordingEvents implements EngineEvents.
type recordingEvents struct {
	mu        sync.Mutex
	phases    []Phase
	applied   []string
	conflicts []Action
	dead      map[string]string
	pulls     map[string]int64
	errors    int
}

func newRecordingEvents() *recordingEvents {
	return &recordingEvents{dead: make(map[string]string), pulls: make(map[string]int64)}
}

func (e *recordingEvents) OnPhaseChange(_, cur Phase) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.phases = append(e.phases, cur)
}

func (e *recordingEvents) OnMutationApplied(m domain.Mutation, _ ports.PushOutcome) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applied = append(e.applied, m.OpID)
}

func (e *recordingEvents) OnConflictResolved(_ domain.Mutation, res Resolution) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conflicts = append(e.conflicts, res.Action)
}

func (e *recordingEvents) OnDeadLettered(m domain.Mutation, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dead[m.OpID] = reason
}

func (e *recordingEvents) OnPullApplied(collection string, _ int, cursor int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pulls[collection] = cursor
}

func (e *recordingEvents) OnSyncError(error, time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errors++
}

type engineFixture struct {
	path    string
	store   *sqlite.Store
	remote  *fakeRemote
	prober  *fakeProber
	monitor *Monitor
	queue   *WriteQueue
	engine  *Engine
	events  *recordingEvents
}

func newEngineFixture(t *testing.T, maxAttempts int) *engineFixture {
	t.Helper()
	f := &engineFixture{
		path:   filepath.Join(t.TempDir(), sqlite.FileName),
		remote: newFakeRemote(),
	}
	f.open(t, maxAttempts)
	return f
}

// open (re)opens the store and rebuilds every component on top of it, as
// a process restart would.
func (f *engineFixture) open(t *testing.T, maxAttempts int) {
	t.Helper()
	store, err := sqlite.Open(sqlite.DefaultConfig(f.path))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	f.store = store
	f.prober = &fakeProber{clock: clock}
	f.monitor = NewMonitor(f.prober, DefaultMonitorConfig(), &mockLogger{})
	f.monitor.now = clock.Now
	f.queue = NewWriteQueue(store, maxAttempts, &mockLogger{})
	f.events = newRecordingEvents()
	f.engine = NewEngine(EngineConfig{
		Collections:    []string{"work_order", "asset"},
		PullLimit:      2,
		BackoffInitial: time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
	}, f.remote, store, f.queue, f.monitor, &mockLogger{}, f.events)
}

func (f *engineFixture) enqueue(t *testing.T, key string, kind domain.OpKind, body, base string, at time.Time) string {
	t.Helper()
	id, err := f.queue.Enqueue(context.Background(), domain.Mutation{
		EntityType:   "work_order",
		EntityKey:    key,
		Kind:         kind,
		Payload:      []byte(body),
		BaseRevision: base,
		LocalTime:    at,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return id
}

func (f *engineFixture) pending(t *testing.T) []string {
	t.Helper()
	ms, err := f.queue.Pending(context.Background())
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	ids := make([]string, len(ms))
	for i, m := range ms {
		ids[i] = m.OpID
	}
	return ids
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
