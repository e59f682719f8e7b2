package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/maintrack/offsync/internal/domain"
)

// fakeClock is advanced by fakeProber to simulate probe latency.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeProber struct {
	mu    sync.Mutex
	clock *fakeClock
	err   error
	delay time.Duration
	calls int
}

func (p *fakeProber) Probe(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.clock != nil {
		p.clock.Advance(p.delay)
	}
	return p.err
}

func (p *fakeProber) set(err error, delay time.Duration) {
	p.mu.Lock()
	p.err, p.delay = err, delay
	p.mu.Unlock()
}

func (p *fakeProber) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func newTestMonitor() (*Monitor, *fakeProber) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	p := &fakeProber{clock: clock}
	m := NewMonitor(p, DefaultMonitorConfig(), &mockLogger{})
	m.now = clock.Now
	return m, p
}

var errUnreachable = errors.New("dial tcp: connection refused")

func TestMonitor_InitialState(t *testing.T) {
	m, _ := newTestMonitor()
	if m.State() != domain.Offline {
		t.Fatalf("initial state = %v, want OFFLINE", m.State())
	}
}

func TestMonitor_Rules(t *testing.T) {
	type step struct {
		err   error
		delay time.Duration
		want  domain.ConnectivityState
	}
	slow := 3 * time.Second
	tests := []struct {
		name  string
		steps []step
	}{
		{"success goes online", []step{
			{nil, 0, domain.Online},
		}},
		{"failure streak from online", []step{
			{nil, 0, domain.Online},
			{errUnreachable, 0, domain.Online},
			{errUnreachable, 0, domain.Degraded},
			{errUnreachable, 0, domain.Offline},
		}},
		{"single failure is absorbed", []step{
			{nil, 0, domain.Online},
			{errUnreachable, 0, domain.Online},
			{nil, 0, domain.Online},
			{errUnreachable, 0, domain.Online},
		}},
		{"slow success from online degrades", []step{
			{nil, 0, domain.Online},
			{nil, slow, domain.Degraded},
			{nil, 0, domain.Online},
		}},
		{"slow success from offline goes online", []step{
			{nil, slow, domain.Online},
		}},
		{"degraded recovers on success", []step{
			{nil, 0, domain.Online},
			{errUnreachable, 0, domain.Online},
			{errUnreachable, 0, domain.Degraded},
			{nil, 0, domain.Online},
		}},
		{"slow success while degraded stays degraded", []step{
			{nil, 0, domain.Online},
			{nil, slow, domain.Degraded},
			{nil, slow, domain.Degraded},
		}},
		{"offline stays offline on failure", []step{
			{errUnreachable, 0, domain.Offline},
			{errUnreachable, 0, domain.Offline},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, p := newTestMonitor()
			for i, s := range tt.steps {
				p.set(s.err, s.delay)
				if got := m.Probe(context.Background()); got != s.want {
					t.Fatalf("step %d: Probe() = %v, want %v", i, got, s.want)
				}
				if m.State() != s.want {
					t.Fatalf("step %d: State() = %v, want %v", i, m.State(), s.want)
				}
			}
		})
	}
}

func TestMonitor_CanceledProbeDoesNotCount(t *testing.T) {
	m, p := newTestMonitor()
	m.Probe(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.set(errUnreachable, 0)
	for i := 0; i < 5; i++ {
		m.Probe(ctx)
	}
	if m.State() != domain.Online {
		t.Fatalf("state = %v after canceled probes, want ONLINE", m.State())
	}
}

func TestMonitor_Subscribe(t *testing.T) {
	m, p := newTestMonitor()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan domain.Transition, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for tr := range m.Subscribe(ctx) {
			got <- tr
			if tr.To == domain.Offline {
				return
			}
		}
	}()
	waitFor(t, func() bool { return m.Subscribers() == 1 })
	if p.Calls() != 0 {
		t.Fatalf("subscribing triggered %d probes", p.Calls())
	}

	m.Probe(ctx) // Offline -> Online
	p.set(errUnreachable, 0)
	m.Probe(ctx)
	m.Probe(ctx) // -> Degraded
	m.Probe(ctx) // -> Offline
	<-done

	want := []struct{ from, to domain.ConnectivityState }{
		{domain.Offline, domain.Online},
		{domain.Online, domain.Degraded},
		{domain.Degraded, domain.Offline},
	}
	for i, w := range want {
		tr := <-got
		if tr.From != w.from || tr.To != w.to {
			t.Fatalf("transition %d = %v->%v, want %v->%v", i, tr.From, tr.To, w.from, w.to)
		}
	}
	waitFor(t, func() bool { return m.Subscribers() == 0 })

	// The sequence can be ranged again.
	again := make(chan domain.Transition, 1)
	go func() {
		for tr := range m.Subscribe(ctx) {
			again <- tr
			return
		}
	}()
	waitFor(t, func() bool { return m.Subscribers() == 1 })
	p.set(nil, 0)
	m.Probe(ctx)
	select {
	case tr := <-again:
		if tr.To != domain.Online {
			t.Fatalf("restarted subscription got %v", tr.To)
		}
	case <-ctx.Done():
		t.Fatal("restarted subscription received nothing")
	}
}

func TestMonitor_SubscribeEndsWithContext(t *testing.T) {
	m, _ := newTestMonitor()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		for range m.Subscribe(ctx) {
		}
		close(done)
	}()
	waitFor(t, func() bool { return m.Subscribers() == 1 })
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("subscription did not end after cancel")
	}
}

func TestSubscriber_DropsOldest(t *testing.T) {
	s := newSubscriber(2)
	for _, to := range []domain.ConnectivityState{domain.Online, domain.Degraded, domain.Offline} {
		s.push(domain.Transition{To: to})
	}
	got := s.drain()
	if len(got) != 2 || got[0].To != domain.Degraded || got[1].To != domain.Offline {
		t.Fatalf("drain() = %+v, want the two newest", got)
	}
	if len(s.drain()) != 0 {
		t.Fatal("second drain not empty")
	}
}

func TestMonitor_SkipsConsecutiveDuplicates(t *testing.T) {
	m, _ := newTestMonitor()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Register a subscriber whose buffer already holds a duplicate target.
	got := make(chan domain.Transition, 4)
	go func() {
		for tr := range m.Subscribe(ctx) {
			got <- tr
		}
	}()
	waitFor(t, func() bool { return m.Subscribers() == 1 })
	m.publish(domain.Transition{From: domain.Offline, To: domain.Online})
	m.publish(domain.Transition{From: domain.Degraded, To: domain.Online})
	m.publish(domain.Transition{From: domain.Online, To: domain.Offline})

	first := <-got
	second := <-got
	if first.To != domain.Online || second.To != domain.Offline {
		t.Fatalf("got %v then %v, want ONLINE then OFFLINE", first.To, second.To)
	}
}

func TestMonitor_RunProbesImmediately(t *testing.T) {
	m, p := newTestMonitor()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- m.Run(ctx) }()

	waitFor(t, func() bool { return m.State() == domain.Online })
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v", err)
	}
	if p.Calls() != 1 {
		t.Errorf("probe calls = %d, want 1", p.Calls())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}
