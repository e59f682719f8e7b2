package app

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maintrack/offsync/internal/domain"
	"github.com/maintrack/offsync/internal/ports"
)

// Default monitor configuration values.
const (
	DefaultProbeTimeout     = 5 * time.Second
	DefaultOnlineInterval   = 60 * time.Second
	DefaultOfflineInterval  = 15 * time.Second
	DefaultSlowThreshold    = 2 * time.Second
	DefaultSubscriberBuffer = 16
)

// Prober performs a reachability check against the remote.
type Prober interface {
	Probe(ctx context.Context) error
}

// MonitorConfig configures the connectivity monitor.
type MonitorConfig struct {
	ProbeTimeout    time.Duration
	OnlineInterval  time.Duration
	OfflineInterval time.Duration
	SlowThreshold   time.Duration

	// DegradedAfter and OfflineAfter are consecutive-failure counts.
	DegradedAfter int
	OfflineAfter  int

	// SubscriberBuffer bounds each subscriber's backlog.
	SubscriberBuffer int
}

// DefaultMonitorConfig returns the default monitor configuration.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		ProbeTimeout:     DefaultProbeTimeout,
		OnlineInterval:   DefaultOnlineInterval,
		OfflineInterval:  DefaultOfflineInterval,
		SlowThreshold:    DefaultSlowThreshold,
		DegradedAfter:    2,
		OfflineAfter:     3,
		SubscriberBuffer: DefaultSubscriberBuffer,
	}
}

func (c *MonitorConfig) applyDefaults() {
	d := DefaultMonitorConfig()
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	if c.OnlineInterval <= 0 {
		c.OnlineInterval = d.OnlineInterval
	}
	if c.OfflineInterval <= 0 {
		c.OfflineInterval = d.OfflineInterval
	}
	if c.SlowThreshold <= 0 {
		c.SlowThreshold = d.SlowThreshold
	}
	if c.DegradedAfter <= 0 {
		c.DegradedAfter = d.DegradedAfter
	}
	if c.OfflineAfter < c.DegradedAfter {
		c.OfflineAfter = max(d.OfflineAfter, c.DegradedAfter)
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = d.SubscriberBuffer
	}
}

// Monitor tracks reachability of the remote service.
// It starts Offline; the state is written only by Probe.
type Monitor struct {
	prober Prober
	cfg    MonitorConfig
	logger ports.Logger
	now    func() time.Time

	state atomic.Int32

	probeMu  sync.Mutex
	failures int

	subsMu sync.Mutex
	subs   map[*subscriber]struct{}
}

// NewMonitor creates a monitor in the Offline state.
func NewMonitor(prober Prober, cfg MonitorConfig, logger ports.Logger) *Monitor {
	cfg.applyDefaults()
	m := &Monitor{
		prober: prober,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		subs:   make(map[*subscriber]struct{}),
	}
	m.state.Store(int32(domain.Offline))
	return m
}

// State returns the last-known connectivity state without blocking.
func (m *Monitor) State() domain.ConnectivityState {
	return domain.ConnectivityState(m.state.Load())
}

// Probe runs one reachability check and returns the resulting state.
// Probe failures only change the state; they are never returned.
func (m *Monitor) Probe(ctx context.Context) domain.ConnectivityState {
	m.probeMu.Lock()
	defer m.probeMu.Unlock()

	pctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	start := m.now()
	err := m.prober.Probe(pctx)
	elapsed := m.now().Sub(start)
	cancel()

	cur := m.State()
	if ctx.Err() != nil {
		// Our own shutdown says nothing about the remote.
		return cur
	}

	next, reason := cur, ""
	if err != nil {
		m.failures++
		reason = err.Error()
		switch {
		case m.failures >= m.cfg.OfflineAfter:
			next = domain.Offline
		case m.failures >= m.cfg.DegradedAfter && cur == domain.Online:
			next = domain.Degraded
		}
		m.logger.Debug("probe failed",
			ports.Err(err),
			ports.Int("consecutive_failures", m.failures),
		)
	} else {
		m.failures = 0
		next = domain.Online
		if elapsed > m.cfg.SlowThreshold && cur != domain.Offline {
			next = domain.Degraded
			reason = "slow probe: " + elapsed.String()
		}
	}

	if next != cur {
		m.state.Store(int32(next))
		tr := domain.Transition{From: cur, To: next, At: m.now(), Reason: reason}
		m.logger.Info("connectivity changed",
			ports.String("from", cur.String()),
			ports.String("to", next.String()),
			ports.String("reason", reason),
		)
		m.publish(tr)
	}
	return next
}

// Run probes immediately, then on an interval that depends on the state,
// until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		state := m.Probe(ctx)
		interval := m.cfg.OfflineInterval
		if state == domain.Online {
			interval = m.cfg.OnlineInterval
		}
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Subscribe returns an endless sequence of state transitions. Each range
// over it registers a fresh subscriber that lives until the loop breaks or
// ctx is done. A slow consumer loses its oldest undelivered transitions.
// Subscribing never triggers a probe.
func (m *Monitor) Subscribe(ctx context.Context) iter.Seq[domain.Transition] {
	return func(yield func(domain.Transition) bool) {
		sub := newSubscriber(m.cfg.SubscriberBuffer)
		m.subsMu.Lock()
		m.subs[sub] = struct{}{}
		m.subsMu.Unlock()
		defer func() {
			m.subsMu.Lock()
			delete(m.subs, sub)
			m.subsMu.Unlock()
		}()

		last, delivered := domain.ConnectivityState(0), false
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.notify:
			}
			for _, tr := range sub.drain() {
				if delivered && tr.To == last {
					continue
				}
				if !yield(tr) {
					return
				}
				last, delivered = tr.To, true
			}
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (m *Monitor) Subscribers() int {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	return len(m.subs)
}

func (m *Monitor) publish(tr domain.Transition) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for sub := range m.subs {
		sub.push(tr)
	}
}

// subscriber is a bounded drop-oldest mailbox.
type subscriber struct {
	mu     sync.Mutex
	buf    []domain.Transition
	limit  int
	notify chan struct{}
}

func newSubscriber(limit int) *subscriber {
	return &subscriber{limit: limit, notify: make(chan struct{}, 1)}
}

func (s *subscriber) push(tr domain.Transition) {
	s.mu.Lock()
	if len(s.buf) >= s.limit {
		s.buf = s.buf[1:]
	}
	s.buf = append(s.buf, tr)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscriber) drain() []domain.Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.buf
	s.buf = nil
	return out
}
