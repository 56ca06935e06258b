package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the client-observed session state.
type State int

const (
	StateExpired State = iota
	StateHealthy
	StateNearExpiration
)

func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateNearExpiration:
		return "near_expiration"
	default:
		return "expired"
	}
}

// NextState maps a health snapshot to a monitor state. Pure; transition
// side effects live in the monitor loop.
func NextState(snap Snapshot) State {
	switch {
	case !snap.SessionExists || !snap.Healthy:
		return StateExpired
	case snap.NearExpiration:
		return StateNearExpiration
	default:
		return StateHealthy
	}
}

// Fetch obtains a fresh health snapshot, typically over HTTP.
type Fetch func(ctx context.Context) (Snapshot, error)

// Callbacks fire on state transitions. Each is a function of the snapshot
// that caused the transition and fires at most once per episode: redundant
// checks in the same state produce no additional side effects.
type Callbacks struct {
	OnHealthy        func(Snapshot)
	OnNearExpiration func(Snapshot)
	OnExpired        func(Snapshot)
}

const (
	defaultSlowInterval = 5 * time.Minute
	defaultFastInterval = 30 * time.Second
)

// Monitor is the cooperative client-side keepalive loop. One goroutine owns
// all state; checks never overlap, and redundant pokes coalesce while a
// check is already pending.
type Monitor struct {
	fetch Fetch
	cb    Callbacks

	slow time.Duration
	fast time.Duration

	poke chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
	state   State
}

// MonitorOption configures Monitor behavior.
type MonitorOption func(*Monitor)

// WithIntervals overrides the slow (Healthy) and fast (NearExpiration) poll
// intervals.
func WithIntervals(slow, fast time.Duration) MonitorOption {
	return func(m *Monitor) {
		if slow > 0 {
			m.slow = slow
		}
		if fast > 0 {
			m.fast = fast
		}
	}
}

// NewMonitor constructs a stopped monitor.
func NewMonitor(fetch Fetch, cb Callbacks, opts ...MonitorOption) (*Monitor, error) {
	if fetch == nil {
		return nil, errors.New("session: fetch function is required")
	}
	m := &Monitor{
		fetch: fetch,
		cb:    cb,
		slow:  defaultSlowInterval,
		fast:  defaultFastInterval,
		poke:  make(chan struct{}, 1),
		state: StateHealthy,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Start launches the loop. Starting a running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.stopped = make(chan struct{})
	go m.run(ctx)
}

// Stop cancels the loop and releases its timer. Idempotent; returns once the
// loop has exited.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	stopped := m.stopped
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

// Poke requests an immediate check, used on user activity or tab focus.
// Non-blocking; pokes arriving while a check is pending coalesce into one.
func (m *Monitor) Poke() {
	select {
	case m.poke <- struct{}{}:
	default:
	}
}

// State returns the last observed state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.stopped)

	m.check(ctx)
	timer := time.NewTimer(m.interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-m.poke:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
		m.check(ctx)
		timer.Reset(m.interval())
	}
}

func (m *Monitor) check(ctx context.Context) {
	snap, err := m.fetch(ctx)
	if err != nil {
		// Transient fetch failure: keep the current state rather than
		// falsely reporting expiry.
		return
	}
	next := NextState(snap)

	m.mu.Lock()
	prev := m.state
	m.state = next
	m.mu.Unlock()

	if next == prev {
		return
	}
	switch next {
	case StateHealthy:
		if m.cb.OnHealthy != nil {
			m.cb.OnHealthy(snap)
		}
	case StateNearExpiration:
		if m.cb.OnNearExpiration != nil {
			m.cb.OnNearExpiration(snap)
		}
	case StateExpired:
		if m.cb.OnExpired != nil {
			m.cb.OnExpired(snap)
		}
	}
}

func (m *Monitor) interval() time.Duration {
	if m.State() == StateNearExpiration {
		return m.fast
	}
	return m.slow
}
