// Copyright 2026 Meridian Systems
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"meridian/platform/shared/logger"
)

// Conn is the opaque handle the manager pools. Ping is the generic
// no-arg health probe; Close releases the underlying resource.
type Conn interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Factory creates a fresh connection for a dependency.
type Factory func(ctx context.Context) (Conn, error)

// ConnMetrics is a point-in-time copy of one pooled connection's counters.
type ConnMetrics struct {
	DependencyID string        `json:"dependency_id"`
	CreatedAt    time.Time     `json:"created_at"`
	LastUsedAt   time.Time     `json:"last_used_at"`
	UseCount     int64         `json:"use_count"`
	TimeInUse    time.Duration `json:"time_in_use"`
}

// pooledConn is the manager-owned record for one live connection.
// At most one exists per dependency id at a time.
type pooledConn struct {
	handle     Conn
	createdAt  time.Time
	lastUsedAt time.Time
	useCount   int64
	timeInUse  time.Duration
	active     int // in-flight checkouts; sweep skips active conns
}

// ManagerConfig configures connection pooling and per-dependency breakers.
type ManagerConfig struct {
	MaxIdle          time.Duration // idle time before the sweep closes a connection
	SweepInterval    time.Duration // how often the idle sweep runs
	BreakerThreshold int           // consecutive failures before a breaker opens
	BreakerTimeout   time.Duration // cooldown before a half-open probe
}

// DefaultManagerConfig returns the defaults used when fields are zero.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxIdle:          5 * time.Minute,
		SweepInterval:    30 * time.Second,
		BreakerThreshold: 5,
		BreakerTimeout:   30 * time.Second,
	}
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	d := DefaultManagerConfig()
	if c.MaxIdle <= 0 {
		c.MaxIdle = d.MaxIdle
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = d.BreakerThreshold
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = d.BreakerTimeout
	}
	return c
}

// Manager lazily creates, health-checks, and evicts pooled backend
// connections. Creation goes through a per-dependency circuit breaker;
// breakers live for the process lifetime even after their connection is
// swept.
type Manager struct {
	config ManagerConfig
	log    *logger.Logger

	mu            sync.Mutex
	conns         map[string]*pooledConn
	breakers      map[string]*Breaker
	onBreakerOpen func(dependencyID string)

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// NewManager creates a connection manager. Call Start to enable the
// background idle sweep.
func NewManager(config ManagerConfig) *Manager {
	return &Manager{
		config:   config.withDefaults(),
		log:      logger.New("pool"),
		conns:    make(map[string]*pooledConn),
		breakers: make(map[string]*Breaker),
	}
}

// OnBreakerOpen registers a callback fired whenever any dependency's
// breaker transitions to open. It applies to breakers created before and
// after the call.
func (m *Manager) OnBreakerOpen(fn func(dependencyID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onBreakerOpen = fn
	for _, b := range m.breakers {
		b.OnOpen(fn)
	}
}

// Breaker returns the circuit breaker for a dependency id, creating it
// lazily. One breaker guards exactly one id.
func (m *Manager) Breaker(id string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.breakerLocked(id)
}

func (m *Manager) breakerLocked(id string) *Breaker {
	b, ok := m.breakers[id]
	if !ok {
		b = NewBreaker(id, m.config.BreakerThreshold, m.config.BreakerTimeout)
		if m.onBreakerOpen != nil {
			b.OnOpen(m.onBreakerOpen)
		}
		m.breakers[id] = b
	}
	return b
}

// WithConnection runs fn with a live, health-checked connection for the
// dependency id. The whole unit (creation and invocation) runs through
// the id's circuit breaker, so an open circuit fails fast before any
// backend work and failures from either phase feed the same counter.
// A cached handle is pinged before reuse; a failed ping discards it and
// falls through to creation. The connection is checked back in on every
// exit path and its metrics are updated regardless of fn's outcome.
func (m *Manager) WithConnection(ctx context.Context, id string, factory Factory, fn func(ctx context.Context, conn Conn) error) error {
	breaker := m.Breaker(id)

	return breaker.Do(ctx, func(ctx context.Context) error {
		pc, err := m.checkout(ctx, id, factory)
		if err != nil {
			return err
		}

		start := time.Now()
		defer m.checkin(id, pc, start)

		return fn(ctx, pc.handle)
	})
}

// checkout returns the pooled connection for id, reusing a healthy cached
// handle or creating a new one from the factory.
func (m *Manager) checkout(ctx context.Context, id string, factory Factory) (*pooledConn, error) {
	m.mu.Lock()
	pc, exists := m.conns[id]
	if exists {
		pc.active++
	}
	m.mu.Unlock()

	if exists {
		if err := pc.handle.Ping(ctx); err == nil {
			m.touch(pc)
			return pc, nil
		}
		// Stale handle: drop it before falling through to creation.
		m.log.Warn("", "health check failed, discarding connection", map[string]interface{}{
			"dependency_id": id,
		})
		m.discard(ctx, id, pc)
	}

	handle, err := factory(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	fresh := &pooledConn{
		handle:     handle,
		createdAt:  now,
		lastUsedAt: now,
		active:     1,
	}

	m.mu.Lock()
	if existing, ok := m.conns[id]; ok {
		// Another goroutine won the race; use its connection and close ours.
		existing.active++
		m.mu.Unlock()
		_ = handle.Close(ctx)
		m.touch(existing)
		return existing, nil
	}
	m.conns[id] = fresh
	m.mu.Unlock()

	m.log.Debug("", "created connection", map[string]interface{}{"dependency_id": id})
	m.touch(fresh)
	return fresh, nil
}

func (m *Manager) touch(pc *pooledConn) {
	m.mu.Lock()
	pc.useCount++
	pc.lastUsedAt = time.Now()
	m.mu.Unlock()
}

func (m *Manager) checkin(id string, pc *pooledConn, checkedOutAt time.Time) {
	m.mu.Lock()
	pc.active--
	pc.lastUsedAt = time.Now()
	pc.timeInUse += time.Since(checkedOutAt)
	m.mu.Unlock()
}

// discard removes a connection from the pool and closes it. The caller's
// checkout reference is released.
func (m *Manager) discard(ctx context.Context, id string, pc *pooledConn) {
	m.mu.Lock()
	if current, ok := m.conns[id]; ok && current == pc {
		delete(m.conns, id)
	}
	pc.active--
	m.mu.Unlock()
	_ = pc.handle.Close(ctx)
}

// Start launches the periodic idle sweep. It is a single long-lived
// goroutine stopped by Stop, not a self-rescheduling timer chain.
func (m *Manager) Start(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(ctx)
	m.sweepCancel = cancel
	m.sweepDone = make(chan struct{})

	go func() {
		defer close(m.sweepDone)
		ticker := time.NewTicker(m.config.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				m.SweepIdle(sweepCtx)
			}
		}
	}()
}

// Stop halts the idle sweep and closes all pooled connections.
func (m *Manager) Stop(ctx context.Context) {
	if m.sweepCancel != nil {
		m.sweepCancel()
		<-m.sweepDone
	}
	m.CloseAll(ctx)
}

// SweepIdle closes and removes connections idle longer than MaxIdle.
// Connections with in-flight checkouts are skipped. Returns the number
// of connections evicted.
func (m *Manager) SweepIdle(ctx context.Context) int {
	cutoff := time.Now().Add(-m.config.MaxIdle)

	m.mu.Lock()
	var evict []Conn
	for id, pc := range m.conns {
		if pc.active > 0 {
			continue
		}
		if pc.lastUsedAt.Before(cutoff) {
			evict = append(evict, pc.handle)
			delete(m.conns, id)
			m.log.Debug("", "swept idle connection", map[string]interface{}{
				"dependency_id": id,
				"idle_since":    pc.lastUsedAt.Format(time.RFC3339),
			})
		}
	}
	m.mu.Unlock()

	for _, h := range evict {
		_ = h.Close(ctx)
	}
	return len(evict)
}

// CloseAll closes every pooled connection. Used during shutdown and by
// the resource monitor's memory-pressure reclaim pass.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]*pooledConn)
	m.mu.Unlock()

	for id, pc := range conns {
		if err := pc.handle.Close(ctx); err != nil {
			m.log.Warn("", "error closing connection", map[string]interface{}{
				"dependency_id": id,
				"error":         err.Error(),
			})
		}
	}
}

// Metrics returns a snapshot of per-connection metrics keyed by
// dependency id.
func (m *Manager) Metrics() map[string]ConnMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]ConnMetrics, len(m.conns))
	for id, pc := range m.conns {
		out[id] = ConnMetrics{
			DependencyID: id,
			CreatedAt:    pc.createdAt,
			LastUsedAt:   pc.lastUsedAt,
			UseCount:     pc.useCount,
			TimeInUse:    pc.timeInUse,
		}
	}
	return out
}

// BreakerStates returns the state of every breaker keyed by dependency id.
func (m *Manager) BreakerStates() map[string]BreakerState {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]BreakerState, len(m.breakers))
	for id, b := range m.breakers {
		out[id] = b.State()
	}
	return out
}

// ActiveConnections returns the number of live pooled connections.
func (m *Manager) ActiveConnections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// String implements fmt.Stringer for diagnostics.
func (m *Manager) String() string {
	return fmt.Sprintf("pool.Manager{connections: %d}", m.ActiveConnections())
}
