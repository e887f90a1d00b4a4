// Copyright 2026 Meridian Systems
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"meridian/platform/shared/logger"
)

const historyLimit = 100

// ResourceSnapshot is one sampled view of process resource usage.
type ResourceSnapshot struct {
	Timestamp         time.Time `json:"timestamp"`
	MemoryMB          float64   `json:"memory_mb"`
	CPUPercent        float64   `json:"cpu_percent"`
	GoroutineCount    int       `json:"goroutine_count"`
	ActiveConnections int       `json:"active_connections"`
}

// ResourceLimits are the thresholds that trigger violation callbacks.
// A zero field disables that check.
type ResourceLimits struct {
	MemoryMB       float64
	CPUPercent     float64
	GoroutineLimit int
}

// Violation names the limit a snapshot exceeded.
type Violation string

const (
	ViolationMemory    Violation = "memory"
	ViolationCPU       Violation = "cpu"
	ViolationGoroutine Violation = "goroutines"
)

// ViolationFunc is invoked once per violating sample, per violated
// limit. Callbacks run on the monitor goroutine and must not block.
type ViolationFunc func(v Violation, snap ResourceSnapshot)

// Monitor samples process resource usage on a fixed interval, keeps a
// bounded history, and fires callbacks when limits are exceeded. CPU
// percent is derived from process CPU time deltas between samples and
// is indicative, not an OS-scheduler-accurate figure.
type Monitor struct {
	limits   ResourceLimits
	interval time.Duration
	log      *logger.Logger

	mu        sync.Mutex
	history   []ResourceSnapshot
	callbacks []ViolationFunc
	sample    func() ResourceSnapshot
	connCount func() int

	lastCPUTime time.Duration
	lastSample  time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a monitor; Start must be called to begin sampling.
func NewMonitor(limits ResourceLimits, interval time.Duration, log *logger.Logger) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	m := &Monitor{
		limits:   limits,
		interval: interval,
		log:      log,
	}
	m.sample = m.readSnapshot
	return m
}

// TrackConnections registers the source of the active-connection count
// included in each snapshot. Without one the count stays zero.
func (m *Monitor) TrackConnections(fn func() int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connCount = fn
}

// OnViolation registers a callback fired for every limit a sample exceeds.
func (m *Monitor) OnViolation(fn ViolationFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// Start launches the sampling loop. Calling Start twice is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	done := m.done
	go func() {
		defer close(done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sample()
			}
		}
	}()
}

// Stop halts the sampling loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// Sample takes one snapshot, records it, and fires any violation
// callbacks. It is also called by the background loop.
func (m *Monitor) Sample() ResourceSnapshot {
	m.mu.Lock()
	snap := m.sample()
	m.history = append(m.history, snap)
	if len(m.history) > historyLimit {
		m.history = m.history[len(m.history)-historyLimit:]
	}
	callbacks := make([]ViolationFunc, len(m.callbacks))
	copy(callbacks, m.callbacks)
	limits := m.limits
	m.mu.Unlock()

	for _, v := range violations(snap, limits) {
		if m.log != nil {
			m.log.Warn("", "resource limit exceeded", map[string]interface{}{
				"violation":   string(v),
				"memory_mb":   snap.MemoryMB,
				"cpu_pct":     snap.CPUPercent,
				"goroutines":  snap.GoroutineCount,
				"connections": snap.ActiveConnections,
			})
		}
		for _, fn := range callbacks {
			fn(v, snap)
		}
	}
	return snap
}

// Inject replaces the sampling function. Test hook.
func (m *Monitor) Inject(sample func() ResourceSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sample = sample
}

// Latest returns the most recent snapshot, or nil before the first sample.
func (m *Monitor) Latest() *ResourceSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return nil
	}
	snap := m.history[len(m.history)-1]
	return &snap
}

// History returns a copy of the retained snapshots, oldest first.
func (m *Monitor) History() []ResourceSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ResourceSnapshot, len(m.history))
	copy(out, m.history)
	return out
}

func violations(snap ResourceSnapshot, limits ResourceLimits) []Violation {
	var out []Violation
	if limits.MemoryMB > 0 && snap.MemoryMB > limits.MemoryMB {
		out = append(out, ViolationMemory)
	}
	if limits.CPUPercent > 0 && snap.CPUPercent > limits.CPUPercent {
		out = append(out, ViolationCPU)
	}
	if limits.GoroutineLimit > 0 && snap.GoroutineCount > limits.GoroutineLimit {
		out = append(out, ViolationGoroutine)
	}
	return out
}

// readSnapshot is the production sampler. Caller holds m.mu.
func (m *Monitor) readSnapshot() ResourceSnapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	now := time.Now()
	cpuTime := processCPUTime()
	var cpuPct float64
	if !m.lastSample.IsZero() {
		wall := now.Sub(m.lastSample)
		if wall > 0 {
			cpuPct = float64(cpuTime-m.lastCPUTime) / float64(wall) * 100
		}
	}
	m.lastCPUTime = cpuTime
	m.lastSample = now

	conns := 0
	if m.connCount != nil {
		conns = m.connCount()
	}

	return ResourceSnapshot{
		Timestamp:         now,
		MemoryMB:          float64(mem.HeapAlloc) / (1024 * 1024),
		CPUPercent:        cpuPct,
		GoroutineCount:    runtime.NumGoroutine(),
		ActiveConnections: conns,
	}
}

// processCPUTime returns combined user and system CPU time for the
// process, or zero if the kernel call fails.
func processCPUTime() time.Duration {
	var usage unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &usage); err != nil {
		return 0
	}
	user := time.Duration(usage.Utime.Sec)*time.Second + time.Duration(usage.Utime.Usec)*time.Microsecond
	sys := time.Duration(usage.Stime.Sec)*time.Second + time.Duration(usage.Stime.Usec)*time.Microsecond
	return user + sys
}
