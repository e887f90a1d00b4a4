// Copyright 2026 Meridian Systems
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"sync"
	"time"
)

// StatsCollector accumulates per-request outcomes behind its own lock
// so recording never contends with request execution.
type StatsCollector struct {
	mu           sync.Mutex
	total        int64
	succeeded    int64
	cacheHits    int64
	totalLatency time.Duration
	totalCost    float64
}

// NewStatsCollector returns an empty collector.
func NewStatsCollector() *StatsCollector {
	return &StatsCollector{}
}

// Record accumulates one finished request. Degraded responses count as
// failures for the success rate even though the caller still got an answer.
func (s *StatsCollector) Record(resp Response, cost float64, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	if !resp.Degraded {
		s.succeeded++
	}
	if resp.CacheHit {
		s.cacheHits++
	}
	s.totalLatency += latency
	s.totalCost += cost
}

// Snapshot returns the current aggregates.
func (s *StatsCollector) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		TotalRequests: s.total,
		TotalCost:     s.totalCost,
	}
	if s.total > 0 {
		stats.SuccessRate = float64(s.succeeded) / float64(s.total)
		stats.CacheHitRate = float64(s.cacheHits) / float64(s.total)
		stats.AvgLatencyMS = float64(s.totalLatency.Milliseconds()) / float64(s.total)
		stats.AvgCost = s.totalCost / float64(s.total)
	}
	return stats
}
