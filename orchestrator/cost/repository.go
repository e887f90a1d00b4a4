// Copyright 2026 Meridian Systems
// SPDX-License-Identifier: Apache-2.0

package cost

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrRecordExists is returned when inserting a record whose ID is taken.
var ErrRecordExists = errors.New("cost: usage record already exists")

// Repository persists usage records.
type Repository interface {
	Insert(ctx context.Context, rec UsageRecord) error
	Summarize(ctx context.Context, from, to time.Time) (UsageSummary, error)
	Recent(ctx context.Context, limit int) ([]UsageRecord, error)
}

// InMemoryRepository keeps records in memory. Used in tests and when no
// database is configured.
type InMemoryRepository struct {
	mu      sync.RWMutex
	records map[string]UsageRecord
}

// NewInMemoryRepository returns an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{records: make(map[string]UsageRecord)}
}

func (r *InMemoryRepository) Insert(ctx context.Context, rec UsageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[rec.ID]; exists {
		return ErrRecordExists
	}
	r.records[rec.ID] = rec
	return nil
}

func (r *InMemoryRepository) Summarize(ctx context.Context, from, to time.Time) (UsageSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summary := UsageSummary{WindowStart: from, WindowEnd: to}
	var totalLatency float64
	for _, rec := range r.records {
		if rec.CreatedAt.Before(from) || rec.CreatedAt.After(to) {
			continue
		}
		summary.TotalRequests++
		summary.TotalCostUSD += rec.CostUSD
		totalLatency += rec.LatencyMS
		if rec.CacheHit {
			summary.CacheHits++
		}
	}
	if summary.TotalRequests > 0 {
		summary.AvgLatencyMS = totalLatency / float64(summary.TotalRequests)
	}
	return summary, nil
}

func (r *InMemoryRepository) Recent(ctx context.Context, limit int) ([]UsageRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]UsageRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
