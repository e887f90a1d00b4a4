// Copyright 2026 Meridian Systems
// SPDX-License-Identifier: Apache-2.0

package cost

import "time"

// UsageRecord is one metered request. Cost is the planner's estimate in
// USD; actual provider billing reconciliation happens downstream.
type UsageRecord struct {
	ID        string    `json:"id"`
	RequestID string    `json:"request_id"`
	Profile   string    `json:"profile"`
	Outcome   string    `json:"outcome"`
	CostUSD   float64   `json:"cost_usd"`
	LatencyMS float64   `json:"latency_ms"`
	CacheHit  bool      `json:"cache_hit"`
	CreatedAt time.Time `json:"created_at"`
}

// UsageSummary aggregates records over a time window.
type UsageSummary struct {
	WindowStart   time.Time `json:"window_start"`
	WindowEnd     time.Time `json:"window_end"`
	TotalRequests int64     `json:"total_requests"`
	TotalCostUSD  float64   `json:"total_cost_usd"`
	CacheHits     int64     `json:"cache_hits"`
	AvgLatencyMS  float64   `json:"avg_latency_ms"`
}

// Budget caps spend over a rolling window and names the alert threshold
// as a fraction of the limit.
type Budget struct {
	LimitUSD       float64       `json:"limit_usd"`
	Window         time.Duration `json:"window"`
	AlertThreshold float64       `json:"alert_threshold"`
}
