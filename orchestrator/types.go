// Copyright 2026 Meridian Systems
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"time"

	"meridian/platform/pipeline"
	"meridian/platform/pool"
)

// ComplexityClass is the triage class assigned to a request.
type ComplexityClass string

const (
	ComplexitySimple     ComplexityClass = "SIMPLE"
	ComplexityModerate   ComplexityClass = "MODERATE"
	ComplexityComplex    ComplexityClass = "COMPLEX"
	ComplexityMultiModal ComplexityClass = "MULTI_MODAL"
)

// Intent is a coarse classification of what the request is asking for.
type Intent string

const (
	IntentInformational Intent = "informational"
	IntentExplanatory   Intent = "explanatory"
	IntentComparative   Intent = "comparative"
	IntentGeneral       Intent = "general"
)

// RequestCharacteristics is the immutable analysis record produced once
// per request by the Analyzer.
type RequestCharacteristics struct {
	Text                  string          `json:"text"`
	ComplexityClass       ComplexityClass `json:"complexity_class"`
	ComplexityScore       float64         `json:"complexity_score"`
	EstimatedTokens       int             `json:"estimated_tokens"`
	RequiresDecomposition bool            `json:"requires_decomposition"`
	HasMediaReference     bool            `json:"has_media_reference"`
	EstimatedCost         float64         `json:"estimated_cost"`
	Intent                Intent          `json:"intent"`
}

// Profile selects the baseline trade-off between accuracy, cost, and speed.
type Profile string

const (
	ProfileHighAccuracy  Profile = "HIGH_ACCURACY"
	ProfileBalanced      Profile = "BALANCED"
	ProfileCostOptimized Profile = "COST_OPTIMIZED"
	ProfileSpeed         Profile = "SPEED"
)

// ProcessingPlan is the concrete set of backends and thresholds selected
// for one request. It is mutated only by the planner's cost-optimization
// pass and is frozen before execution.
type ProcessingPlan struct {
	UseDecomposition     bool                    `json:"use_decomposition"`
	UseCache             bool                    `json:"use_cache"`
	UseVerification      bool                    `json:"use_verification"`
	UseMultimodal        bool                    `json:"use_multimodal"`
	ConfidenceThreshold  float64                 `json:"confidence_threshold"`
	EstimatedCost        float64                 `json:"estimated_cost"`
	EstimatedLatency     time.Duration           `json:"estimated_latency"`
	VerificationSettings pipeline.VerifySettings `json:"verification_settings"`
	Degradations         []string                `json:"degradations,omitempty"`
}

// Degraded reports whether the planner had to back off from the
// profile baseline, either for cost or because a feature is unhealthy.
func (p ProcessingPlan) Degraded() bool {
	return len(p.Degradations) > 0
}

// Request is one unit of work submitted to the orchestrator.
type Request struct {
	RequestID string    `json:"request_id"`
	Text      string    `json:"text"`
	MediaRefs []string  `json:"media_refs,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Response is what the orchestrator returns for every request. Handle
// never fails outright: internal failures produce a degraded response
// with explanatory notes instead.
type Response struct {
	RequestID      string  `json:"request_id"`
	Content        string  `json:"content"`
	Confidence     float64 `json:"confidence"`
	CacheHit       bool    `json:"cache_hit"`
	Degraded       bool    `json:"degraded"`
	Notes          []string `json:"notes,omitempty"`
	ProcessingTime string  `json:"processing_time"`
}

// Stats is the snapshot returned by GetStats.
type Stats struct {
	TotalRequests int64   `json:"total_requests"`
	SuccessRate   float64 `json:"success_rate"`
	CacheHitRate  float64 `json:"cache_hit_rate"`
	AvgLatencyMS  float64 `json:"avg_latency_ms"`
	AvgCost       float64 `json:"avg_cost"`
	TotalCost     float64 `json:"total_cost"`
}

// HealthReport is the snapshot returned by GetHealth.
type HealthReport struct {
	Status    string                        `json:"status"`
	Breakers  map[string]pool.BreakerState  `json:"breakers"`
	Features  map[string]string             `json:"features"`
	Resources *ResourceSnapshot             `json:"resources,omitempty"`
	Cache     CacheStats                    `json:"cache"`
}

// Config is the immutable configuration consumed by the orchestrator.
// It is assumed pre-validated; loading and validation live outside this
// module.
type Config struct {
	Profile                Profile
	CostCeiling            float64       // per-request budget in USD
	SimilarityThreshold    float64       // cache hit threshold
	CacheMaxSize           int
	CacheTTL               time.Duration
	DecompositionThreshold float64       // complexity score above which decomposition is required
	BaseCost               float64       // request cost model: base
	PerTokenRate           float64       // request cost model: per 1K tokens
	MinCacheableLength     int           // responses shorter than this are not cached
	MaxParallel            int           // bound on concurrent decomposition sub-queries
	CallTimeout            time.Duration // per backend call
	RequestTimeout         time.Duration // wall clock per request
	MemoryLimitMB          float64
	CPULimitPercent        float64
	GoroutineLimit         int
	MonitorInterval        time.Duration
	BreakerThreshold       int
	BreakerTimeout         time.Duration
	ConnMaxIdle            time.Duration
	SweepInterval          time.Duration
}

// DefaultConfig returns the configuration used when fields are zero.
func DefaultConfig() Config {
	return Config{
		Profile:                ProfileBalanced,
		CostCeiling:            0.05,
		SimilarityThreshold:    0.97,
		CacheMaxSize:           1000,
		CacheTTL:               time.Hour,
		DecompositionThreshold: 0.7,
		BaseCost:               0.002,
		PerTokenRate:           0.002,
		MinCacheableLength:     20,
		MaxParallel:            4,
		CallTimeout:            30 * time.Second,
		RequestTimeout:         2 * time.Minute,
		MemoryLimitMB:          1024,
		CPULimitPercent:        85,
		GoroutineLimit:         2000,
		MonitorInterval:        15 * time.Second,
		BreakerThreshold:       5,
		BreakerTimeout:         30 * time.Second,
		ConnMaxIdle:            5 * time.Minute,
		SweepInterval:          30 * time.Second,
	}
}

// withDefaults fills zero-valued fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Profile == "" {
		c.Profile = d.Profile
	}
	if c.CostCeiling <= 0 {
		c.CostCeiling = d.CostCeiling
	}
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = d.SimilarityThreshold
	}
	if c.CacheMaxSize <= 0 {
		c.CacheMaxSize = d.CacheMaxSize
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = d.CacheTTL
	}
	if c.DecompositionThreshold <= 0 {
		c.DecompositionThreshold = d.DecompositionThreshold
	}
	if c.BaseCost <= 0 {
		c.BaseCost = d.BaseCost
	}
	if c.PerTokenRate <= 0 {
		c.PerTokenRate = d.PerTokenRate
	}
	if c.MinCacheableLength <= 0 {
		c.MinCacheableLength = d.MinCacheableLength
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = d.MaxParallel
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.MemoryLimitMB <= 0 {
		c.MemoryLimitMB = d.MemoryLimitMB
	}
	if c.CPULimitPercent <= 0 {
		c.CPULimitPercent = d.CPULimitPercent
	}
	if c.GoroutineLimit <= 0 {
		c.GoroutineLimit = d.GoroutineLimit
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = d.MonitorInterval
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = d.BreakerThreshold
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = d.BreakerTimeout
	}
	if c.ConnMaxIdle <= 0 {
		c.ConnMaxIdle = d.ConnMaxIdle
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	return c
}
