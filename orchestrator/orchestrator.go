// Copyright 2026 Meridian Systems
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"

	"meridian/platform/orchestrator/cost"
	"meridian/platform/pipeline"
	"meridian/platform/pool"
	"meridian/platform/shared/logger"
)

// UsageSink receives one usage record per completed request.
type UsageSink interface {
	RecordUsage(ctx context.Context, rec cost.UsageRecord) error
}

// Dependency ids used for pooling and circuit breaking. One breaker and
// at most one pooled connection exist per id.
const (
	depPrimary       = "primary"
	depDecomposer    = "decomposer"
	depMultimodal    = "multimodal"
	depVerifier      = "verifier"
	depFingerprinter = "fingerprinter"
)

// Backends bundles the pipeline implementations the orchestrator routes
// between. Primary is required; the rest are optional and their absence
// marks the matching feature disabled.
type Backends struct {
	Primary       pipeline.Primary
	Decomposer    pipeline.Decomposer
	Multimodal    pipeline.Multimodal
	Verifier      pipeline.Verifier
	Fingerprinter pipeline.Fingerprinter
}

// Orchestrator routes each request through analysis, planning, cached
// or live execution, and verification. Every backend call goes through
// the connection pool so failures feed the per-dependency breakers.
type Orchestrator struct {
	config   Config
	log      *logger.Logger
	backends Backends

	analyzer *Analyzer
	planner  *Planner
	cache    *ResponseCache
	monitor  *Monitor
	stats    *StatsCollector
	pool     *pool.Manager
	usage    UsageSink
}

// SetUsageSink attaches a usage metering sink. Call before Start;
// recording is asynchronous and failures are logged, not propagated.
func (o *Orchestrator) SetUsageSink(sink UsageSink) {
	o.usage = sink
}

// New wires an orchestrator from config and backends. Call Start to
// launch the background monitor and pool sweeper.
func New(config Config, backends Backends, log *logger.Logger) (*Orchestrator, error) {
	if backends.Primary == nil {
		return nil, fmt.Errorf("orchestrator: primary backend is required")
	}
	config = config.withDefaults()

	o := &Orchestrator{
		config:   config,
		log:      log,
		backends: backends,
		analyzer: NewAnalyzer(config.DecompositionThreshold, config.BaseCost, config.PerTokenRate),
		planner:  NewPlanner(config.CostCeiling),
		cache:    NewResponseCache(config.CacheMaxSize, config.CacheTTL, config.SimilarityThreshold),
		stats:    NewStatsCollector(),
		pool: pool.NewManager(pool.ManagerConfig{
			MaxIdle:          config.ConnMaxIdle,
			SweepInterval:    config.SweepInterval,
			BreakerThreshold: config.BreakerThreshold,
			BreakerTimeout:   config.BreakerTimeout,
		}),
	}
	o.pool.OnBreakerOpen(func(dependencyID string) {
		breakerOpensTotal.WithLabelValues(dependencyID).Inc()
	})
	o.monitor = NewMonitor(ResourceLimits{
		MemoryMB:       config.MemoryLimitMB,
		CPUPercent:     config.CPULimitPercent,
		GoroutineLimit: config.GoroutineLimit,
	}, config.MonitorInterval, log)
	o.monitor.TrackConnections(o.pool.ActiveConnections)
	o.monitor.OnViolation(o.handleViolation)
	return o, nil
}

// Start launches the resource monitor and the idle-connection sweeper.
func (o *Orchestrator) Start(ctx context.Context) {
	o.monitor.Start(ctx)
	o.pool.Start(ctx)
	o.log.Info("", "orchestrator started", map[string]interface{}{
		"profile":      string(o.config.Profile),
		"cost_ceiling": o.config.CostCeiling,
	})
}

// Shutdown stops background work and closes pooled connections. Safe to
// call once after Start; in-flight requests are not interrupted.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.monitor.Stop()
	o.pool.Stop(ctx)
	o.log.Info("", "orchestrator stopped", nil)
}

// Handle processes one request end to end. It always returns a usable
// Response: internal failures yield a degraded response whose Notes say
// what went wrong, and the error return is non-nil only for invalid input.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	ctx, cancel := context.WithTimeout(ctx, o.config.RequestTimeout)
	defer cancel()

	chars, err := o.analyzer.Analyze(req.Text)
	if err != nil {
		requestsTotal.WithLabelValues("invalid").Inc()
		return Response{}, err
	}
	if len(req.MediaRefs) > 0 {
		chars.HasMediaReference = true
		chars.ComplexityClass = ComplexityMultiModal
	}

	// Fingerprinting is best effort. Without a fingerprint the request
	// simply bypasses the cache on both lookup and store.
	fingerprint := o.fingerprint(ctx, req)

	plan := o.planner.Synthesize(chars, o.config.Profile, o.featureHealth())
	o.log.Debug(req.RequestID, "plan synthesized", map[string]interface{}{
		"complexity":     string(chars.ComplexityClass),
		"decomposition":  plan.UseDecomposition,
		"multimodal":     plan.UseMultimodal,
		"verification":   plan.UseVerification,
		"estimated_cost": plan.EstimatedCost,
	})

	if plan.UseCache && fingerprint != nil {
		if cached, ok := o.cache.Lookup(fingerprint); ok {
			cached.RequestID = req.RequestID
			cached.ProcessingTime = time.Since(start).String()
			o.finish(req.RequestID, cached, 0, time.Since(start), "cache_hit")
			return cached, nil
		}
	}

	resp := o.execute(ctx, req, plan)
	resp.ProcessingTime = time.Since(start).String()

	if plan.UseCache && fingerprint != nil && o.cacheable(resp) {
		o.cache.Store(req.RequestID, fingerprint, resp)
	}

	outcome := "ok"
	if resp.Degraded {
		outcome = "degraded"
	}
	o.finish(req.RequestID, resp, plan.EstimatedCost, time.Since(start), outcome)
	return resp, nil
}

// execute runs the live pipeline selected by the plan, with one
// fallback attempt through the bare primary path when the planned path
// fails. It never returns an error: a second failure produces a fixed
// degraded response naming both causes.
func (o *Orchestrator) execute(ctx context.Context, req Request, plan ProcessingPlan) Response {
	resp := Response{
		RequestID: req.RequestID,
		Degraded:  plan.Degraded(),
		Notes:     append([]string(nil), plan.Degradations...),
	}

	payload, err := o.generate(ctx, req, plan)
	if err != nil {
		o.log.Warn(req.RequestID, "planned path failed, attempting fallback", map[string]interface{}{
			"error": err.Error(),
		})
		fallbacksTotal.Inc()
		fallback, fbErr := o.callPrimary(ctx, req.Text)
		if fbErr != nil {
			o.log.ErrorWithErr(req.RequestID, "fallback failed", fbErr, nil)
			resp.Degraded = true
			resp.Notes = append(resp.Notes,
				"planned processing failed: "+failureCause(err),
				"fallback failed: "+failureCause(fbErr))
			resp.Content = "The service is temporarily unable to answer this request. Please retry shortly."
			return resp
		}
		// Fallback answers skip verification: the simplest viable plan
		// is primary-only.
		resp.Content = fallback.Content
		resp.Confidence = 1.0
		resp.Degraded = true
		resp.Notes = append(resp.Notes, "planned processing failed, simplified answer returned: "+failureCause(err))
		return resp
	}
	resp.Content = payload.Content
	resp.Confidence = 1.0

	// A failing verdict annotates the answer rather than discarding it.
	if plan.UseVerification && o.backends.Verifier != nil {
		verdict := o.verify(ctx, req, payload, plan.VerificationSettings)
		resp.Confidence = verdict.Confidence
		switch verdict.Verdict {
		case pipeline.VerdictRejected:
			resp.Degraded = true
			resp.Notes = append(resp.Notes, "answer failed consistency verification")
		case pipeline.VerdictUncertain:
			if verdict.Confidence < plan.ConfidenceThreshold {
				resp.Degraded = true
				resp.Notes = append(resp.Notes, "confidence below threshold")
			} else {
				resp.Notes = append(resp.Notes, "verification uncertain")
			}
		}
	}
	return resp
}

// generate runs the single path the plan selected. Fallback on failure
// is the caller's job, so failures here surface unchanged.
func (o *Orchestrator) generate(ctx context.Context, req Request, plan ProcessingPlan) (pipeline.Payload, error) {
	switch {
	case plan.UseMultimodal && o.backends.Multimodal != nil:
		return o.callMultimodal(ctx, req.Text, req.MediaRefs)
	case plan.UseDecomposition && o.backends.Decomposer != nil:
		return o.decomposed(ctx, req)
	default:
		return o.callPrimary(ctx, req.Text)
	}
}

// decomposed splits the request, runs the sub-queries with bounded
// parallelism, and aggregates. Sub-query failures are tolerated as long
// as at least one succeeds; a request-level timeout abandons outstanding
// calls without waiting for them.
func (o *Orchestrator) decomposed(ctx context.Context, req Request) (pipeline.Payload, error) {
	var subTexts []string
	err := o.withDependency(ctx, depDecomposer, func(ctx context.Context) error {
		var derr error
		subTexts, derr = o.backends.Decomposer.Decompose(ctx, req.Text)
		return derr
	})
	if err != nil {
		return pipeline.Payload{}, &BackendError{DependencyID: depDecomposer, Err: err}
	}
	if len(subTexts) == 0 {
		return o.callPrimary(ctx, req.Text)
	}

	type indexed struct {
		idx     int
		payload pipeline.Payload
		err     error
	}
	results := make(chan indexed, len(subTexts))
	sem := make(chan struct{}, o.config.MaxParallel)

	for i, sub := range subTexts {
		go func(i int, sub string) {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results <- indexed{idx: i, err: ctx.Err()}
				return
			}
			payload, perr := o.callPrimary(ctx, sub)
			results <- indexed{idx: i, payload: payload, err: perr}
		}(i, sub)
	}

	collected := make([]pipeline.SubResult, 0, len(subTexts))
	failures := 0
	for range subTexts {
		select {
		case r := <-results:
			if r.err != nil {
				failures++
				continue
			}
			collected = append(collected, pipeline.SubResult{SubText: subTexts[r.idx], Payload: r.payload})
		case <-ctx.Done():
			return pipeline.Payload{}, &TimeoutError{DependencyID: depPrimary, Scope: "sub-queries"}
		}
	}
	if len(collected) == 0 {
		return pipeline.Payload{}, &BackendError{DependencyID: depPrimary, Err: fmt.Errorf("all %d sub-queries failed", len(subTexts))}
	}

	var payload pipeline.Payload
	err = o.withDependency(ctx, depDecomposer, func(ctx context.Context) error {
		var aerr error
		payload, aerr = o.backends.Decomposer.Aggregate(ctx, collected)
		return aerr
	})
	if err != nil {
		return pipeline.Payload{}, &BackendError{DependencyID: depDecomposer, Err: err}
	}
	if failures > 0 {
		if payload.Metadata == nil {
			payload.Metadata = map[string]interface{}{}
		}
		payload.Metadata["partial"] = true
		payload.Metadata["failed_sub_queries"] = failures
	}
	return payload, nil
}

func (o *Orchestrator) callPrimary(ctx context.Context, text string) (pipeline.Payload, error) {
	var payload pipeline.Payload
	err := o.withDependency(ctx, depPrimary, func(ctx context.Context) error {
		var gerr error
		payload, gerr = o.backends.Primary.Generate(ctx, text)
		return gerr
	})
	if err != nil {
		return pipeline.Payload{}, &BackendError{DependencyID: depPrimary, Err: err}
	}
	return payload, nil
}

func (o *Orchestrator) callMultimodal(ctx context.Context, text string, mediaRefs []string) (pipeline.Payload, error) {
	var payload pipeline.Payload
	err := o.withDependency(ctx, depMultimodal, func(ctx context.Context) error {
		var perr error
		payload, perr = o.backends.Multimodal.Process(ctx, text, mediaRefs)
		return perr
	})
	if err != nil {
		return pipeline.Payload{}, &BackendError{DependencyID: depMultimodal, Err: err}
	}
	return payload, nil
}

// verify runs the verifier; a verifier outage is treated as an
// uncertain pass at zero confidence rather than a request failure.
func (o *Orchestrator) verify(ctx context.Context, req Request, payload pipeline.Payload, settings pipeline.VerifySettings) pipeline.Verification {
	var verdict pipeline.Verification
	err := o.withDependency(ctx, depVerifier, func(ctx context.Context) error {
		var verr error
		verdict, verr = o.backends.Verifier.Verify(ctx, req.Text, payload, settings)
		return verr
	})
	if err != nil {
		o.log.Warn(req.RequestID, "verifier unavailable", map[string]interface{}{"error": err.Error()})
		return pipeline.Verification{Verdict: pipeline.VerdictUncertain, Confidence: 0}
	}
	return verdict
}

// fingerprint computes the cache key vector, returning nil on any failure.
func (o *Orchestrator) fingerprint(ctx context.Context, req Request) []float64 {
	if o.backends.Fingerprinter == nil {
		return nil
	}
	var fp []float64
	err := o.withDependency(ctx, depFingerprinter, func(ctx context.Context) error {
		var ferr error
		fp, ferr = o.backends.Fingerprinter.Fingerprint(ctx, req.Text)
		return ferr
	})
	if err != nil {
		o.log.Debug(req.RequestID, "fingerprint unavailable, bypassing cache", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}
	return fp
}

// withDependency routes one backend call through the pool so the
// dependency's breaker sees every outcome, with the per-call timeout
// applied inside the breaker window.
func (o *Orchestrator) withDependency(ctx context.Context, id string, fn func(ctx context.Context) error) error {
	factory := func(ctx context.Context) (pool.Conn, error) {
		return newBackendHandle(id), nil
	}
	return o.pool.WithConnection(ctx, id, factory, func(ctx context.Context, _ pool.Conn) error {
		callCtx, cancel := context.WithTimeout(ctx, o.config.CallTimeout)
		defer cancel()
		err := fn(callCtx)
		if callCtx.Err() == context.DeadlineExceeded {
			return &TimeoutError{DependencyID: id, Scope: "call"}
		}
		return err
	})
}

// featureHealth derives optional-feature availability from backend
// presence and breaker state. A missing backend is configured off; an
// open breaker marks the feature temporarily out. Half-open reads as
// enabled so planned traffic can probe the breaker closed again.
func (o *Orchestrator) featureHealth() pipeline.Health {
	health := pipeline.Health{}
	set := func(f pipeline.Feature, backend bool, dep string) {
		if !backend {
			health[f] = pipeline.Disabled()
			return
		}
		if o.pool.Breaker(dep).State() == pool.StateOpen {
			health[f] = pipeline.Degraded("circuit open")
			return
		}
		health[f] = pipeline.Enabled()
	}
	set(pipeline.FeatureDecomposition, o.backends.Decomposer != nil, depDecomposer)
	set(pipeline.FeatureMultimodal, o.backends.Multimodal != nil, depMultimodal)
	set(pipeline.FeatureVerification, o.backends.Verifier != nil, depVerifier)
	return health
}

// cacheable filters what is worth storing: non-degraded responses above
// the profile's confidence bar and long enough to be a real answer.
func (o *Orchestrator) cacheable(resp Response) bool {
	return !resp.Degraded &&
		len(resp.Content) >= o.config.MinCacheableLength &&
		resp.Confidence > 0
}

// handleViolation is the monitor callback. Memory pressure runs the
// reclaim pass: trim most of the cache, sweep idle connections, and hint
// the collector. The other violations are logged by the monitor itself
// and surfaced through GetHealth.
func (o *Orchestrator) handleViolation(v Violation, snap ResourceSnapshot) {
	if v != ViolationMemory {
		return
	}
	target := o.config.CacheMaxSize / 10
	evicted := o.cache.Trim(target)
	swept := o.pool.SweepIdle(context.Background())
	runtime.GC()
	o.log.Warn("", "memory pressure, reclaim pass completed", map[string]interface{}{
		"memory_mb":         snap.MemoryMB,
		"cache_evicted":     evicted,
		"cache_remaining":   o.cache.Len(),
		"connections_swept": swept,
	})
}

// finish records one completed request in stats, metrics, and the log.
func (o *Orchestrator) finish(requestID string, resp Response, costUSD float64, latency time.Duration, outcome string) {
	o.stats.Record(resp, costUSD, latency)
	requestsTotal.WithLabelValues(outcome).Inc()
	requestLatency.Observe(latency.Seconds())
	requestCost.Observe(costUSD)
	o.log.InfoWithDuration(requestID, "request completed", float64(latency.Milliseconds()), map[string]interface{}{
		"outcome":    outcome,
		"cache_hit":  resp.CacheHit,
		"degraded":   resp.Degraded,
		"confidence": resp.Confidence,
	})
	if o.usage != nil {
		go o.recordUsage(requestID, resp, costUSD, latency, outcome)
	}
}

func (o *Orchestrator) recordUsage(requestID string, resp Response, costUSD float64, latency time.Duration, outcome string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec := cost.UsageRecord{
		RequestID: requestID,
		Profile:   string(o.config.Profile),
		Outcome:   outcome,
		CostUSD:   costUSD,
		LatencyMS: float64(latency.Milliseconds()),
		CacheHit:  resp.CacheHit,
	}
	if err := o.usage.RecordUsage(ctx, rec); err != nil {
		o.log.ErrorWithErr(requestID, "usage record failed", err, nil)
	}
}

// GetStats returns aggregate request statistics.
func (o *Orchestrator) GetStats() Stats {
	return o.stats.Snapshot()
}

// GetHealth reports breaker states, feature availability, the latest
// resource snapshot, and cache counters. Status is "degraded" when any
// breaker is not closed or a resource limit was exceeded in the latest
// sample.
func (o *Orchestrator) GetHealth() HealthReport {
	report := HealthReport{
		Status:   "healthy",
		Breakers: o.pool.BreakerStates(),
		Features: map[string]string{},
		Cache:    o.cache.Stats(),
	}
	for feature, status := range o.featureHealth() {
		report.Features[string(feature)] = status.String()
	}
	for _, state := range report.Breakers {
		if state != pool.StateClosed {
			report.Status = "degraded"
		}
	}
	if snap := o.monitor.Latest(); snap != nil {
		report.Resources = snap
		if len(violations(*snap, ResourceLimits{
			MemoryMB:       o.config.MemoryLimitMB,
			CPUPercent:     o.config.CPULimitPercent,
			GoroutineLimit: o.config.GoroutineLimit,
		})) > 0 {
			report.Status = "degraded"
		}
	}
	return report
}

// backendHandle represents an in-process backend inside the pool, so
// breaker accounting and connection metrics apply uniformly whether a
// dependency is remote or local.
type backendHandle struct {
	id string
}

func newBackendHandle(id string) *backendHandle {
	return &backendHandle{id: id}
}

func (h *backendHandle) Ping(ctx context.Context) error { return nil }

func (h *backendHandle) Close(ctx context.Context) error { return nil }

func (h *backendHandle) String() string { return "backend:" + h.id }
