// Copyright 2026 Meridian Systems
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meridian/platform/orchestrator/cost"
	"meridian/platform/pipeline"
	"meridian/platform/pool"
	"meridian/platform/shared/logger"
)

const complexText = "Explain how the scheduler works and then walk through what happens when a goroutine " +
	"blocks, as well as how the network poller integrates; why does preemption matter, and how does it " +
	"interact with garbage collection? Also, what tradeoffs exist?"

type fakePrimary struct {
	mu        sync.Mutex
	calls     int
	err       error
	responses []string
}

func (f *fakePrimary) Generate(ctx context.Context, text string) (pipeline.Payload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return pipeline.Payload{}, f.err
	}
	idx := f.calls - 1
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	return pipeline.Payload{Content: f.responses[idx], Generated: time.Now()}, nil
}

func (f *fakePrimary) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeDecomposer struct {
	subs         []string
	decomposeErr error
	aggregateErr error
}

func (f *fakeDecomposer) Decompose(ctx context.Context, text string) ([]string, error) {
	if f.decomposeErr != nil {
		return nil, f.decomposeErr
	}
	return f.subs, nil
}

func (f *fakeDecomposer) Aggregate(ctx context.Context, results []pipeline.SubResult) (pipeline.Payload, error) {
	if f.aggregateErr != nil {
		return pipeline.Payload{}, f.aggregateErr
	}
	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, r.Payload.Content)
	}
	return pipeline.Payload{Content: strings.Join(parts, "; "), Generated: time.Now()}, nil
}

type fakeMultimodal struct {
	mu      sync.Mutex
	calls   int
	content string
	err     error
}

func (f *fakeMultimodal) Process(ctx context.Context, text string, mediaRefs []string) (pipeline.Payload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return pipeline.Payload{}, f.err
	}
	return pipeline.Payload{Content: f.content, Generated: time.Now()}, nil
}

type fakeVerifier struct {
	mu       sync.Mutex
	calls    int
	err      error
	verdicts []pipeline.Verification
}

func (f *fakeVerifier) Verify(ctx context.Context, text string, payload pipeline.Payload, settings pipeline.VerifySettings) (pipeline.Verification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return pipeline.Verification{}, f.err
	}
	idx := f.calls
	if idx >= len(f.verdicts) {
		idx = len(f.verdicts) - 1
	}
	f.calls++
	return f.verdicts[idx], nil
}

type fakeFingerprinter struct {
	vectors map[string][]float64
	err     error
}

func (f *fakeFingerprinter) Fingerprint(ctx context.Context, text string) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("no fingerprint for %q", text)
}

func consistentVerifier(confidence float64) *fakeVerifier {
	return &fakeVerifier{verdicts: []pipeline.Verification{
		{Verdict: pipeline.VerdictConsistent, Confidence: confidence},
	}}
}

func testConfig() Config {
	return Config{
		Profile:             ProfileBalanced,
		CostCeiling:         1.0,
		SimilarityThreshold: 0.97,
		CacheMaxSize:        50,
		MinCacheableLength:  1,
		CallTimeout:         2 * time.Second,
		RequestTimeout:      5 * time.Second,
		BreakerThreshold:    2,
		BreakerTimeout:      5 * time.Second,
	}
}

func newTestOrchestrator(t *testing.T, backends Backends) *Orchestrator {
	t.Helper()
	o, err := New(testConfig(), backends, logger.New("test"))
	require.NoError(t, err)
	return o
}

func TestNewRequiresPrimary(t *testing.T) {
	_, err := New(testConfig(), Backends{}, logger.New("test"))
	assert.Error(t, err)
}

func TestHandleSimpleRequest(t *testing.T) {
	primary := &fakePrimary{responses: []string{"a direct answer"}}
	o := newTestOrchestrator(t, Backends{
		Primary:  primary,
		Verifier: consistentVerifier(0.95),
	})

	resp, err := o.Handle(context.Background(), Request{Text: "What is Go?"})
	require.NoError(t, err)

	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, "a direct answer", resp.Content)
	assert.InDelta(t, 0.95, resp.Confidence, 1e-9)
	assert.False(t, resp.Degraded)
	assert.False(t, resp.CacheHit)
	assert.Equal(t, 1, primary.callCount())

	stats := o.GetStats()
	assert.Equal(t, int64(1), stats.TotalRequests)
	assert.InDelta(t, 1.0, stats.SuccessRate, 1e-9)
}

func TestHandleInvalidInput(t *testing.T) {
	o := newTestOrchestrator(t, Backends{Primary: &fakePrimary{responses: []string{"x"}}})

	_, err := o.Handle(context.Background(), Request{Text: "   "})
	require.Error(t, err)
	assert.True(t, IsInvalidInput(err))
}

func TestHandleCacheHitSkipsBackends(t *testing.T) {
	primary := &fakePrimary{responses: []string{"cached answer"}}
	o := newTestOrchestrator(t, Backends{
		Primary:  primary,
		Verifier: consistentVerifier(0.9),
		Fingerprinter: &fakeFingerprinter{vectors: map[string][]float64{
			"What is Go?": {1, 0, 0},
		}},
	})

	first, err := o.Handle(context.Background(), Request{Text: "What is Go?"})
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := o.Handle(context.Background(), Request{RequestID: "req-2", Text: "What is Go?"})
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, "cached answer", second.Content)
	assert.Equal(t, "req-2", second.RequestID)
	assert.Equal(t, 1, primary.callCount(), "cache hit must not reach the primary backend")
}

func TestHandleParaphraseCacheHit(t *testing.T) {
	primary := &fakePrimary{responses: []string{"shared answer"}}
	o := newTestOrchestrator(t, Backends{
		Primary:  primary,
		Verifier: consistentVerifier(0.9),
		Fingerprinter: &fakeFingerprinter{vectors: map[string][]float64{
			"What is Go?":      {1, 0, 0.05},
			"Define Go please": {1, 0.01, 0.05},
		}},
	})

	_, err := o.Handle(context.Background(), Request{Text: "What is Go?"})
	require.NoError(t, err)

	resp, err := o.Handle(context.Background(), Request{Text: "Define Go please"})
	require.NoError(t, err)
	assert.True(t, resp.CacheHit)
	assert.Equal(t, 1, primary.callCount())
}

func TestHandleFingerprintFailureBypassesCache(t *testing.T) {
	primary := &fakePrimary{responses: []string{"answer"}}
	o := newTestOrchestrator(t, Backends{
		Primary:       primary,
		Fingerprinter: &fakeFingerprinter{err: errors.New("embedding service down")},
	})

	for i := 0; i < 2; i++ {
		resp, err := o.Handle(context.Background(), Request{Text: "What is Go?"})
		require.NoError(t, err)
		assert.False(t, resp.CacheHit)
		assert.False(t, resp.Degraded)
	}
	assert.Equal(t, 2, primary.callCount())
}

func TestHandleDoubleFailureNamesBothCauses(t *testing.T) {
	primary := &fakePrimary{err: errors.New("upstream 500")}
	o := newTestOrchestrator(t, Backends{Primary: primary})

	resp, err := o.Handle(context.Background(), Request{Text: "What is Go?"})
	require.NoError(t, err, "backend failure must not fail the request")
	assert.True(t, resp.Degraded)
	assert.NotEmpty(t, resp.Content)
	assert.Equal(t, 2, primary.callCount(), "planned path plus exactly one fallback")

	joined := strings.Join(resp.Notes, " ")
	assert.Contains(t, joined, "planned processing failed: backend error")
	assert.Contains(t, joined, "fallback failed: backend error")
	assert.NotContains(t, joined, "upstream", "internal detail must not leak")
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	primary := &fakePrimary{err: errors.New("upstream 500")}
	o := newTestOrchestrator(t, Backends{Primary: primary})

	// Planned path plus fallback: two failures, reaching the threshold.
	_, err := o.Handle(context.Background(), Request{Text: "What is Go?"})
	require.NoError(t, err)
	assert.Equal(t, 2, primary.callCount())

	// Breaker is open: the next request fails fast without a call.
	resp, err := o.Handle(context.Background(), Request{Text: "What is Go?"})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Contains(t, strings.Join(resp.Notes, " "), "dependency temporarily unavailable")
	assert.Equal(t, 2, primary.callCount())

	health := o.GetHealth()
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, pool.StateOpen, health.Breakers["primary"])
}

func TestHandleRejectedVerdictAnnotates(t *testing.T) {
	primary := &fakePrimary{responses: []string{"shaky answer"}}
	verifier := &fakeVerifier{verdicts: []pipeline.Verification{
		{Verdict: pipeline.VerdictRejected, Confidence: 0.2},
	}}
	o := newTestOrchestrator(t, Backends{Primary: primary, Verifier: verifier})

	resp, err := o.Handle(context.Background(), Request{Text: "What is Go?"})
	require.NoError(t, err)
	assert.Equal(t, "shaky answer", resp.Content, "rejected answer is annotated, not discarded")
	assert.True(t, resp.Degraded)
	assert.Contains(t, resp.Notes, "answer failed consistency verification")
	assert.Equal(t, 1, primary.callCount())
}

func TestHandleUncertainAboveThresholdAnnotatesOnly(t *testing.T) {
	o := newTestOrchestrator(t, Backends{
		Primary: &fakePrimary{responses: []string{"plausible answer"}},
		Verifier: &fakeVerifier{verdicts: []pipeline.Verification{
			{Verdict: pipeline.VerdictUncertain, Confidence: 0.85},
		}},
	})

	resp, err := o.Handle(context.Background(), Request{Text: "What is Go?"})
	require.NoError(t, err)
	assert.False(t, resp.Degraded)
	assert.Contains(t, resp.Notes, "verification uncertain")
}

func TestHandleLowConfidenceDegrades(t *testing.T) {
	o := newTestOrchestrator(t, Backends{
		Primary: &fakePrimary{responses: []string{"shaky answer"}},
		Verifier: &fakeVerifier{verdicts: []pipeline.Verification{
			{Verdict: pipeline.VerdictUncertain, Confidence: 0.3},
		}},
	})

	resp, err := o.Handle(context.Background(), Request{Text: "What is Go?"})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Contains(t, resp.Notes, "confidence below threshold")
}

func TestHandleVerifierOutageDegrades(t *testing.T) {
	o := newTestOrchestrator(t, Backends{
		Primary:  &fakePrimary{responses: []string{"answer"}},
		Verifier: &fakeVerifier{err: errors.New("verifier down")},
	})

	resp, err := o.Handle(context.Background(), Request{Text: "What is Go?"})
	require.NoError(t, err)
	assert.Equal(t, "answer", resp.Content, "verifier outage must not lose the answer")
	assert.True(t, resp.Degraded)
}

func TestHandleDecomposition(t *testing.T) {
	primary := &fakePrimary{responses: []string{"part"}}
	o := newTestOrchestrator(t, Backends{
		Primary:    primary,
		Decomposer: &fakeDecomposer{subs: []string{"sub one", "sub two", "sub three"}},
	})

	resp, err := o.Handle(context.Background(), Request{Text: complexText})
	require.NoError(t, err)
	assert.Equal(t, "part; part; part", resp.Content)
	assert.False(t, resp.Degraded)
	assert.Equal(t, 3, primary.callCount())
}

func TestHandleDecomposerFailureFallsBackToPrimary(t *testing.T) {
	primary := &fakePrimary{responses: []string{"single-shot answer"}}
	o := newTestOrchestrator(t, Backends{
		Primary:    primary,
		Decomposer: &fakeDecomposer{decomposeErr: errors.New("decomposer down")},
	})

	resp, err := o.Handle(context.Background(), Request{Text: complexText})
	require.NoError(t, err)
	assert.Equal(t, "single-shot answer", resp.Content)
	assert.True(t, resp.Degraded)
	assert.Contains(t, strings.Join(resp.Notes, " "), "simplified answer")
}

func TestHandleMultimodal(t *testing.T) {
	mm := &fakeMultimodal{content: "the image shows a graph"}
	o := newTestOrchestrator(t, Backends{
		Primary:    &fakePrimary{responses: []string{"text-only answer"}},
		Multimodal: mm,
	})

	resp, err := o.Handle(context.Background(), Request{
		Text:      "Describe this image",
		MediaRefs: []string{"s3://bucket/pic.png"},
	})
	require.NoError(t, err)
	assert.Equal(t, "the image shows a graph", resp.Content)
	assert.Equal(t, 1, mm.calls)
}

func TestHandleMissingMultimodalBackendDegrades(t *testing.T) {
	o := newTestOrchestrator(t, Backends{
		Primary: &fakePrimary{responses: []string{"text-only answer"}},
	})

	resp, err := o.Handle(context.Background(), Request{
		Text:      "Describe this image",
		MediaRefs: []string{"s3://bucket/pic.png"},
	})
	require.NoError(t, err)
	assert.Equal(t, "text-only answer", resp.Content)
	assert.True(t, resp.Degraded)
	assert.Contains(t, resp.Notes, "multimodal processing unavailable")
}

func TestGetHealthReportsFeatures(t *testing.T) {
	o := newTestOrchestrator(t, Backends{
		Primary:  &fakePrimary{responses: []string{"x"}},
		Verifier: consistentVerifier(0.9),
	})

	health := o.GetHealth()
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "disabled", health.Features[string(pipeline.FeatureDecomposition)])
	assert.Equal(t, "disabled", health.Features[string(pipeline.FeatureMultimodal)])
	assert.Equal(t, "enabled", health.Features[string(pipeline.FeatureVerification)])
}

func TestMemoryViolationTrimsCache(t *testing.T) {
	o := newTestOrchestrator(t, Backends{Primary: &fakePrimary{responses: []string{"x"}}})
	for i := 0; i < 40; i++ {
		o.cache.Store(fmt.Sprintf("k%d", i), []float64{float64(i + 1), 1, 0}, testResponse("v"))
	}
	require.Equal(t, 40, o.cache.Len())

	o.handleViolation(ViolationMemory, ResourceSnapshot{MemoryMB: 2048})

	// Config cache max is 50; memory pressure trims to a tenth of that.
	assert.LessOrEqual(t, o.cache.Len(), 5)
}

func TestMemoryViolationSweepsIdleConnections(t *testing.T) {
	cfg := testConfig()
	cfg.ConnMaxIdle = time.Nanosecond
	o, err := New(cfg, Backends{Primary: &fakePrimary{responses: []string{"x"}}}, logger.New("test"))
	require.NoError(t, err)

	_, err = o.Handle(context.Background(), Request{Text: "What is Go?"})
	require.NoError(t, err)
	require.Equal(t, 1, o.pool.ActiveConnections())

	// The monitor sees the pool's connection count in its snapshots.
	assert.Equal(t, 1, o.monitor.Sample().ActiveConnections)

	time.Sleep(time.Millisecond)
	o.handleViolation(ViolationMemory, ResourceSnapshot{MemoryMB: 2048})
	assert.Equal(t, 0, o.pool.ActiveConnections())
	assert.Equal(t, 0, o.monitor.Sample().ActiveConnections)
}

func TestStartShutdown(t *testing.T) {
	o := newTestOrchestrator(t, Backends{Primary: &fakePrimary{responses: []string{"x"}}})

	ctx := context.Background()
	o.Start(ctx)
	_, err := o.Handle(ctx, Request{Text: "What is Go?"})
	require.NoError(t, err)
	o.Shutdown(ctx)
}

type captureSink struct {
	recs chan cost.UsageRecord
}

func (s *captureSink) RecordUsage(ctx context.Context, rec cost.UsageRecord) error {
	s.recs <- rec
	return nil
}

func TestUsageSinkReceivesRecords(t *testing.T) {
	o := newTestOrchestrator(t, Backends{Primary: &fakePrimary{responses: []string{"answer"}}})
	sink := &captureSink{recs: make(chan cost.UsageRecord, 1)}
	o.SetUsageSink(sink)

	resp, err := o.Handle(context.Background(), Request{Text: "What is Go?"})
	require.NoError(t, err)

	select {
	case rec := <-sink.recs:
		assert.Equal(t, resp.RequestID, rec.RequestID)
		assert.Equal(t, string(ProfileBalanced), rec.Profile)
		assert.Equal(t, "ok", rec.Outcome)
	case <-time.After(time.Second):
		t.Fatal("usage record not delivered")
	}
}
