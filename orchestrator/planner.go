// Copyright 2026 Meridian Systems
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"math"
	"time"

	"meridian/platform/pipeline"
)

// Plan cost model: flat surcharges for the optional backends, on top of
// the request's own cost estimate.
const (
	decompositionCostFactor  = 2.0
	verificationCost         = 0.005
	verificationCostRelaxed  = 0.002
	multimodalCost           = 0.01
	decompositionDisableBand = 1.5 // decomposition is dropped only past this multiple of budget
)

// profileBaseline holds the per-profile starting thresholds.
type profileBaseline struct {
	confidenceThreshold float64
	strictness          float64
	verifyTimeout       time.Duration
	maxClaims           int
}

var profileBaselines = map[Profile]profileBaseline{
	ProfileHighAccuracy:  {confidenceThreshold: 0.9, strictness: 0.9, verifyTimeout: 10 * time.Second, maxClaims: 8},
	ProfileBalanced:      {confidenceThreshold: 0.8, strictness: 0.7, verifyTimeout: 5 * time.Second, maxClaims: 5},
	ProfileCostOptimized: {confidenceThreshold: 0.75, strictness: 0.6, verifyTimeout: 3 * time.Second, maxClaims: 3},
	ProfileSpeed:         {confidenceThreshold: 0.7, strictness: 0.5, verifyTimeout: 2 * time.Second, maxClaims: 2},
}

// Planner turns request characteristics, the active profile, and live
// feature health into a ProcessingPlan that fits the cost ceiling.
// Synthesis is deterministic: the same inputs always yield the same plan.
type Planner struct {
	budget float64
}

// NewPlanner creates a planner with the given per-request cost ceiling.
func NewPlanner(budget float64) *Planner {
	return &Planner{budget: budget}
}

// Synthesize builds the plan and then applies the degradation ladder
// until estimated cost fits the budget. Verification is never disabled
// by the ladder: it is the last line of defense against bad cached or
// fallback answers.
func (p *Planner) Synthesize(chars RequestCharacteristics, profile Profile, health pipeline.Health) ProcessingPlan {
	baseline, ok := profileBaselines[profile]
	if !ok {
		baseline = profileBaselines[ProfileBalanced]
	}

	plan := ProcessingPlan{
		UseCache:            true,
		ConfidenceThreshold: baseline.confidenceThreshold,
		VerificationSettings: pipeline.VerifySettings{
			"strictness":      baseline.strictness,
			"timeout_seconds": baseline.verifyTimeout.Seconds(),
			"max_claims":      baseline.maxClaims,
		},
	}

	wantDecomposition := chars.RequiresDecomposition || profile == ProfileHighAccuracy
	if wantDecomposition {
		if health.Status(pipeline.FeatureDecomposition).Usable() {
			plan.UseDecomposition = true
		} else {
			plan.Degradations = append(plan.Degradations, "decomposition unavailable")
		}
	}
	if chars.HasMediaReference {
		if health.Status(pipeline.FeatureMultimodal).Usable() {
			plan.UseMultimodal = true
		} else {
			plan.Degradations = append(plan.Degradations, "multimodal processing unavailable")
		}
	}
	// A verifier that is configured off is not a degradation; one that
	// is temporarily out (breaker open) is.
	switch vs := health.Status(pipeline.FeatureVerification); {
	case vs.Usable():
		plan.UseVerification = true
	case vs.Kind == pipeline.StatusDegraded:
		plan.Degradations = append(plan.Degradations, "verification unavailable")
	}

	plan.EstimatedCost = p.estimateCost(chars, plan, false)
	plan.EstimatedLatency = estimateLatency(chars, plan)

	// Degradation ladder, fixed order: multimodal, verification
	// settings, decomposition. Cost is recomputed after every step.
	relaxed := false
	if plan.EstimatedCost > p.budget && plan.UseMultimodal {
		plan.UseMultimodal = false
		plan.Degradations = append(plan.Degradations, "multimodal disabled for cost")
		plan.EstimatedCost = p.estimateCost(chars, plan, relaxed)
	}
	if plan.EstimatedCost > p.budget && plan.UseVerification {
		relaxed = true
		plan.VerificationSettings = relaxedVerifySettings()
		plan.Degradations = append(plan.Degradations, "verification relaxed for cost")
		plan.EstimatedCost = p.estimateCost(chars, plan, relaxed)
	}
	if plan.EstimatedCost > p.budget*decompositionDisableBand && plan.UseDecomposition {
		plan.UseDecomposition = false
		plan.Degradations = append(plan.Degradations, "decomposition disabled for cost")
		plan.EstimatedCost = p.estimateCost(chars, plan, relaxed)
	}

	plan.EstimatedLatency = estimateLatency(chars, plan)
	return plan
}

// estimateCost applies the plan cost model to the request estimate.
func (p *Planner) estimateCost(chars RequestCharacteristics, plan ProcessingPlan, relaxedVerification bool) float64 {
	cost := chars.EstimatedCost
	if plan.UseDecomposition {
		cost *= decompositionCostFactor
	}
	if plan.UseVerification {
		if relaxedVerification {
			cost += verificationCostRelaxed
		} else {
			cost += verificationCost
		}
	}
	if plan.UseMultimodal {
		cost += multimodalCost
	}
	return math.Round(cost*1e6) / 1e6
}

// relaxedVerifySettings returns the cheapest verification settings the
// ladder degrades to.
func relaxedVerifySettings() pipeline.VerifySettings {
	return pipeline.VerifySettings{
		"strictness":      0.4,
		"timeout_seconds": 1.0,
		"max_claims":      1,
	}
}

// estimateLatency gives a coarse latency estimate used for reporting,
// not admission control.
func estimateLatency(chars RequestCharacteristics, plan ProcessingPlan) time.Duration {
	latency := 500 * time.Millisecond
	latency += time.Duration(chars.EstimatedTokens) * time.Millisecond
	if plan.UseDecomposition {
		latency *= 2
	}
	if plan.UseMultimodal {
		latency += time.Second
	}
	if plan.UseVerification {
		latency += 300 * time.Millisecond
	}
	return latency
}
