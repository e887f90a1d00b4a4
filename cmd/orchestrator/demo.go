// Copyright 2026 Meridian Systems
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"meridian/platform/orchestrator"
	"meridian/platform/pipeline"
)

// Demo pipelines answer locally so the full request path can be
// exercised without any external provider. Useful for smoke tests and
// local development only.

func demoBackends() orchestrator.Backends {
	return orchestrator.Backends{
		Primary:       demoPrimary{},
		Decomposer:    demoDecomposer{},
		Verifier:      demoVerifier{},
		Fingerprinter: demoFingerprinter{},
	}
}

type demoPrimary struct{}

func (demoPrimary) Generate(ctx context.Context, text string) (pipeline.Payload, error) {
	return pipeline.Payload{
		Content:   fmt.Sprintf("demo answer for: %s", strings.TrimSpace(text)),
		Source:    "demo",
		Generated: time.Now(),
	}, nil
}

type demoDecomposer struct{}

func (demoDecomposer) Decompose(ctx context.Context, text string) ([]string, error) {
	var subs []string
	for _, part := range strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '?' || r == ';'
	}) {
		if part = strings.TrimSpace(part); part != "" {
			subs = append(subs, part)
		}
	}
	return subs, nil
}

func (demoDecomposer) Aggregate(ctx context.Context, results []pipeline.SubResult) (pipeline.Payload, error) {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, r.Payload.Content)
	}
	return pipeline.Payload{
		Content:   strings.Join(parts, "\n"),
		Source:    "demo",
		Generated: time.Now(),
	}, nil
}

type demoVerifier struct{}

func (demoVerifier) Verify(ctx context.Context, text string, payload pipeline.Payload, settings pipeline.VerifySettings) (pipeline.Verification, error) {
	if strings.TrimSpace(payload.Content) == "" {
		return pipeline.Verification{Verdict: pipeline.VerdictRejected, Confidence: 0.1}, nil
	}
	return pipeline.Verification{Verdict: pipeline.VerdictConsistent, Confidence: 0.9}, nil
}

const fingerprintDims = 64

// demoFingerprinter maps text to a bag-of-words hash vector, so
// paraphrases sharing most words land near each other.
type demoFingerprinter struct{}

func (demoFingerprinter) Fingerprint(ctx context.Context, text string) ([]float64, error) {
	v := make([]float64, fingerprintDims)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		v[h.Sum32()%fingerprintDims]++
	}
	return v, nil
}
