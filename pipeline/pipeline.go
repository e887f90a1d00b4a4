// Copyright 2026 Meridian Systems
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"time"
)

// Payload is the opaque result produced by a backend pipeline.
type Payload struct {
	Content   string                 `json:"content"`
	Source    string                 `json:"source,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Generated time.Time              `json:"generated"`
}

// SubResult pairs a decomposed sub-query with the payload produced for it.
type SubResult struct {
	SubText string  `json:"sub_text"`
	Payload Payload `json:"payload"`
}

// Verdict is the outcome of a consistency verification pass.
type Verdict string

const (
	VerdictConsistent Verdict = "CONSISTENT"
	VerdictUncertain  Verdict = "UNCERTAIN"
	VerdictRejected   Verdict = "REJECTED"
)

// Verification is the result of checking a payload against its request.
type Verification struct {
	Verdict    Verdict `json:"verdict"`
	Confidence float64 `json:"confidence"`
	Notes      string  `json:"notes,omitempty"`
}

// VerifySettings carries the free-form knobs a plan selects for verification.
// Known keys: "strictness" (float64), "timeout_seconds" (float64),
// "max_claims" (int).
type VerifySettings map[string]interface{}

// Primary is the single-shot answer-generation backend.
type Primary interface {
	Generate(ctx context.Context, text string) (Payload, error)
}

// Decomposer splits a complex request into sub-queries and aggregates
// their results into one payload.
type Decomposer interface {
	Decompose(ctx context.Context, text string) ([]string, error)
	Aggregate(ctx context.Context, results []SubResult) (Payload, error)
}

// Multimodal handles requests that reference media artifacts.
type Multimodal interface {
	Process(ctx context.Context, text string, mediaRefs []string) (Payload, error)
}

// Verifier checks a payload for consistency with the request that
// produced it.
type Verifier interface {
	Verify(ctx context.Context, text string, payload Payload, settings VerifySettings) (Verification, error)
}

// Fingerprinter computes the vector fingerprint used for similarity-based
// cache lookup. Embedding computation is an external concern consumed only
// through this contract.
type Fingerprinter interface {
	Fingerprint(ctx context.Context, text string) ([]float64, error)
}
