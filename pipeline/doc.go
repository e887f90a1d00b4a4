// Copyright 2026 Meridian Systems
// SPDX-License-Identifier: Apache-2.0

// Package pipeline defines the narrow capability contracts the
// orchestrator consumes: answer generation, decomposition/aggregation,
// multimodal processing, consistency verification, and fingerprint
// computation. Backends are pluggable; the orchestrator never depends on
// their internals.
//
// The package also carries FeatureStatus, the explicit sum type the plan
// synthesizer consults instead of probing backends with exceptions:
// a feature is Enabled, Disabled, or Degraded with a reason.
package pipeline
