// Copyright 2026 Meridian Systems
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator adapts how each request is processed instead of
// running every request through the same fixed pipeline. A request is
// analyzed for complexity and intent, a processing plan is synthesized
// against the active profile and a per-request cost ceiling, and the
// plan is executed over pooled, circuit-broken backend connections with
// a similarity-keyed response cache in front. When resources or
// backends degrade, the planner sheds optional work in a fixed order
// rather than failing the request.
package orchestrator
