// Copyright 2026 Meridian Systems
// SPDX-License-Identifier: Apache-2.0

// Package pool manages pooled backend connections with per-dependency
// circuit breaking.
//
// The Manager keeps at most one live connection per dependency id,
// health-checks it before reuse, and sweeps idle connections on a timer.
// Connection creation runs through that dependency's Breaker so a flapping
// backend fails fast instead of piling up timeouts.
//
// Checkout is scoped: WithConnection guarantees checkin and metrics
// updates on every exit path.
package pool
