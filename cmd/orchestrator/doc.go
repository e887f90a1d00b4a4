// Copyright 2026 Meridian Systems
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the Meridian orchestrator service.
//
// The orchestrator analyzes each incoming request, synthesizes a
// processing plan under a per-request cost ceiling, and executes it
// over circuit-broken backend pipelines with a similarity-keyed
// response cache in front.
//
// Usage:
//
//	./orchestrator [config.yaml]
//
// Environment variables:
//
//	PORT         - HTTP server port (default: 8081)
//	DATABASE_URL - PostgreSQL connection string for usage metering (optional)
package main
