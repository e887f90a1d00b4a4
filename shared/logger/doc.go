// Copyright 2026 Meridian Systems
// SPDX-License-Identifier: Apache-2.0

// Package logger provides structured JSON logging for Meridian services.
//
// Every entry is a single JSON object written to stdout so container
// runtimes can ship logs without extra parsing. Entries carry the
// component name, host, and optionally the request ID of the request
// being processed, plus free-form fields.
//
// Usage:
//
//	log := logger.New("orchestrator")
//	log.Info(requestID, "plan synthesized", map[string]interface{}{
//		"complexity": "SIMPLE",
//		"cost":       0.0021,
//	})
package logger
