// Copyright 2026 Meridian Systems
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"meridian/platform/pool"
)

// InvalidInputError indicates a request was rejected before any backend
// call was attempted.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid input: " + e.Reason
}

// IsInvalidInput reports whether err is an input rejection.
func IsInvalidInput(err error) bool {
	var iie *InvalidInputError
	return errors.As(err, &iie)
}

// BackendError wraps a failure from a backend pipeline. It is retried
// only by the single fallback step, never in a loop.
type BackendError struct {
	DependencyID string
	Err          error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend '%s' failed: %v", e.DependencyID, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// TimeoutError indicates a per-call or per-request ceiling was exceeded.
type TimeoutError struct {
	DependencyID string
	Scope        string // "call" or "request"
}

func (e *TimeoutError) Error() string {
	if e.DependencyID != "" {
		return fmt.Sprintf("%s timeout waiting on '%s'", e.Scope, e.DependencyID)
	}
	return e.Scope + " timeout"
}

// IsTimeout reports whether err is a timeout, including raw context
// deadline errors from abandoned calls.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te) || errors.Is(err, context.DeadlineExceeded)
}

// failureCause classifies an internal error into a short, non-sensitive
// label safe to surface to callers. Internal messages, backend
// identifiers, and stack traces never reach the response.
func failureCause(err error) string {
	switch {
	case err == nil:
		return "none"
	case IsInvalidInput(err):
		return "invalid input"
	case pool.IsCircuitOpen(err):
		return "dependency temporarily unavailable"
	case IsTimeout(err):
		return "timed out"
	default:
		return "backend error"
	}
}
