// Copyright 2026 Meridian Systems
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// BreakerState is the current state of a circuit breaker.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half-open"
)

// CircuitOpenError indicates a call was rejected without touching the
// backend because the dependency's circuit is open.
type CircuitOpenError struct {
	DependencyID string
	RetryAfter   time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for dependency '%s' (retry after %s)", e.DependencyID, e.RetryAfter)
}

// IsCircuitOpen reports whether err is a circuit-open rejection.
func IsCircuitOpen(err error) bool {
	var coe *CircuitOpenError
	return errors.As(err, &coe)
}

// Breaker guards exactly one dependency id. Transitions:
//
//	CLOSED --(consecutive failures >= threshold)--> OPEN
//	OPEN   --(timeout elapsed, next call probes)--> HALF_OPEN
//	HALF_OPEN --(probe success)--> CLOSED (failure count zeroed)
//	HALF_OPEN --(probe failure)--> OPEN (failure count preserved)
type Breaker struct {
	dependencyID string
	threshold    int
	timeout      time.Duration

	mu                  sync.Mutex
	state               BreakerState
	consecutiveFailures int
	openedAt            time.Time
	probing             bool
	onOpen              func(dependencyID string)
}

// NewBreaker creates a breaker for one dependency id. threshold is the
// number of consecutive failures that opens the circuit; timeout is the
// cooldown before a half-open probe is allowed.
func NewBreaker(dependencyID string, threshold int, timeout time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Breaker{
		dependencyID: dependencyID,
		threshold:    threshold,
		timeout:      timeout,
		state:        StateClosed,
	}
}

// OnOpen registers a callback fired once per transition into the open
// state, including a failed half-open probe re-opening the circuit. The
// callback runs outside the breaker lock.
func (b *Breaker) OnOpen(fn func(dependencyID string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onOpen = fn
}

// Do invokes fn through the breaker. While the circuit is open and the
// cooldown has not elapsed, Do fails immediately with *CircuitOpenError
// and fn is never called. The first call after the cooldown becomes the
// half-open probe; concurrent callers during a probe are rejected rather
// than queued behind a possibly-bad dependency.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	switch b.state {
	case StateOpen:
		elapsed := time.Since(b.openedAt)
		if elapsed < b.timeout {
			retry := b.timeout - elapsed
			b.mu.Unlock()
			return &CircuitOpenError{DependencyID: b.dependencyID, RetryAfter: retry}
		}
		b.state = StateHalfOpen
		b.probing = true
	case StateHalfOpen:
		if b.probing {
			b.mu.Unlock()
			return &CircuitOpenError{DependencyID: b.dependencyID, RetryAfter: b.timeout}
		}
		b.probing = true
	}
	b.mu.Unlock()

	err := fn(ctx)

	b.mu.Lock()
	b.probing = false
	var opened func(string)
	if err != nil {
		b.consecutiveFailures++
		if b.state == StateHalfOpen || b.consecutiveFailures >= b.threshold {
			b.state = StateOpen
			b.openedAt = time.Now()
			opened = b.onOpen
		}
	} else {
		b.state = StateClosed
		b.consecutiveFailures = 0
	}
	b.mu.Unlock()

	if opened != nil {
		opened(b.dependencyID)
	}
	return err
}

// State returns the current breaker state. An open breaker whose cooldown
// has elapsed still reports open until the next call probes it.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ConsecutiveFailures returns the current failure streak.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

// DependencyID returns the id this breaker guards.
func (b *Breaker) DependencyID() string { return b.dependencyID }
