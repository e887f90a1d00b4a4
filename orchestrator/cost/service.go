// Copyright 2026 Meridian Systems
// SPDX-License-Identifier: Apache-2.0

package cost

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"meridian/platform/shared/logger"
)

// Service meters request usage and raises a log alert when spend over
// the budget window crosses the configured threshold.
type Service struct {
	repo   Repository
	budget Budget
	log    *logger.Logger

	mu      sync.Mutex
	alerted bool
}

// NewService creates a metering service. A zero budget disables alerts.
func NewService(repo Repository, budget Budget, log *logger.Logger) *Service {
	if budget.Window <= 0 {
		budget.Window = 24 * time.Hour
	}
	if budget.AlertThreshold <= 0 {
		budget.AlertThreshold = 0.8
	}
	return &Service{repo: repo, budget: budget, log: log}
}

// RecordUsage persists one record, assigning an ID when absent, then
// checks the budget window.
func (s *Service) RecordUsage(ctx context.Context, rec UsageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if err := s.repo.Insert(ctx, rec); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	s.checkBudget(ctx, rec.RequestID)
	return nil
}

// Summary aggregates usage over the given window.
func (s *Service) Summary(ctx context.Context, from, to time.Time) (UsageSummary, error) {
	return s.repo.Summarize(ctx, from, to)
}

// Recent returns the newest records, up to limit.
func (s *Service) Recent(ctx context.Context, limit int) ([]UsageRecord, error) {
	return s.repo.Recent(ctx, limit)
}

// checkBudget logs a single alert per crossing. The alerted flag resets
// once spend falls back under the threshold, so a later crossing in a
// new window alerts again.
func (s *Service) checkBudget(ctx context.Context, requestID string) {
	if s.budget.LimitUSD <= 0 {
		return
	}
	now := time.Now()
	summary, err := s.repo.Summarize(ctx, now.Add(-s.budget.Window), now)
	if err != nil {
		s.log.ErrorWithErr(requestID, "budget check failed", err, nil)
		return
	}
	over := summary.TotalCostUSD >= s.budget.LimitUSD*s.budget.AlertThreshold

	s.mu.Lock()
	fire := over && !s.alerted
	s.alerted = over
	s.mu.Unlock()

	if fire {
		s.log.Warn(requestID, "budget threshold crossed", map[string]interface{}{
			"spent_usd":  summary.TotalCostUSD,
			"limit_usd":  s.budget.LimitUSD,
			"threshold":  s.budget.AlertThreshold,
			"window_hrs": s.budget.Window.Hours(),
		})
	}
}
