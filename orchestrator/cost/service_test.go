// Copyright 2026 Meridian Systems
// SPDX-License-Identifier: Apache-2.0

package cost

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meridian/platform/shared/logger"
)

func testService(budget Budget) (*Service, *InMemoryRepository) {
	repo := NewInMemoryRepository()
	return NewService(repo, budget, logger.New("cost-test")), repo
}

func TestRecordUsageAssignsID(t *testing.T) {
	svc, repo := testService(Budget{})
	ctx := context.Background()

	require.NoError(t, svc.RecordUsage(ctx, UsageRecord{RequestID: "req-1", CostUSD: 0.01}))

	recs, err := repo.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.NotEmpty(t, recs[0].ID)
	assert.False(t, recs[0].CreatedAt.IsZero())
}

func TestServiceSummary(t *testing.T) {
	svc, _ := testService(Budget{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.RecordUsage(ctx, UsageRecord{RequestID: "r", CostUSD: 0.02}))
	}

	now := time.Now()
	summary, err := svc.Summary(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(3), summary.TotalRequests)
	assert.InDelta(t, 0.06, summary.TotalCostUSD, 1e-9)
}

func TestBudgetAlertFiresOncePerCrossing(t *testing.T) {
	svc, _ := testService(Budget{LimitUSD: 0.10, Window: time.Hour, AlertThreshold: 0.5})
	ctx := context.Background()

	// Below threshold: no alert state.
	require.NoError(t, svc.RecordUsage(ctx, UsageRecord{RequestID: "r", CostUSD: 0.01}))
	assert.False(t, svc.alerted)

	// Crossing 50% of the limit flips the alert latch.
	require.NoError(t, svc.RecordUsage(ctx, UsageRecord{RequestID: "r", CostUSD: 0.05}))
	assert.True(t, svc.alerted)

	// Further spend keeps it latched rather than re-alerting.
	require.NoError(t, svc.RecordUsage(ctx, UsageRecord{RequestID: "r", CostUSD: 0.01}))
	assert.True(t, svc.alerted)
}

func TestZeroBudgetDisablesAlerts(t *testing.T) {
	svc, _ := testService(Budget{})
	ctx := context.Background()

	require.NoError(t, svc.RecordUsage(ctx, UsageRecord{RequestID: "r", CostUSD: 100}))
	assert.False(t, svc.alerted)
}
