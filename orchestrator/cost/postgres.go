// Copyright 2026 Meridian Systems
// SPDX-License-Identifier: Apache-2.0

package cost

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresRepository implements Repository on PostgreSQL.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository wraps an open database handle.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, rec UsageRecord) error {
	query := `
		INSERT INTO usage_records (
			id, request_id, profile, outcome, cost_usd, latency_ms, cache_hit, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.RequestID, rec.Profile, rec.Outcome,
		rec.CostUSD, rec.LatencyMS, rec.CacheHit, rec.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrRecordExists
		}
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Summarize(ctx context.Context, from, to time.Time) (UsageSummary, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(cost_usd), 0),
		       COALESCE(SUM(CASE WHEN cache_hit THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(latency_ms), 0)
		FROM usage_records
		WHERE created_at >= $1 AND created_at <= $2
	`
	summary := UsageSummary{WindowStart: from, WindowEnd: to}
	err := r.db.QueryRowContext(ctx, query, from, to).Scan(
		&summary.TotalRequests, &summary.TotalCostUSD,
		&summary.CacheHits, &summary.AvgLatencyMS,
	)
	if err != nil {
		return UsageSummary{}, fmt.Errorf("failed to summarize usage: %w", err)
	}
	return summary, nil
}

func (r *PostgresRepository) Recent(ctx context.Context, limit int) ([]UsageRecord, error) {
	query := `
		SELECT id, request_id, profile, outcome, cost_usd, latency_ms, cache_hit, created_at
		FROM usage_records
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	defer rows.Close()

	var out []UsageRecord
	for rows.Next() {
		var rec UsageRecord
		if err := rows.Scan(
			&rec.ID, &rec.RequestID, &rec.Profile, &rec.Outcome,
			&rec.CostUSD, &rec.LatencyMS, &rec.CacheHit, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
