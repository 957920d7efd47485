package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/opsloop/saiban/internal/model"
)

// GetHumanServiceStats fetches the (human, service) stats row, returning
// ErrNotFound if none exists yet.
func (db *DB) GetHumanServiceStats(ctx context.Context, humanID, service string) (model.HumanServiceStats, error) {
	row := db.pool.QueryRow(ctx, `
		SELECT human_id, service, fit_score, resolves_count, transfers_count, last_resolved_at, created_at
		FROM human_service_stats WHERE human_id = $1 AND service = $2`, humanID, service)

	var s model.HumanServiceStats
	err := row.Scan(&s.HumanID, &s.Service, &s.FitScore, &s.ResolvesCount, &s.TransfersCount, &s.LastResolvedAt, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.HumanServiceStats{}, ErrNotFound
	}
	if err != nil {
		return model.HumanServiceStats{}, fmt.Errorf("storage: get human service stats: %w", err)
	}
	return s, nil
}

// UpsertHumanServiceStats inserts or fully overwrites the stats row for
// (human_id, service). Callers compute the new fit_score/counts and pass
// the complete row; the unique (human_id, service) constraint makes the
// upsert idempotent under concurrent writers.
func (db *DB) UpsertHumanServiceStats(ctx context.Context, s model.HumanServiceStats) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO human_service_stats (human_id, service, fit_score, resolves_count, transfers_count, last_resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (human_id, service) DO UPDATE SET
			fit_score = EXCLUDED.fit_score,
			resolves_count = EXCLUDED.resolves_count,
			transfers_count = EXCLUDED.transfers_count,
			last_resolved_at = EXCLUDED.last_resolved_at`,
		s.HumanID, s.Service, s.FitScore, s.ResolvesCount, s.TransfersCount, s.LastResolvedAt)
	if err != nil {
		return fmt.Errorf("storage: upsert human service stats: %w", err)
	}
	return nil
}
