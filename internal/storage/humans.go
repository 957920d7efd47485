package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/opsloop/saiban/internal/model"
)

// GetHuman fetches a Human by id. Returns ErrNotFound if absent.
func (db *DB) GetHuman(ctx context.Context, id string) (model.Human, error) {
	row := db.pool.QueryRow(ctx, `
		SELECT id, display_name, tracker_account_id, capability_embedding,
		       capability_coords_x, capability_coords_y, capability_coords_z,
		       max_story_points, current_story_points, active, on_call, created_at
		FROM humans WHERE id = $1`, id)
	return scanHuman(row)
}

func scanHuman(row rowScanner) (model.Human, error) {
	var h model.Human
	var embX, embY, embZ *float64
	var embedding *pgvector.Vector
	err := row.Scan(
		&h.ID, &h.DisplayName, &h.TrackerAccountID, &embedding,
		&embX, &embY, &embZ,
		&h.MaxStoryPoints, &h.CurrentStoryPoints, &h.Active, &h.OnCall, &h.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Human{}, ErrNotFound
	}
	if err != nil {
		return model.Human{}, fmt.Errorf("storage: scan human: %w", err)
	}
	h.CapabilityEmbedding = embedding
	if embX != nil && embY != nil && embZ != nil {
		h.CapabilityCoords3D = &model.Coords3D{X: *embX, Y: *embY, Z: *embZ}
	}
	return h, nil
}

// SetHumanCapabilityEmbedding persists a human's refreshed capability
// embedding and PCA projection, computed from their recent resolved items.
func (db *DB) SetHumanCapabilityEmbedding(ctx context.Context, humanID string, embedding pgvector.Vector, coords model.Coords3D) error {
	_, err := db.pool.Exec(ctx, `
		UPDATE humans
		SET capability_embedding = $2, capability_coords_x = $3, capability_coords_y = $4, capability_coords_z = $5
		WHERE id = $1`, humanID, embedding, coords.X, coords.Y, coords.Z)
	if err != nil {
		return fmt.Errorf("storage: set human capability embedding: %w", err)
	}
	return nil
}

// CandidateProfiles returns every human with a HumanServiceStats row for
// the given service, joined with load and capacity signals, sorted by
// stored fit_score descending (ties broken by the caller's scoring step,
// not here).
func (db *DB) CandidateProfiles(ctx context.Context, service string) ([]model.CandidateProfile, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT
			h.id, h.display_name, s.fit_score, s.resolves_count, s.transfers_count,
			s.last_resolved_at, COALESCE(l.pages_7d, 0), COALESCE(l.active_items, 0),
			h.max_story_points, h.current_story_points, h.active, h.on_call, h.tracker_account_id
		FROM human_service_stats s
		JOIN humans h ON h.id = s.human_id
		LEFT JOIN human_load l ON l.human_id = h.id
		WHERE s.service = $1
		ORDER BY s.fit_score DESC`, service)
	if err != nil {
		return nil, fmt.Errorf("storage: candidate profiles: %w", err)
	}
	defer rows.Close()

	var out []model.CandidateProfile
	for rows.Next() {
		var p model.CandidateProfile
		if err := rows.Scan(
			&p.HumanID, &p.DisplayName, &p.FitScore, &p.ResolvesCount, &p.TransfersCount,
			&p.LastResolvedAt, &p.Pages7d, &p.ActiveItems,
			&p.MaxStoryPoints, &p.CurrentStoryPoints, &p.Active, &p.OnCall, &p.TrackerAccountID,
		); err != nil {
			return nil, fmt.Errorf("storage: scan candidate profile: %w", err)
		}
		p.ResolvedBySeverity = map[string]int{}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	bySeverity, err := db.resolvedCountsBySeverity(ctx, service)
	if err != nil {
		return nil, err
	}
	for i := range out {
		if counts, ok := bySeverity[out[i].HumanID]; ok {
			out[i].ResolvedBySeverity = counts
		}
	}
	return out, nil
}

// resolvedCountsBySeverity aggregates, per human, how many ResolvedEdges in
// the given service were against each WorkItem severity — the breakdown
// Explain and operator tooling use to show "handled N sev1s" alongside the
// raw resolves_count.
func (db *DB) resolvedCountsBySeverity(ctx context.Context, service string) (map[string]map[string]int, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT e.human_id, w.severity, COUNT(*)
		FROM resolved_edges e
		JOIN work_items w ON w.id = e.work_item_id
		WHERE w.service = $1
		GROUP BY e.human_id, w.severity`, service)
	if err != nil {
		return nil, fmt.Errorf("storage: resolved counts by severity: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[string]int)
	for rows.Next() {
		var humanID, severity string
		var count int
		if err := rows.Scan(&humanID, &severity, &count); err != nil {
			return nil, fmt.Errorf("storage: scan resolved count by severity: %w", err)
		}
		if out[humanID] == nil {
			out[humanID] = map[string]int{}
		}
		out[humanID][severity] = count
	}
	return out, rows.Err()
}

// HumanStats returns the aggregate-across-services view for a single human.
func (db *DB) HumanStats(ctx context.Context, humanID string) (model.HumanStatsSummary, error) {
	summary := model.HumanStatsSummary{HumanID: humanID, Stats: map[string]model.HumanServiceStats{}}

	rows, err := db.pool.Query(ctx, `
		SELECT human_id, service, fit_score, resolves_count, transfers_count, last_resolved_at, created_at
		FROM human_service_stats WHERE human_id = $1`, humanID)
	if err != nil {
		return summary, fmt.Errorf("storage: human stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var s model.HumanServiceStats
		if err := rows.Scan(&s.HumanID, &s.Service, &s.FitScore, &s.ResolvesCount, &s.TransfersCount, &s.LastResolvedAt, &s.CreatedAt); err != nil {
			return summary, fmt.Errorf("storage: scan human stats: %w", err)
		}
		summary.Stats[s.Service] = s
	}
	if err := rows.Err(); err != nil {
		return summary, err
	}

	load, err := db.GetHumanLoad(ctx, humanID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return summary, err
	}
	summary.Load = load
	return summary, nil
}
