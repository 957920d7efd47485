package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/opsloop/saiban/internal/model"
)

// OutcomeProcessed reports whether event_id has already been applied.
func (db *DB) OutcomeProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM outcomes_dedupe WHERE event_id = $1)`, eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("storage: check outcome processed: %w", err)
	}
	return exists, nil
}

// MarkOutcomeProcessed inserts event_id into the dedupe table within an
// existing transaction. Callers run this as the last statement of the
// transaction that applies the outcome's stat updates.
func markOutcomeProcessedTx(ctx context.Context, tx pgx.Tx, o model.Outcome) error {
	_, err := tx.Exec(ctx, `INSERT INTO outcomes_dedupe (event_id, processed_at) VALUES ($1, $2)`, o.EventID, o.Timestamp)
	if err != nil {
		return fmt.Errorf("storage: mark outcome processed: %w", err)
	}
	return nil
}

// InsertResolvedEdgeTx inserts a ResolvedEdge, ignoring duplicates.
func insertResolvedEdgeTx(ctx context.Context, tx pgx.Tx, e model.ResolvedEdge) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO resolved_edges (human_id, work_item_id, resolved_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (human_id, work_item_id) DO NOTHING`, e.HumanID, e.WorkItemID, e.ResolvedAt)
	if err != nil {
		return fmt.Errorf("storage: insert resolved edge: %w", err)
	}
	return nil
}

// InsertTransferredEdgeTx inserts a TransferredEdge, ignoring duplicates.
func insertTransferredEdgeTx(ctx context.Context, tx pgx.Tx, e model.TransferredEdge) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO transferred_edges (work_item_id, from_human_id, to_human_id, transferred_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (work_item_id, from_human_id, to_human_id, transferred_at) DO NOTHING`,
		e.WorkItemID, e.FromHumanID, e.ToHumanID, e.TransferredAt)
	if err != nil {
		return fmt.Errorf("storage: insert transferred edge: %w", err)
	}
	return nil
}

func upsertHumanServiceStatsTx(ctx context.Context, tx pgx.Tx, s model.HumanServiceStats) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO human_service_stats (human_id, service, fit_score, resolves_count, transfers_count, last_resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (human_id, service) DO UPDATE SET
			fit_score = EXCLUDED.fit_score,
			resolves_count = EXCLUDED.resolves_count,
			transfers_count = EXCLUDED.transfers_count,
			last_resolved_at = COALESCE(EXCLUDED.last_resolved_at, human_service_stats.last_resolved_at)`,
		s.HumanID, s.Service, s.FitScore, s.ResolvesCount, s.TransfersCount, s.LastResolvedAt)
	if err != nil {
		return fmt.Errorf("storage: upsert human service stats tx: %w", err)
	}
	return nil
}

func getHumanServiceStatsTx(ctx context.Context, tx pgx.Tx, humanID, service string) (model.HumanServiceStats, error) {
	row := tx.QueryRow(ctx, `
		SELECT human_id, service, fit_score, resolves_count, transfers_count, last_resolved_at, created_at
		FROM human_service_stats WHERE human_id = $1 AND service = $2 FOR UPDATE`, humanID, service)
	var s model.HumanServiceStats
	err := row.Scan(&s.HumanID, &s.Service, &s.FitScore, &s.ResolvesCount, &s.TransfersCount, &s.LastResolvedAt, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.HumanServiceStats{HumanID: humanID, Service: service, FitScore: 0.5}, nil
	}
	if err != nil {
		return model.HumanServiceStats{}, fmt.Errorf("storage: get human service stats tx: %w", err)
	}
	return s, nil
}

func adjustHumanActiveItemsTx(ctx context.Context, tx pgx.Tx, humanID string, delta int) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO human_load (human_id, active_items, last_updated)
		VALUES ($1, GREATEST(0, $2), now())
		ON CONFLICT (human_id) DO UPDATE SET
			active_items = GREATEST(0, human_load.active_items + $2),
			last_updated = now()`, humanID, delta)
	if err != nil {
		return fmt.Errorf("storage: adjust human active items tx: %w", err)
	}
	return nil
}

// OutcomeUpdate is a single stats mutation applied as part of ApplyOutcomeTx,
// named so Learner can report exactly what changed per the source's updates list.
type OutcomeUpdate struct {
	HumanID             string
	FitScoreDelta       float64
	ResolvesCountDelta  int
	TransfersCountDelta int
}

// ApplyOutcomeTx applies fn (which reads/writes stats via the supplied helpers)
// and the dedupe marker in a single transaction. Returns (false, nil) without
// running fn if event_id was already processed. fn returns the list of
// per-human updates applied, for the caller to report back.
func (db *DB) ApplyOutcomeTx(ctx context.Context, o model.Outcome, fn func(ctx context.Context, h OutcomeTxHelpers) ([]OutcomeUpdate, error)) (bool, []OutcomeUpdate, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("storage: begin outcome tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var already bool
	err = tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM outcomes_dedupe WHERE event_id = $1)`, o.EventID).Scan(&already)
	if err != nil {
		return false, nil, fmt.Errorf("storage: check outcome dedupe tx: %w", err)
	}
	if already {
		return false, nil, nil
	}

	updates, err := fn(ctx, OutcomeTxHelpers{tx: tx})
	if err != nil {
		return false, nil, err
	}

	if err := markOutcomeProcessedTx(ctx, tx, o); err != nil {
		return false, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, nil, fmt.Errorf("storage: commit outcome tx: %w", err)
	}
	return true, updates, nil
}

// OutcomeTxHelpers exposes the transactional stat primitives to Learner's
// outcome-application closure without leaking *pgx.Tx outside this package.
type OutcomeTxHelpers struct {
	tx pgx.Tx
}

func (h OutcomeTxHelpers) GetStats(ctx context.Context, humanID, service string) (model.HumanServiceStats, error) {
	return getHumanServiceStatsTx(ctx, h.tx, humanID, service)
}

func (h OutcomeTxHelpers) UpsertStats(ctx context.Context, s model.HumanServiceStats) error {
	return upsertHumanServiceStatsTx(ctx, h.tx, s)
}

func (h OutcomeTxHelpers) InsertResolvedEdge(ctx context.Context, e model.ResolvedEdge) error {
	return insertResolvedEdgeTx(ctx, h.tx, e)
}

func (h OutcomeTxHelpers) InsertTransferredEdge(ctx context.Context, e model.TransferredEdge) error {
	return insertTransferredEdgeTx(ctx, h.tx, e)
}

func (h OutcomeTxHelpers) AdjustActiveItems(ctx context.Context, humanID string, delta int) error {
	return adjustHumanActiveItemsTx(ctx, h.tx, humanID, delta)
}

// DecisionOriginalAssignee is the narrow read-only port Learner uses to look
// up the original assignee for a reassigned outcome that omits it. It reads
// only the primary_human_id column — no writes flow backward from Learner to
// Decision's tables.
func (db *DB) DecisionOriginalAssignee(ctx context.Context, workItemID uuid.UUID) (string, error) {
	var primary string
	err := db.pool.QueryRow(ctx, `SELECT primary_human_id FROM decisions WHERE work_item_id = $1`, workItemID).Scan(&primary)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("storage: decision original assignee: %w", err)
	}
	return primary, nil
}

// RecentResolvedEdges returns up to limit of a human's most recent
// ResolvedEdges for a service, newest first, joined against work_items to
// surface the description needed for embedding refresh.
func (db *DB) RecentResolvedEdges(ctx context.Context, humanID, service string, limit int) ([]model.WorkItem, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT w.id, w.type, w.service, w.severity, w.description, w.raw_log, w.embedding,
		       w.embedding_3d_x, w.embedding_3d_y, w.embedding_3d_z,
		       w.created_at, w.origin_system, w.creator_id, w.external_ticket_key, w.story_points, w.impact
		FROM resolved_edges e
		JOIN work_items w ON w.id = e.work_item_id
		WHERE e.human_id = $1 AND w.service = $2
		ORDER BY e.resolved_at DESC
		LIMIT $3`, humanID, service, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: recent resolved edges: %w", err)
	}
	defer rows.Close()

	var out []model.WorkItem
	for rows.Next() {
		wi, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wi)
	}
	return out, rows.Err()
}
