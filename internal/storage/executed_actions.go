package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/opsloop/saiban/internal/model"
)

// CreateExecutedAction inserts an ExecutedAction. A unique-violation on
// decision_id (at-most-one ExecutedAction per Decision) is treated as a
// successful idempotent replay: the existing row is fetched and returned.
func (db *DB) CreateExecutedAction(ctx context.Context, a model.ExecutedAction) (model.ExecutedAction, error) {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO executed_actions (
			id, decision_id, external_ticket_key, external_ticket_id,
			assigned_human_id, backup_human_ids, fallback_message, fallback_used, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		a.ID, a.DecisionID, a.ExternalTicketKey, a.ExternalTicketID,
		a.AssignedHumanID, a.BackupHumanIDs, a.FallbackMessage, a.FallbackUsed, a.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			existing, getErr := db.GetExecutedActionByDecision(ctx, a.DecisionID)
			if getErr != nil {
				return model.ExecutedAction{}, fmt.Errorf("storage: fetch existing executed action after conflict: %w", getErr)
			}
			return existing, nil
		}
		return model.ExecutedAction{}, fmt.Errorf("storage: create executed action: %w", err)
	}
	return a, nil
}

// GetExecutedActionByDecision fetches the (at most one) ExecutedAction for a decision.
func (db *DB) GetExecutedActionByDecision(ctx context.Context, decisionID uuid.UUID) (model.ExecutedAction, error) {
	row := db.pool.QueryRow(ctx, `
		SELECT id, decision_id, external_ticket_key, external_ticket_id,
		       assigned_human_id, backup_human_ids, fallback_message, fallback_used, created_at
		FROM executed_actions WHERE decision_id = $1`, decisionID)
	return scanExecutedAction(row)
}

// ListExecutedActionsByDecision returns the (0 or 1) ExecutedAction rows for
// a decision, matching the GET /executed_actions?decision_id list shape.
func (db *DB) ListExecutedActionsByDecision(ctx context.Context, decisionID uuid.UUID) ([]model.ExecutedAction, error) {
	a, err := db.GetExecutedActionByDecision(ctx, decisionID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []model.ExecutedAction{a}, nil
}

func scanExecutedAction(row rowScanner) (model.ExecutedAction, error) {
	var a model.ExecutedAction
	err := row.Scan(
		&a.ID, &a.DecisionID, &a.ExternalTicketKey, &a.ExternalTicketID,
		&a.AssignedHumanID, &a.BackupHumanIDs, &a.FallbackMessage, &a.FallbackUsed, &a.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ExecutedAction{}, ErrNotFound
	}
	if err != nil {
		return model.ExecutedAction{}, fmt.Errorf("storage: scan executed action: %w", err)
	}
	return a, nil
}
