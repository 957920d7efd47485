package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/opsloop/saiban/internal/model"
)

// GetDecisionByWorkItem fetches the (at most one) Decision for a work item.
// Returns ErrNotFound if none exists yet — used by decide's idempotence check.
func (db *DB) GetDecisionByWorkItem(ctx context.Context, workItemID uuid.UUID) (model.Decision, error) {
	row := db.pool.QueryRow(ctx, `
		SELECT id, work_item_id, primary_human_id, backup_human_ids, confidence, created_at
		FROM decisions WHERE work_item_id = $1`, workItemID)
	return scanDecision(row)
}

func scanDecision(row rowScanner) (model.Decision, error) {
	var d model.Decision
	err := row.Scan(&d.ID, &d.WorkItemID, &d.PrimaryHumanID, &d.BackupHumanIDs, &d.Confidence, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Decision{}, ErrNotFound
	}
	if err != nil {
		return model.Decision{}, fmt.Errorf("storage: scan decision: %w", err)
	}
	return d, nil
}

// CreateDecisionTx persists a Decision plus its DecisionCandidate and
// ConstraintResult rows in a single transaction. A unique-violation on
// work_item_id is treated as a successful idempotent replay: the existing
// Decision is fetched and returned instead of propagating a Conflict error.
func (db *DB) CreateDecisionTx(ctx context.Context, d model.Decision, candidates []model.DecisionCandidate, constraints []model.ConstraintResult) (model.Decision, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Decision{}, fmt.Errorf("storage: begin decision tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO decisions (id, work_item_id, primary_human_id, backup_human_ids, confidence, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		d.ID, d.WorkItemID, d.PrimaryHumanID, d.BackupHumanIDs, d.Confidence, d.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			existing, getErr := db.GetDecisionByWorkItem(ctx, d.WorkItemID)
			if getErr != nil {
				return model.Decision{}, fmt.Errorf("storage: fetch existing decision after conflict: %w", getErr)
			}
			return existing, nil
		}
		return model.Decision{}, fmt.Errorf("storage: insert decision: %w", err)
	}

	for _, c := range candidates {
		_, err = tx.Exec(ctx, `
			INSERT INTO decision_candidates (decision_id, human_id, score, rank, filtered, filter_reason, score_breakdown)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			c.DecisionID, c.HumanID, c.Score, c.Rank, c.Filtered, c.FilterReason, c.ScoreBreakdown)
		if err != nil {
			return model.Decision{}, fmt.Errorf("storage: insert decision candidate: %w", err)
		}
	}

	for _, r := range constraints {
		_, err = tx.Exec(ctx, `
			INSERT INTO constraint_results (decision_id, human_id, constraint_name, passed, reason)
			VALUES ($1,$2,$3,$4,$5)`,
			r.DecisionID, r.HumanID, r.ConstraintName, r.Passed, r.Reason)
		if err != nil {
			return model.Decision{}, fmt.Errorf("storage: insert constraint result: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Decision{}, fmt.Errorf("storage: commit decision tx: %w", err)
	}
	return d, nil
}

// GetAudit fetches the full candidate and constraint trail for a decided WorkItem.
func (db *DB) GetAudit(ctx context.Context, workItemID uuid.UUID) (model.Audit, error) {
	d, err := db.GetDecisionByWorkItem(ctx, workItemID)
	if err != nil {
		return model.Audit{}, err
	}

	candRows, err := db.pool.Query(ctx, `
		SELECT decision_id, human_id, score, rank, filtered, filter_reason, score_breakdown
		FROM decision_candidates WHERE decision_id = $1 ORDER BY rank`, d.ID)
	if err != nil {
		return model.Audit{}, fmt.Errorf("storage: list decision candidates: %w", err)
	}
	defer candRows.Close()
	var candidates []model.DecisionCandidate
	for candRows.Next() {
		var c model.DecisionCandidate
		if err := candRows.Scan(&c.DecisionID, &c.HumanID, &c.Score, &c.Rank, &c.Filtered, &c.FilterReason, &c.ScoreBreakdown); err != nil {
			return model.Audit{}, fmt.Errorf("storage: scan decision candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := candRows.Err(); err != nil {
		return model.Audit{}, err
	}

	consRows, err := db.pool.Query(ctx, `
		SELECT decision_id, human_id, constraint_name, passed, reason
		FROM constraint_results WHERE decision_id = $1`, d.ID)
	if err != nil {
		return model.Audit{}, fmt.Errorf("storage: list constraint results: %w", err)
	}
	defer consRows.Close()
	var constraints []model.ConstraintResult
	for consRows.Next() {
		var c model.ConstraintResult
		if err := consRows.Scan(&c.DecisionID, &c.HumanID, &c.ConstraintName, &c.Passed, &c.Reason); err != nil {
			return model.Audit{}, fmt.Errorf("storage: scan constraint result: %w", err)
		}
		constraints = append(constraints, c)
	}
	if err := consRows.Err(); err != nil {
		return model.Audit{}, err
	}

	return model.Audit{Decision: d, Candidates: candidates, Constraints: constraints}, nil
}
