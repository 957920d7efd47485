package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/opsloop/saiban/internal/model"
)

// CreateWorkItem inserts a new WorkItem. The row is committed before any
// decision trigger fires, so a caller can rely on read-your-writes for the
// returned ID immediately afterward.
func (db *DB) CreateWorkItem(ctx context.Context, wi model.WorkItem) error {
	var embX, embY, embZ *float64
	if wi.Embedding3D != nil {
		embX, embY, embZ = &wi.Embedding3D.X, &wi.Embedding3D.Y, &wi.Embedding3D.Z
	}
	_, err := db.pool.Exec(ctx, `
		INSERT INTO work_items (
			id, type, service, severity, description, raw_log, embedding,
			embedding_3d_x, embedding_3d_y, embedding_3d_z,
			created_at, origin_system, creator_id, external_ticket_key, story_points, impact
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		wi.ID, wi.Type, wi.Service, wi.Severity, wi.Description, wi.RawLog, wi.Embedding,
		embX, embY, embZ,
		wi.CreatedAt, wi.OriginSystem, wi.CreatorID, wi.ExternalTicketKey, wi.StoryPoints, wi.Impact,
	)
	if err != nil {
		return fmt.Errorf("storage: create work item: %w", err)
	}
	return nil
}

// GetWorkItem fetches a WorkItem by id. Returns ErrNotFound if absent.
func (db *DB) GetWorkItem(ctx context.Context, id uuid.UUID) (model.WorkItem, error) {
	row := db.pool.QueryRow(ctx, `
		SELECT id, type, service, severity, description, raw_log, embedding,
		       embedding_3d_x, embedding_3d_y, embedding_3d_z,
		       created_at, origin_system, creator_id, external_ticket_key, story_points, impact
		FROM work_items WHERE id = $1`, id)
	return scanWorkItem(row)
}

// ListWorkItems returns WorkItems matching the given filter, newest first.
func (db *DB) ListWorkItems(ctx context.Context, f model.WorkItemFilter) ([]model.WorkItem, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx, `
		SELECT id, type, service, severity, description, raw_log, embedding,
		       embedding_3d_x, embedding_3d_y, embedding_3d_z,
		       created_at, origin_system, creator_id, external_ticket_key, story_points, impact
		FROM work_items
		WHERE ($1 = '' OR service = $1) AND ($2 = '' OR severity = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`, f.Service, string(f.Severity), limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("storage: list work items: %w", err)
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

// SetWorkItemExternalTicketKey best-effort updates the external ticket key
// on a WorkItem after Execute creates a ticket. Failures here never roll
// back the ExecutedAction that triggered them.
func (db *DB) SetWorkItemExternalTicketKey(ctx context.Context, id uuid.UUID, key string) error {
	_, err := db.pool.Exec(ctx, `UPDATE work_items SET external_ticket_key = $2 WHERE id = $1`, id, key)
	if err != nil {
		return fmt.Errorf("storage: set external ticket key: %w", err)
	}
	return nil
}

// SetWorkItemEmbedding persists the dense embedding and PCA projection for
// a WorkItem, used when Ingest computes them after the initial insert.
func (db *DB) SetWorkItemEmbedding(ctx context.Context, id uuid.UUID, embedding pgvector.Vector, coords model.Coords3D) error {
	_, err := db.pool.Exec(ctx, `
		UPDATE work_items
		SET embedding = $2, embedding_3d_x = $3, embedding_3d_y = $4, embedding_3d_z = $5
		WHERE id = $1`, id, embedding, coords.X, coords.Y, coords.Z)
	if err != nil {
		return fmt.Errorf("storage: set work item embedding: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkItem(row rowScanner) (model.WorkItem, error) {
	var wi model.WorkItem
	var embX, embY, embZ *float64
	var embedding *pgvector.Vector
	err := row.Scan(
		&wi.ID, &wi.Type, &wi.Service, &wi.Severity, &wi.Description, &wi.RawLog, &embedding,
		&embX, &embY, &embZ,
		&wi.CreatedAt, &wi.OriginSystem, &wi.CreatorID, &wi.ExternalTicketKey, &wi.StoryPoints, &wi.Impact,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.WorkItem{}, ErrNotFound
	}
	if err != nil {
		return model.WorkItem{}, fmt.Errorf("storage: scan work item: %w", err)
	}
	wi.Embedding = embedding
	if embX != nil && embY != nil && embZ != nil {
		wi.Embedding3D = &model.Coords3D{X: *embX, Y: *embY, Z: *embZ}
	}
	return wi, nil
}
