package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ResolversForWorkItems looks up the resolving human, if any, for each of
// the given WorkItem ids — the {resolver_id (if known)} half of Decision's
// similar-incident lookup. WorkItems with no resolved_edges row are simply
// absent from the returned map.
func (db *DB) ResolversForWorkItems(ctx context.Context, workItemIDs []uuid.UUID) (map[uuid.UUID]string, error) {
	out := make(map[uuid.UUID]string, len(workItemIDs))
	if len(workItemIDs) == 0 {
		return out, nil
	}

	rows, err := db.pool.Query(ctx, `
		SELECT DISTINCT ON (work_item_id) work_item_id, human_id
		FROM resolved_edges
		WHERE work_item_id = ANY($1)
		ORDER BY work_item_id, resolved_at DESC`, workItemIDs)
	if err != nil {
		return nil, fmt.Errorf("storage: resolvers for work items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var humanID string
		if err := rows.Scan(&id, &humanID); err != nil {
			return nil, fmt.Errorf("storage: scan resolver: %w", err)
		}
		out[id] = humanID
	}
	return out, rows.Err()
}

// HumansWorkedOnService returns every human with at least one ResolvedEdge
// in the given service, for use as Decision's degraded candidate source when
// Learner itself is unreachable — "any known human who has worked on this
// service" per spec, each treated as a neutral fit_score=0.5 profile by the
// caller.
func (db *DB) HumansWorkedOnService(ctx context.Context, service string) ([]string, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT DISTINCT e.human_id
		FROM resolved_edges e
		JOIN work_items w ON w.id = e.work_item_id
		WHERE w.service = $1`, service)
	if err != nil {
		return nil, fmt.Errorf("storage: humans worked on service: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var humanID string
		if err := rows.Scan(&humanID); err != nil {
			return nil, fmt.Errorf("storage: scan human worked on service: %w", err)
		}
		out = append(out, humanID)
	}
	return out, rows.Err()
}
