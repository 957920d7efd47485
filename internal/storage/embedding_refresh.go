package storage

import (
	"context"
	"fmt"
	"time"
)

// HumanServicePair names one (human, service) combination whose capability
// embedding may need refreshing.
type HumanServicePair struct {
	HumanID string
	Service string
}

// HumansNeedingEmbeddingRefresh returns every (human, service) pair with at
// least one ResolvedEdge newer than since, the candidate set for Learner's
// periodic capability-embedding refresh.
func (db *DB) HumansNeedingEmbeddingRefresh(ctx context.Context, since time.Time) ([]HumanServicePair, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT DISTINCT e.human_id, w.service
		FROM resolved_edges e
		JOIN work_items w ON w.id = e.work_item_id
		WHERE e.resolved_at >= $1`, since)
	if err != nil {
		return nil, fmt.Errorf("storage: humans needing embedding refresh: %w", err)
	}
	defer rows.Close()

	var out []HumanServicePair
	for rows.Next() {
		var p HumanServicePair
		if err := rows.Scan(&p.HumanID, &p.Service); err != nil {
			return nil, fmt.Errorf("storage: scan human service pair: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
