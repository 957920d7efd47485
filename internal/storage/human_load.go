package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/opsloop/saiban/internal/model"
)

// GetHumanLoad fetches a human's load row. Returns ErrNotFound if absent.
func (db *DB) GetHumanLoad(ctx context.Context, humanID string) (model.HumanLoad, error) {
	row := db.pool.QueryRow(ctx, `
		SELECT human_id, pages_7d, active_items, last_updated FROM human_load WHERE human_id = $1`, humanID)
	var l model.HumanLoad
	err := row.Scan(&l.HumanID, &l.Pages7d, &l.ActiveItems, &l.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.HumanLoad{}, ErrNotFound
	}
	if err != nil {
		return model.HumanLoad{}, fmt.Errorf("storage: get human load: %w", err)
	}
	return l, nil
}

// AdjustHumanActiveItems atomically adds delta to a human's active_items,
// floored at zero, used by outcome processing (resolved decrements load).
func (db *DB) AdjustHumanActiveItems(ctx context.Context, humanID string, delta int) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO human_load (human_id, active_items, last_updated)
		VALUES ($1, GREATEST(0, $2), now())
		ON CONFLICT (human_id) DO UPDATE SET
			active_items = GREATEST(0, human_load.active_items + $2),
			last_updated = now()`, humanID, delta)
	if err != nil {
		return fmt.Errorf("storage: adjust human active items: %w", err)
	}
	return nil
}
