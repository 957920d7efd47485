package model

import (
	"time"

	"github.com/google/uuid"
)

// ResolvedEdge is an append-only record that a human resolved a work item.
// Duplicates (same human_id, work_item_id) are ignored on insert.
type ResolvedEdge struct {
	HumanID    string    `json:"human_id"`
	WorkItemID uuid.UUID `json:"work_item_id"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// TransferredEdge is an append-only record that a work item moved from one
// human to another, either by explicit reassignment or by escalation.
type TransferredEdge struct {
	WorkItemID    uuid.UUID `json:"work_item_id"`
	FromHumanID   string    `json:"from_human_id"`
	ToHumanID     string    `json:"to_human_id"`
	TransferredAt time.Time `json:"transferred_at"`
}
