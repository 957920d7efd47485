package model

import (
	"time"

	"github.com/google/uuid"
)

// OutcomeType is the closed set of feedback events the Learner accepts.
type OutcomeType string

const (
	OutcomeResolved   OutcomeType = "resolved"
	OutcomeReassigned OutcomeType = "reassigned"
	OutcomeEscalated  OutcomeType = "escalated"
)

// ValidOutcomeType reports whether t is one of the closed set of outcome types.
func ValidOutcomeType(t OutcomeType) bool {
	switch t {
	case OutcomeResolved, OutcomeReassigned, OutcomeEscalated:
		return true
	default:
		return false
	}
}

// Outcome is a feedback event reporting what happened to a routed WorkItem.
// EventID is the idempotency key: replaying the same event_id is a no-op.
type Outcome struct {
	EventID       string      `json:"event_id"`
	WorkItemID    uuid.UUID   `json:"work_item_id"`
	DecisionID    *uuid.UUID  `json:"decision_id,omitempty"`
	Type          OutcomeType `json:"type"`
	ActorID       string      `json:"actor_id"`
	NewAssigneeID *string     `json:"new_assignee_id,omitempty"`
	// OriginalAssigneeID is who a reassigned/escalated outcome is taking the
	// WorkItem away from. When omitted, Learner looks it up via Decision's
	// narrow read-only port (storage.DB.DecisionOriginalAssignee).
	OriginalAssigneeID *string   `json:"original_assignee_id,omitempty"`
	Service            string    `json:"service"`
	Timestamp          time.Time `json:"timestamp"`
}

// OutcomeResult reports whether an Outcome was newly applied or was a replay
// of an event_id already processed.
type OutcomeResult struct {
	Processed bool `json:"processed"`
}

// OutcomesDedupe tracks every event_id that has been fully applied, so that
// replays are safe no-ops.
type OutcomesDedupe struct {
	EventID     string    `json:"event_id"`
	ProcessedAt time.Time `json:"processed_at"`
}

// ClosedRecord is one historical resolved item supplied to sync_closed to
// bootstrap stats from an external tracker's history.
type ClosedRecord struct {
	WorkItemID string    `json:"work_item_id"`
	HumanID    string    `json:"human_id"`
	Service    string    `json:"service"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// SyncClosedRequest is the payload for POST /sync/closed.
type SyncClosedRequest struct {
	DaysBack int     `json:"days_back"`
	Project  *string `json:"project,omitempty"`
	Records  []ClosedRecord `json:"records,omitempty"`
}
