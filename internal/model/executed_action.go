package model

import (
	"time"

	"github.com/google/uuid"
)

// ExecutedAction records the result of Execute's attempt to create an
// external ticket for a Decision. Exactly one of ExternalTicketKey or
// FallbackMessage is set.
type ExecutedAction struct {
	ID                uuid.UUID  `json:"id"`
	DecisionID        uuid.UUID  `json:"decision_id"`
	ExternalTicketKey *string    `json:"external_ticket_key,omitempty"`
	ExternalTicketID  *string    `json:"external_ticket_id,omitempty"`
	AssignedHumanID   string     `json:"assigned_human_id"`
	BackupHumanIDs    []string   `json:"backup_human_ids"`
	FallbackMessage   *string    `json:"fallback_message,omitempty"`
	FallbackUsed      bool       `json:"fallback_used"`
	CreatedAt         time.Time  `json:"created_at"`
}

// EvidenceBullet is one explanation line produced by Explain, grounded in a
// specific feature of the primary candidate (or, for the fallback path, a
// deterministic template predicate).
type EvidenceBullet struct {
	Type       string `json:"type"`
	Text       string `json:"text"`
	TimeWindow string `json:"time_window,omitempty"`
	Source     string `json:"source"`
}

// Explanation is the full output of Explain for one decision.
type Explanation struct {
	DecisionID     uuid.UUID        `json:"decision_id"`
	Bullets        []EvidenceBullet `json:"evidence"`
	WhyNotNextBest string           `json:"why_not_next_best,omitempty"`
}

// ExecuteRequest is Execute's input: everything needed to format and create
// an external ticket without a second round-trip to Decision/Ingest.
type ExecuteRequest struct {
	DecisionID      uuid.UUID        `json:"decision_id"`
	WorkItemID      uuid.UUID        `json:"work_item_id"`
	Service         string           `json:"service"`
	Severity        Severity         `json:"severity"`
	Description     string           `json:"description"`
	StoryPoints     *int             `json:"story_points,omitempty"`
	PrimaryHumanID  string           `json:"primary_human_id"`
	BackupHumanIDs  []string         `json:"backup_human_ids"`
	Evidence        []EvidenceBullet `json:"evidence,omitempty"`
}
