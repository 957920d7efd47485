package model

import (
	"time"

	"github.com/google/uuid"
)

// Decision is the routing outcome for a single WorkItem: one primary human
// plus up to two ordered backups, with a confidence score.
type Decision struct {
	ID              uuid.UUID   `json:"id"`
	WorkItemID      uuid.UUID   `json:"work_item_id"`
	PrimaryHumanID  string      `json:"primary_human_id"`
	BackupHumanIDs  []string    `json:"backup_human_ids"`
	Confidence      float64     `json:"confidence"`
	CreatedAt       time.Time   `json:"created_at"`
}

// DecisionCandidate records every human considered for a Decision, whether
// or not they were ultimately selected or filtered out by a constraint.
type DecisionCandidate struct {
	DecisionID     uuid.UUID          `json:"decision_id"`
	HumanID        string             `json:"human_id"`
	Score          float64            `json:"score"`
	Rank           int                `json:"rank"`
	Filtered       bool               `json:"filtered"`
	FilterReason   *string            `json:"filter_reason,omitempty"`
	ScoreBreakdown map[string]float64 `json:"score_breakdown"`
}

// ConstraintResult is one constraint evaluation against one candidate,
// persisted for audit regardless of whether it passed.
type ConstraintResult struct {
	DecisionID     uuid.UUID `json:"decision_id"`
	HumanID        string    `json:"human_id"`
	ConstraintName string    `json:"constraint_name"`
	Passed         bool      `json:"passed"`
	Reason         *string   `json:"reason,omitempty"`
}

// SimilarIncident is one neighbor returned by a same-service nearest-neighbor
// search against previously ingested WorkItems.
type SimilarIncident struct {
	NeighborID string   `json:"neighbor_id"`
	ResolverID *string  `json:"resolver_id,omitempty"`
	Similarity float64  `json:"similarity"`
}

// Audit is the full read-only trail for a decided WorkItem: the Decision
// itself plus every candidate and constraint result considered.
type Audit struct {
	Decision    Decision             `json:"decision"`
	Candidates  []DecisionCandidate  `json:"candidates"`
	Constraints []ConstraintResult   `json:"constraints"`
}
