package model

import (
	"time"

	"github.com/google/uuid"
)

// CandidateFeatures is the subset of a candidate's profile and score
// breakdown that Explain is allowed to reference. Fields absent here must
// never appear in generated evidence.
type CandidateFeatures struct {
	HumanID              string             `json:"human_id"`
	DisplayName          string             `json:"display_name"`
	FitScore             float64            `json:"fit_score"`
	ResolvesCount        int                `json:"resolves_count"`
	TransfersCount       int                `json:"transfers_count"`
	LastResolvedAt       *time.Time         `json:"last_resolved_at,omitempty"`
	OnCall               bool               `json:"on_call"`
	Pages7d              int                `json:"pages_7d"`
	ActiveItems          int                `json:"active_items"`
	SimilarIncidentScore *float64           `json:"similar_incident_score,omitempty"`
	ScoreBreakdown       map[string]float64 `json:"score_breakdown,omitempty"`
}

// ExplainRequest is Explain's input: a WorkItem summary, the primary
// candidate's full feature set, up to three backup feature vectors, and the
// constraint results considered during Decision.
type ExplainRequest struct {
	DecisionID  uuid.UUID           `json:"decision_id"`
	WorkItemID  uuid.UUID           `json:"work_item_id"`
	Service     string              `json:"service"`
	Severity    Severity            `json:"severity"`
	Description string              `json:"description"`
	Primary     CandidateFeatures   `json:"primary"`
	Backups     []CandidateFeatures `json:"backups"`
	Constraints []ConstraintResult  `json:"constraints"`
}
