package model

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// Human is a responder identity.
type Human struct {
	ID                    string           `json:"id"`
	DisplayName           string           `json:"display_name"`
	TrackerAccountID      *string          `json:"tracker_account_id,omitempty"`
	CapabilityEmbedding   *pgvector.Vector `json:"-"`
	CapabilityCoords3D    *Coords3D        `json:"capability_coords_3d,omitempty"`
	MaxStoryPoints        int              `json:"max_story_points"`
	CurrentStoryPoints    int              `json:"current_story_points"`
	Active                bool             `json:"active"`
	OnCall                bool             `json:"on_call"`
	CreatedAt             time.Time        `json:"created_at"`
}

// HumanServiceStats is the learned fit per (human, service) pair.
type HumanServiceStats struct {
	HumanID        string     `json:"human_id"`
	Service        string     `json:"service"`
	FitScore       float64    `json:"fit_score"`
	ResolvesCount  int        `json:"resolves_count"`
	TransfersCount int        `json:"transfers_count"`
	LastResolvedAt *time.Time `json:"last_resolved_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// HumanLoad is a short-window load signal for a human.
type HumanLoad struct {
	HumanID     string    `json:"human_id"`
	Pages7d     int       `json:"pages_7d"`
	ActiveItems int       `json:"active_items"`
	LastUpdated time.Time `json:"last_updated"`
}

// CandidateProfile is the row shape returned by Learner's get_profiles,
// one per human who has stats in the requested service.
type CandidateProfile struct {
	HumanID              string         `json:"human_id"`
	DisplayName          string         `json:"display_name"`
	FitScore             float64        `json:"fit_score"`
	ResolvesCount        int            `json:"resolves_count"`
	TransfersCount       int            `json:"transfers_count"`
	LastResolvedAt       *time.Time     `json:"last_resolved_at,omitempty"`
	Pages7d              int            `json:"pages_7d"`
	ActiveItems          int            `json:"active_items"`
	MaxStoryPoints       int            `json:"max_story_points"`
	CurrentStoryPoints   int            `json:"current_story_points"`
	Active               bool           `json:"active"`
	OnCall               bool           `json:"on_call"`
	ResolvedBySeverity   map[string]int `json:"resolved_by_severity"`
	TrackerAccountID     *string        `json:"tracker_account_id,omitempty"`
}

// HumanStatsSummary is the aggregate-across-services view returned by get_stats.
type HumanStatsSummary struct {
	HumanID string                         `json:"human_id"`
	Load    HumanLoad                      `json:"load"`
	Stats   map[string]HumanServiceStats   `json:"stats_by_service"`
}
