package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Severity is the operational urgency of a WorkItem, sev1 highest to sev4 lowest.
type Severity string

const (
	Sev1 Severity = "sev1"
	Sev2 Severity = "sev2"
	Sev3 Severity = "sev3"
	Sev4 Severity = "sev4"
)

// ValidSeverity reports whether s is one of the closed set of severities.
func ValidSeverity(s Severity) bool {
	switch s {
	case Sev1, Sev2, Sev3, Sev4:
		return true
	default:
		return false
	}
}

// WorkItemType distinguishes an ad-hoc incident from a pre-existing ticket.
type WorkItemType string

const (
	WorkItemIncident WorkItemType = "incident"
	WorkItemTicket   WorkItemType = "ticket"
)

// WorkItem is a routable unit of operational work.
type WorkItem struct {
	ID          uuid.UUID    `json:"id"`
	Type        WorkItemType `json:"type"`
	Service     string       `json:"service"`
	Severity    Severity     `json:"severity"`
	Description string       `json:"description"`
	RawLog      *string      `json:"raw_log,omitempty"`

	// Embedding is the dense description embedding. Nil until Ingest writes it.
	Embedding *pgvector.Vector `json:"-"`

	// Embedding3D is the PCA projection used for visualization. All three
	// coordinates are set together.
	Embedding3D *Coords3D `json:"embedding_3d,omitempty"`

	CreatedAt         time.Time `json:"created_at"`
	OriginSystem      string    `json:"origin_system"`
	CreatorID         *string   `json:"creator_id,omitempty"`
	ExternalTicketKey *string   `json:"external_ticket_key,omitempty"`
	StoryPoints       *int      `json:"story_points,omitempty"`
	Impact            *string   `json:"impact,omitempty"`
}

// Coords3D is a 3-dimensional PCA projection of an embedding.
type Coords3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// WorkItemFilter narrows a WorkItem listing query.
type WorkItemFilter struct {
	Service  string
	Severity Severity
	Limit    int
	Offset   int
}

// CreateWorkItemInput is the payload accepted by Ingest's create operation.
type CreateWorkItemInput struct {
	Type        WorkItemType `json:"type"`
	Service     string       `json:"service"`
	Severity    Severity     `json:"severity"`
	Description string       `json:"description"`
	RawLog      *string      `json:"raw_log,omitempty"`
	OriginSystem string      `json:"origin_system,omitempty"`
	CreatorID   *string      `json:"creator_id,omitempty"`
	StoryPoints *int         `json:"story_points,omitempty"`
	Impact      *string      `json:"impact,omitempty"`
}

// IncomingWebhookEvent is the external alerting payload shape accepted by
// POST /webhooks/incoming, prior to being mapped into CreateWorkItemInput.
type IncomingWebhookEvent struct {
	Service     string `json:"service"`
	Urgency     string `json:"urgency"`
	Description string `json:"description"`
	RawLog      string `json:"raw_log,omitempty"`
}
