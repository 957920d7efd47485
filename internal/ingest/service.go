// Package ingest is the single source of truth for WorkItems: it normalizes
// inbound alerts and manual submissions, cleans and embeds descriptions,
// persists them, and best-effort triggers Decision. It also owns the
// outcomes entry point, forwarding to Learner.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/opsloop/saiban/internal/llm"
	"github.com/opsloop/saiban/internal/model"
	"github.com/opsloop/saiban/internal/nnindex"
	"github.com/opsloop/saiban/internal/storage"
)

// Projector reduces a dense embedding to a 3D coordinate.
type Projector interface {
	Project(vec []float32) (x, y, z float64)
}

// Decider is the narrow Decision port Ingest fans out to after persisting a
// WorkItem.
type Decider interface {
	Decide(ctx context.Context, workItemID uuid.UUID) (model.Decision, error)
}

// OutcomeRecorder is the narrow Learner port Ingest forwards outcomes to.
type OutcomeRecorder interface {
	ProcessOutcome(ctx context.Context, o model.Outcome) (model.OutcomeResult, error)
}

// Config holds Ingest's tunable settings.
type Config struct {
	WebhookSecret         string
	WebhookUrgencyHighSev model.Severity
	WebhookUrgencyLowSev  model.Severity
	DecisionFanout        bool
}

// Service implements the Ingest component: POST /workitems,
// GET /workitems, GET /workitems/{id}, POST /workitems/{id}/outcome, and
// POST /webhooks/incoming.
type Service struct {
	db         *storage.DB
	embedder   llm.EmbeddingProvider
	completion llm.CompletionProvider
	projector  Projector
	index      *nnindex.Index
	decider    Decider
	learner    OutcomeRecorder
	cfg        Config
	logger     *slog.Logger
}

// New constructs an Ingest service. index and decider may be nil: a nil
// index skips the nearest-neighbor upsert, and a nil decider skips the
// post-create Decision trigger entirely (both best-effort already).
func New(db *storage.DB, embedder llm.EmbeddingProvider, completion llm.CompletionProvider, projector Projector, index *nnindex.Index, decider Decider, learner OutcomeRecorder, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		db: db, embedder: embedder, completion: completion, projector: projector,
		index: index, decider: decider, learner: learner, cfg: cfg, logger: logger,
	}
}

// CreateWorkItem normalizes, embeds, and persists a new WorkItem, then
// best-effort triggers Decision for it. The HTTP response does not wait for
// that trigger to complete.
func (s *Service) CreateWorkItem(ctx context.Context, in model.CreateWorkItemInput) (model.WorkItem, error) {
	cleaned := llm.CleanDescription(ctx, s.completion, in.Description, derefStr(in.RawLog))

	wi := model.WorkItem{
		ID:                uuid.New(),
		Type:              in.Type,
		Service:           in.Service,
		Severity:          in.Severity,
		Description:       cleaned,
		RawLog:            in.RawLog,
		CreatedAt:         time.Now().UTC(),
		OriginSystem:      in.OriginSystem,
		CreatorID:         in.CreatorID,
		StoryPoints:       in.StoryPoints,
		Impact:            in.Impact,
	}
	if wi.OriginSystem == "" {
		wi.OriginSystem = "manual"
	}

	if err := s.db.CreateWorkItem(ctx, wi); err != nil {
		return model.WorkItem{}, fmt.Errorf("ingest: create work item: %w", err)
	}

	embedding, hasEmbedding := s.embedAndProject(ctx, &wi)
	if hasEmbedding && s.index != nil {
		if err := s.index.Upsert(ctx, []nnindex.Point{{
			ID:     wi.ID.String(),
			Vector: embedding.Slice(),
			Payload: map[string]any{
				"service":  wi.Service,
				"severity": string(wi.Severity),
			},
		}}); err != nil {
			s.logger.Warn("ingest: nearest-neighbor upsert failed", "work_item_id", wi.ID, "error", err)
		}
	}

	if s.decider != nil {
		go s.triggerDecision(wi.ID)
	}

	return wi, nil
}

// embedAndProject computes the dense embedding and its 3D projection and
// persists both on the WorkItem. Any failure (no provider configured,
// provider error) is logged and degraded to "no embedding" — the WorkItem
// itself is already durably stored.
func (s *Service) embedAndProject(ctx context.Context, wi *model.WorkItem) (pgvector.Vector, bool) {
	if s.embedder == nil {
		return pgvector.Vector{}, false
	}
	embedding, err := s.embedder.Embed(ctx, wi.Description)
	if err != nil {
		s.logger.Warn("ingest: embed description failed, work item stored without embedding", "work_item_id", wi.ID, "error", err)
		return pgvector.Vector{}, false
	}

	var coords model.Coords3D
	if s.projector != nil {
		x, y, z := s.projector.Project(embedding.Slice())
		coords = model.Coords3D{X: x, Y: y, Z: z}
	}

	if err := s.db.SetWorkItemEmbedding(ctx, wi.ID, embedding, coords); err != nil {
		s.logger.Warn("ingest: persist embedding failed", "work_item_id", wi.ID, "error", err)
		return embedding, true
	}
	wi.Embedding = &embedding
	wi.Embedding3D = &coords
	return embedding, true
}

// triggerDecision runs Decide in the background with its own bounded
// timeout, independent of the HTTP request that created the WorkItem.
// Failures are logged only: the WorkItem remains unrouted until a caller
// explicitly retries POST /decide.
func (s *Service) triggerDecision(workItemID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	decision, err := s.decider.Decide(ctx, workItemID)
	if err != nil {
		s.logger.Warn("ingest: decision trigger failed, work item created but not routed", "work_item_id", workItemID, "error", err)
		return
	}
	s.logger.Info("ingest: decision made", "work_item_id", workItemID, "decision_id", decision.ID, "primary_human_id", decision.PrimaryHumanID)
}

// GetWorkItem fetches a WorkItem by id.
func (s *Service) GetWorkItem(ctx context.Context, id uuid.UUID) (model.WorkItem, error) {
	return s.db.GetWorkItem(ctx, id)
}

// ListWorkItems lists WorkItems matching a filter.
func (s *Service) ListWorkItems(ctx context.Context, f model.WorkItemFilter) ([]model.WorkItem, error) {
	return s.db.ListWorkItems(ctx, f)
}

// RecordOutcome verifies the referenced WorkItem exists, then forwards the
// outcome to Learner. This is the entry point of the feedback loop: outcomes
// always arrive through Ingest first.
func (s *Service) RecordOutcome(ctx context.Context, workItemID uuid.UUID, o model.Outcome) (model.OutcomeResult, error) {
	wi, err := s.db.GetWorkItem(ctx, workItemID)
	if err != nil {
		return model.OutcomeResult{}, fmt.Errorf("ingest: load work item for outcome: %w", err)
	}
	o.WorkItemID = workItemID
	if o.Service == "" {
		o.Service = wi.Service
	}
	return s.learner.ProcessOutcome(ctx, o)
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
