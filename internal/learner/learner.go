// Package learner implements the stats/load/edge learning loop: it turns
// outcome events into updated fit_scores, maintains the knowledge-graph
// edges, and periodically refreshes each human's capability embedding.
package learner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/opsloop/saiban/internal/model"
	"github.com/opsloop/saiban/internal/nnindex"
	"github.com/opsloop/saiban/internal/storage"
)

// recentResolvedLimit bounds how many of a human's most recent resolved
// items feed the capability-embedding recompute.
const recentResolvedLimit = 50

// Embedder is the subset of llm.EmbeddingProvider Learner depends on.
type Embedder interface {
	Embed(ctx context.Context, text string) (pgvector.Vector, error)
}

// Projector reduces a dense embedding to a 3D coordinate.
type Projector interface {
	Project(vec []float32) (x, y, z float64)
}

// Service implements the Learner component: GET /profiles, GET /stats,
// POST /outcomes, POST /sync/closed, and the background embedding refresh.
type Service struct {
	db        *storage.DB
	embedder  Embedder
	projector Projector
	index     *nnindex.Index
	logger    *slog.Logger
}

// New constructs a Learner service. index may be nil, in which case
// capability-embedding upserts are skipped (logged, not fatal).
func New(db *storage.DB, embedder Embedder, projector Projector, index *nnindex.Index, logger *slog.Logger) *Service {
	return &Service{db: db, embedder: embedder, projector: projector, index: index, logger: logger}
}

// GetProfiles returns every human with stats for the given service, with
// fit_score recomputed from resolves_count, transfers_count and
// last_resolved_at at the current moment.
func (s *Service) GetProfiles(ctx context.Context, service string) ([]model.CandidateProfile, error) {
	profiles, err := s.db.CandidateProfiles(ctx, service)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	for i := range profiles {
		profiles[i].FitScore = computeFitScore(profiles[i].ResolvesCount, profiles[i].TransfersCount, profiles[i].LastResolvedAt, now)
	}
	sort.SliceStable(profiles, func(i, j int) bool { return profiles[i].FitScore > profiles[j].FitScore })
	return profiles, nil
}

// GetStats returns the aggregate-across-services view for one human, with
// each service's fit_score recomputed from resolves_count, transfers_count
// and last_resolved_at at the current moment.
func (s *Service) GetStats(ctx context.Context, humanID string) (model.HumanStatsSummary, error) {
	summary, err := s.db.HumanStats(ctx, humanID)
	if err != nil {
		return summary, err
	}
	now := time.Now().UTC()
	for svc, stats := range summary.Stats {
		stats.FitScore = computeFitScore(stats.ResolvesCount, stats.TransfersCount, stats.LastResolvedAt, now)
		summary.Stats[svc] = stats
	}
	return summary, nil
}

// ProcessOutcome applies a resolved/reassigned/escalated outcome event
// idempotently, returning {processed: false} on a replayed event_id.
func (s *Service) ProcessOutcome(ctx context.Context, o model.Outcome) (model.OutcomeResult, error) {
	if o.EventID == "" {
		return model.OutcomeResult{}, fmt.Errorf("learner: event_id is required")
	}
	if !model.ValidOutcomeType(o.Type) {
		return model.OutcomeResult{}, fmt.Errorf("learner: unknown outcome type %q", o.Type)
	}

	var applyFn func(ctx context.Context, h outcomeHelpers) ([]storage.OutcomeUpdate, error)
	switch o.Type {
	case model.OutcomeResolved:
		applyFn = func(ctx context.Context, h outcomeHelpers) ([]storage.OutcomeUpdate, error) {
			return s.applyResolved(ctx, h, o)
		}
	case model.OutcomeReassigned:
		applyFn = func(ctx context.Context, h outcomeHelpers) ([]storage.OutcomeUpdate, error) {
			return s.applyReassigned(ctx, h, o)
		}
	case model.OutcomeEscalated:
		applyFn = func(ctx context.Context, h outcomeHelpers) ([]storage.OutcomeUpdate, error) {
			// Escalated is identical to reassigned with the same actor as both
			// from and to: responsibility growth without a transfer of owner.
			escalated := o
			self := o.ActorID
			escalated.NewAssigneeID = &self
			escalated.OriginalAssigneeID = &self
			return s.applyReassigned(ctx, h, escalated)
		}
	}

	applied, updates, err := s.db.ApplyOutcomeTx(ctx, o, func(ctx context.Context, h storage.OutcomeTxHelpers) ([]storage.OutcomeUpdate, error) {
		return applyFn(ctx, h)
	})
	if err != nil {
		return model.OutcomeResult{}, fmt.Errorf("learner: process outcome %s: %w", o.EventID, err)
	}
	if !applied {
		return model.OutcomeResult{Processed: false}, nil
	}

	if o.Type == model.OutcomeResolved {
		go s.refreshOneBestEffort(o.ActorID, o.Service)
	}

	s.logger.Info("learner: processed outcome", "event_id", o.EventID, "type", o.Type, "updates", len(updates))
	return model.OutcomeResult{Processed: true}, nil
}

// outcomeHelpers is the local alias for the storage-package transactional
// helper type, keeping this file's signatures short.
type outcomeHelpers = storage.OutcomeTxHelpers

func (s *Service) applyResolved(ctx context.Context, h outcomeHelpers, o model.Outcome) ([]storage.OutcomeUpdate, error) {
	stats, err := h.GetStats(ctx, o.ActorID, o.Service)
	if err != nil {
		return nil, err
	}
	oldFit := stats.FitScore
	newFit := math.Min(1.0, oldFit+0.1)

	stats.FitScore = newFit
	stats.ResolvesCount++
	ts := o.Timestamp
	stats.LastResolvedAt = &ts
	if err := h.UpsertStats(ctx, stats); err != nil {
		return nil, err
	}
	if err := h.InsertResolvedEdge(ctx, model.ResolvedEdge{HumanID: o.ActorID, WorkItemID: o.WorkItemID, ResolvedAt: o.Timestamp}); err != nil {
		return nil, err
	}
	if err := h.AdjustActiveItems(ctx, o.ActorID, -1); err != nil {
		return nil, err
	}

	return []storage.OutcomeUpdate{{
		HumanID:            o.ActorID,
		FitScoreDelta:      newFit - oldFit,
		ResolvesCountDelta: 1,
	}}, nil
}

func (s *Service) applyReassigned(ctx context.Context, h outcomeHelpers, o model.Outcome) ([]storage.OutcomeUpdate, error) {
	var updates []storage.OutcomeUpdate

	originalID := o.ActorID
	if o.OriginalAssigneeID != nil {
		originalID = *o.OriginalAssigneeID
	} else {
		looked, err := s.db.DecisionOriginalAssignee(ctx, o.WorkItemID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			originalID = ""
		case err != nil:
			return nil, fmt.Errorf("learner: look up original assignee: %w", err)
		default:
			originalID = looked
		}
	}

	newID := o.ActorID
	if o.NewAssigneeID != nil {
		newID = *o.NewAssigneeID
	}

	if originalID != "" {
		origStats, err := h.GetStats(ctx, originalID, o.Service)
		if err != nil {
			return nil, err
		}
		oldFit := origStats.FitScore
		newFit := math.Max(0.0, oldFit-0.15)
		origStats.FitScore = newFit
		origStats.TransfersCount++
		if err := h.UpsertStats(ctx, origStats); err != nil {
			return nil, err
		}
		updates = append(updates, storage.OutcomeUpdate{
			HumanID:             originalID,
			FitScoreDelta:       newFit - oldFit,
			TransfersCountDelta: 1,
		})

		if err := h.InsertTransferredEdge(ctx, model.TransferredEdge{
			WorkItemID:    o.WorkItemID,
			FromHumanID:   originalID,
			ToHumanID:     newID,
			TransferredAt: o.Timestamp,
		}); err != nil {
			return nil, err
		}
	}

	newStats, err := h.GetStats(ctx, newID, o.Service)
	if err != nil {
		return nil, err
	}
	oldFit := newStats.FitScore
	newFit := math.Min(1.0, oldFit+0.05)
	newStats.FitScore = newFit
	if err := h.UpsertStats(ctx, newStats); err != nil {
		return nil, err
	}
	updates = append(updates, storage.OutcomeUpdate{HumanID: newID, FitScoreDelta: newFit - oldFit})

	return updates, nil
}

// SyncClosed bootstraps stats from an external tracker's resolved-issue
// history, one ResolvedEdge-equivalent update per record, deduplicated the
// same way live outcomes are (by a synthesized event_id).
func (s *Service) SyncClosed(ctx context.Context, req model.SyncClosedRequest) (int, error) {
	applied := 0
	for _, rec := range req.Records {
		syntheticEventID := fmt.Sprintf("sync_closed:%s:%s", rec.WorkItemID, rec.HumanID)
		workItemID, err := uuid.Parse(rec.WorkItemID)
		if err != nil {
			s.logger.Warn("learner: sync_closed skipped record with invalid work_item_id", "work_item_id", rec.WorkItemID)
			continue
		}
		o := model.Outcome{
			EventID:    syntheticEventID,
			WorkItemID: workItemID,
			Type:       model.OutcomeResolved,
			ActorID:    rec.HumanID,
			Service:    rec.Service,
			Timestamp:  rec.ResolvedAt,
		}
		result, err := s.ProcessOutcome(ctx, o)
		if err != nil {
			return applied, fmt.Errorf("learner: sync_closed record %s: %w", rec.WorkItemID, err)
		}
		if result.Processed {
			applied++
		}
	}
	return applied, nil
}
