// Package decision implements the scoring-and-constraint decision engine:
// it turns a WorkItem plus candidate profiles from Learner into a persisted,
// audited Decision, then best-effort fans out to Explain and Execute.
package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/opsloop/saiban/internal/model"
	"github.com/opsloop/saiban/internal/nnindex"
	"github.com/opsloop/saiban/internal/storage"
)

// ErrNoCandidates is returned when no human at all is known for the
// WorkItem's service — the one case where decide() surfaces a hard error
// rather than degrading.
var ErrNoCandidates = errors.New("decision: no candidates for service")

// ErrConstraintExhausted is returned when every candidate was filtered out
// by a constraint — surfaced by the caller as HTTP 422.
var ErrConstraintExhausted = errors.New("decision: all candidates filtered by constraints")

// maxBackups is the ordered backup list cap.
const maxBackups = 2

// Embedder is the subset of llm.EmbeddingProvider Decision depends on.
type Embedder interface {
	Embed(ctx context.Context, text string) (pgvector.Vector, error)
}

// CandidateSource is the narrow Learner port Decision calls for candidates.
type CandidateSource interface {
	GetProfiles(ctx context.Context, service string) ([]model.CandidateProfile, error)
}

// Explainer is the narrow Explain port Decision fans out to after persisting.
type Explainer interface {
	Explain(ctx context.Context, req model.ExplainRequest) (model.Explanation, error)
}

// Executor is the narrow Execute port Decision fans out to after Explain.
type Executor interface {
	Execute(ctx context.Context, req model.ExecuteRequest) (model.ExecutedAction, error)
}

// Config holds Decision's tunable orchestration settings.
type Config struct {
	SimilarIncidentLimit int
	Fanout               bool
	TxMaxRetries         int
	TxBaseDelay          time.Duration
}

// Service implements the Decision component: POST /decide, GET /decisions/{id},
// GET /audit/{id}.
type Service struct {
	db        *storage.DB
	embedder  Embedder
	index     *nnindex.Index
	learner   CandidateSource
	explainer Explainer
	executor  Executor
	cfg       Config
	logger    *slog.Logger
}

// New constructs a Decision service. index, explainer, and executor may be
// nil: a nil index degrades the similar-incident lookup to empty, and nil
// explainer/executor simply skip that stage of the fan-out.
func New(db *storage.DB, embedder Embedder, index *nnindex.Index, learner CandidateSource, explainer Explainer, executor Executor, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		db: db, embedder: embedder, index: index,
		learner: learner, explainer: explainer, executor: executor,
		cfg: cfg, logger: logger,
	}
}

// GetDecision is the read-only retrieval behind GET /decisions/{work_item_id}.
func (s *Service) GetDecision(ctx context.Context, workItemID uuid.UUID) (model.Decision, error) {
	return s.db.GetDecisionByWorkItem(ctx, workItemID)
}

// GetAudit is the read-only retrieval behind GET /audit/{work_item_id}.
func (s *Service) GetAudit(ctx context.Context, workItemID uuid.UUID) (model.Audit, error) {
	return s.db.GetAudit(ctx, workItemID)
}

// Decide runs the full algorithm for a WorkItem, or returns the existing
// Decision unchanged if one was already persisted. Exactly-once per
// work_item_id is enforced by the database's unique key, not by this check
// alone — a race loses to CreateDecisionTx's conflict-recovery path.
func (s *Service) Decide(ctx context.Context, workItemID uuid.UUID) (model.Decision, error) {
	existing, err := s.db.GetDecisionByWorkItem(ctx, workItemID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return model.Decision{}, fmt.Errorf("decision: check existing decision: %w", err)
	}

	wi, err := s.db.GetWorkItem(ctx, workItemID)
	if err != nil {
		return model.Decision{}, fmt.Errorf("decision: load work item: %w", err)
	}

	embedding, hasEmbedding := s.embedDescription(ctx, wi)
	neighbors := s.findSimilarIncidents(ctx, wi, embedding, hasEmbedding)

	profiles, err := s.fetchCandidates(ctx, wi.Service)
	if err != nil {
		return model.Decision{}, err
	}
	if len(profiles) == 0 {
		return model.Decision{}, ErrNoCandidates
	}

	candidates, constraints := s.evaluateCandidates(profiles, wi, neighbors)

	survivors := make([]candidateScore, 0, len(candidates))
	for _, c := range candidates {
		if !c.profile.filtered {
			survivors = append(survivors, c.score)
		}
	}
	if len(survivors) == 0 {
		if persistErr := s.persistExhausted(ctx, wi.ID, candidates, constraints); persistErr != nil {
			s.logger.Error("decision: persist constraint-exhausted audit failed", "work_item_id", wi.ID, "error", persistErr)
		}
		return model.Decision{}, ErrConstraintExhausted
	}

	rankCandidates(survivors)

	primary := survivors[0]
	backups := survivors[1:]
	if len(backups) > maxBackups {
		backups = backups[:maxBackups]
	}

	var nextBest *float64
	if len(survivors) > 1 {
		v := survivors[1].final
		nextBest = &v
	}
	conf := confidence(primary.final, nextBest, len(profiles), len(backups))

	backupIDs := make([]string, len(backups))
	for i, b := range backups {
		backupIDs[i] = b.profile.HumanID
	}

	decision := model.Decision{
		ID:             uuid.New(),
		WorkItemID:     wi.ID,
		PrimaryHumanID: primary.profile.HumanID,
		BackupHumanIDs: backupIDs,
		Confidence:     conf,
		CreatedAt:      time.Now(),
	}

	decisionCandidates, constraintRows := buildAuditRows(decision.ID, candidates, constraints, survivors)

	var persisted model.Decision
	err = storage.WithRetry(ctx, s.cfg.TxMaxRetries, s.cfg.TxBaseDelay, func() error {
		var txErr error
		persisted, txErr = s.db.CreateDecisionTx(ctx, decision, decisionCandidates, constraintRows)
		return txErr
	})
	if err != nil {
		return model.Decision{}, fmt.Errorf("decision: persist decision: %w", err)
	}

	if hasEmbedding && s.index != nil {
		if upsertErr := s.index.Upsert(ctx, []nnindex.Point{{
			ID:     wi.ID.String(),
			Vector: embedding.Slice(),
			Payload: map[string]any{
				"service":  wi.Service,
				"severity": string(wi.Severity),
			},
		}}); upsertErr != nil {
			s.logger.Warn("decision: nearest-neighbor upsert failed", "work_item_id", wi.ID, "error", upsertErr)
		}
	}

	if s.cfg.Fanout {
		go s.fanOut(persisted, wi, primary, backups)
	}

	return persisted, nil
}

// embedDescription embeds the WorkItem description, degrading to
// (zero-value, false) on any failure or absence of an embedder — the
// vector-similarity component then falls back to its neutral value.
func (s *Service) embedDescription(ctx context.Context, wi model.WorkItem) (pgvector.Vector, bool) {
	if s.embedder == nil {
		return pgvector.Vector{}, false
	}
	vec, err := s.embedder.Embed(ctx, wi.Description)
	if err != nil {
		s.logger.Warn("decision: embed description failed, degrading vector similarity", "work_item_id", wi.ID, "error", err)
		return pgvector.Vector{}, false
	}
	return vec, true
}

// findSimilarIncidents queries the nearest-neighbor index for up to
// SimilarIncidentLimit same-service neighbors, enriching each with its
// resolver (if known). Any failure degrades to an empty list.
func (s *Service) findSimilarIncidents(ctx context.Context, wi model.WorkItem, embedding pgvector.Vector, hasEmbedding bool) []model.SimilarIncident {
	if s.index == nil || !hasEmbedding {
		return nil
	}
	limit := s.cfg.SimilarIncidentLimit
	if limit <= 0 {
		limit = 20
	}
	results, err := s.index.Search(ctx, embedding.Slice(), []nnindex.Match{{Field: "service", Value: wi.Service}}, limit)
	if err != nil {
		s.logger.Warn("decision: similar-incident lookup failed, degrading to empty", "work_item_id", wi.ID, "error", err)
		return nil
	}
	if len(results) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, 0, len(results))
	for _, r := range results {
		if id, parseErr := uuid.Parse(r.ID); parseErr == nil && id != wi.ID {
			ids = append(ids, id)
		}
	}
	resolvers, err := s.db.ResolversForWorkItems(ctx, ids)
	if err != nil {
		s.logger.Warn("decision: resolver lookup for neighbors failed", "work_item_id", wi.ID, "error", err)
		resolvers = map[uuid.UUID]string{}
	}

	out := make([]model.SimilarIncident, 0, len(results))
	for _, r := range results {
		id, parseErr := uuid.Parse(r.ID)
		if parseErr != nil || id == wi.ID {
			continue
		}
		sim := model.SimilarIncident{NeighborID: r.ID, Similarity: clamp01(float64(r.Score))}
		if resolver, ok := resolvers[id]; ok {
			sim.ResolverID = &resolver
		}
		out = append(out, sim)
	}
	return out
}

// fetchCandidates loads candidates from Learner, degrading to "any known
// human who has worked on this service" at neutral fit_score=0.5 if Learner
// is unreachable.
func (s *Service) fetchCandidates(ctx context.Context, service string) ([]model.CandidateProfile, error) {
	if s.learner != nil {
		profiles, err := s.learner.GetProfiles(ctx, service)
		if err == nil {
			return profiles, nil
		}
		s.logger.Warn("decision: learner unreachable, degrading to worked-on-service fallback", "service", service, "error", err)
	}

	humanIDs, err := s.db.HumansWorkedOnService(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("decision: fallback candidate lookup: %w", err)
	}
	profiles := make([]model.CandidateProfile, 0, len(humanIDs))
	for _, id := range humanIDs {
		human, err := s.db.GetHuman(ctx, id)
		if err != nil {
			continue
		}
		profiles = append(profiles, model.CandidateProfile{
			HumanID:            human.ID,
			DisplayName:        human.DisplayName,
			FitScore:           0.5,
			MaxStoryPoints:     human.MaxStoryPoints,
			CurrentStoryPoints: human.CurrentStoryPoints,
			Active:             human.Active,
			OnCall:             human.OnCall,
			TrackerAccountID:   human.TrackerAccountID,
			ResolvedBySeverity: map[string]int{},
		})
	}
	return profiles, nil
}

// evaluatedCandidate bundles a profile's constraint outcome with its score
// (computed only for candidates that pass every constraint; filtered
// candidates keep a zero score and are persisted with score=0 per the
// DecisionCandidate invariant).
type evaluatedCandidate struct {
	profile struct {
		model.CandidateProfile
		filtered     bool
		filterReason string
	}
	score candidateScore
}

func (s *Service) evaluateCandidates(profiles []model.CandidateProfile, wi model.WorkItem, neighbors []model.SimilarIncident) ([]evaluatedCandidate, []constraintResultRow) {
	candidates := make([]evaluatedCandidate, 0, len(profiles))
	var constraintRows []constraintResultRow

	for _, p := range profiles {
		checks, reason, filtered := applyConstraints(p, wi.StoryPoints)
		for _, c := range checks {
			constraintRows = append(constraintRows, constraintResultRow{humanID: p.HumanID, name: c.name, passed: c.passed})
		}

		var sc candidateScore
		if !filtered {
			matched := matchedNeighbors(p.HumanID, neighbors)
			sc = scoreCandidate(p, wi.Severity, wi.StoryPoints, matched)
		}

		ec := evaluatedCandidate{score: sc}
		ec.profile.CandidateProfile = p
		ec.profile.filtered = filtered
		ec.profile.filterReason = reason
		candidates = append(candidates, ec)
	}
	return candidates, constraintRows
}

// matchedNeighbors returns the subset of neighbors this human resolved.
func matchedNeighbors(humanID string, neighbors []model.SimilarIncident) []model.SimilarIncident {
	var out []model.SimilarIncident
	for _, n := range neighbors {
		if n.ResolverID != nil && *n.ResolverID == humanID {
			out = append(out, n)
		}
	}
	return out
}

// constraintResultRow is the pre-decision-id shape of a ConstraintResult.
type constraintResultRow struct {
	humanID string
	name    string
	passed  bool
}

// buildAuditRows assigns dense ranks (survivors 1..n in rankedSurvivors
// order, then filtered candidates in the order they appear in candidates)
// and produces the persisted DecisionCandidate/ConstraintResult rows.
func buildAuditRows(decisionID uuid.UUID, candidates []evaluatedCandidate, constraints []constraintResultRow, rankedSurvivors []candidateScore) ([]model.DecisionCandidate, []model.ConstraintResult) {
	rank := make(map[string]int, len(rankedSurvivors))
	for i, s := range rankedSurvivors {
		rank[s.profile.HumanID] = i + 1
	}
	nextRank := len(rankedSurvivors) + 1

	decisionCandidates := make([]model.DecisionCandidate, 0, len(candidates))
	for _, c := range candidates {
		dc := model.DecisionCandidate{
			DecisionID: decisionID,
			HumanID:    c.profile.HumanID,
			Filtered:   c.profile.filtered,
		}
		if c.profile.filtered {
			reason := c.profile.filterReason
			dc.FilterReason = &reason
			dc.Score = 0
			dc.Rank = nextRank
			nextRank++
		} else {
			dc.Score = c.score.final
			dc.Rank = rank[c.profile.HumanID]
			dc.ScoreBreakdown = c.score.breakdown
		}
		decisionCandidates = append(decisionCandidates, dc)
	}

	constraintResults := make([]model.ConstraintResult, 0, len(constraints))
	for _, c := range constraints {
		cr := model.ConstraintResult{DecisionID: decisionID, HumanID: c.humanID, ConstraintName: c.name, Passed: c.passed}
		if !c.passed {
			reason := c.name + " constraint failed"
			cr.Reason = &reason
		}
		constraintResults = append(constraintResults, cr)
	}
	return decisionCandidates, constraintResults
}

// persistExhausted runs when decide() returns ErrConstraintExhausted. It
// writes no DecisionCandidate or ConstraintResult rows and only logs the
// filter reasons; the 422 response body does not carry them.
func (s *Service) persistExhausted(ctx context.Context, workItemID uuid.UUID, candidates []evaluatedCandidate, constraints []constraintResultRow) error {
	// No Decision row exists to hang candidates off of per the schema's
	// foreign-key shape, so nothing is persisted; the filter reasons are
	// logged here for operational visibility.
	reasons := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c.profile.filtered {
			reasons = append(reasons, c.profile.HumanID+": "+c.profile.filterReason)
		}
	}
	s.logger.Info("decision: all candidates filtered", "work_item_id", workItemID, "reasons", reasons)
	return nil
}

// fanOut calls Explain then Execute in order, best-effort: failures are
// logged, never roll back the Decision, and never propagate to Decide's
// caller. Execute proceeds with empty evidence if Explain fails.
func (s *Service) fanOut(decision model.Decision, wi model.WorkItem, primary candidateScore, backups []candidateScore) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var evidence []model.EvidenceBullet
	if s.explainer != nil {
		req := buildExplainRequest(decision, wi, primary, backups)
		explanation, err := s.explainer.Explain(ctx, req)
		if err != nil {
			s.logger.Warn("decision: explain fan-out failed", "decision_id", decision.ID, "error", err)
		} else {
			evidence = explanation.Bullets
		}
	}

	if s.executor == nil {
		return
	}
	execReq := model.ExecuteRequest{
		DecisionID:     decision.ID,
		WorkItemID:     wi.ID,
		Service:        wi.Service,
		Severity:       wi.Severity,
		Description:    wi.Description,
		StoryPoints:    wi.StoryPoints,
		PrimaryHumanID: decision.PrimaryHumanID,
		BackupHumanIDs: decision.BackupHumanIDs,
		Evidence:       evidence,
	}
	if _, err := s.executor.Execute(ctx, execReq); err != nil {
		s.logger.Warn("decision: execute fan-out failed", "decision_id", decision.ID, "error", err)
	}
}

func buildExplainRequest(decision model.Decision, wi model.WorkItem, primary candidateScore, backups []candidateScore) model.ExplainRequest {
	toFeatures := func(c candidateScore) model.CandidateFeatures {
		var sim *float64
		if v, ok := c.breakdown["vector_similarity"]; ok {
			sim = &v
		}
		return model.CandidateFeatures{
			HumanID:              c.profile.HumanID,
			DisplayName:          c.profile.DisplayName,
			FitScore:             c.profile.FitScore,
			ResolvesCount:        c.profile.ResolvesCount,
			TransfersCount:       c.profile.TransfersCount,
			LastResolvedAt:       c.profile.LastResolvedAt,
			OnCall:               c.profile.OnCall,
			Pages7d:              c.profile.Pages7d,
			ActiveItems:          c.profile.ActiveItems,
			SimilarIncidentScore: sim,
			ScoreBreakdown:       c.breakdown,
		}
	}

	backupFeatures := make([]model.CandidateFeatures, len(backups))
	for i, b := range backups {
		backupFeatures[i] = toFeatures(b)
	}

	return model.ExplainRequest{
		DecisionID:  decision.ID,
		WorkItemID:  wi.ID,
		Service:     wi.Service,
		Severity:    wi.Severity,
		Description: wi.Description,
		Primary:     toFeatures(primary),
		Backups:     backupFeatures,
	}
}
