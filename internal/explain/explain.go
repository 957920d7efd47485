// Package explain produces grounded evidence bullets for a Decision: a
// primary LLM-backed path constrained to the candidate's own features, and a
// deterministic template fallback used whenever the adapter fails, times
// out, or returns invalid JSON.
package explain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opsloop/saiban/internal/llm"
	"github.com/opsloop/saiban/internal/model"
)

// minBullets is the fallback template's lower bound on bullets; the LLM path
// is validated against the same non-empty requirement by llm.ExplanationJSON.Validate.
const minBullets = 1

// Service implements the Explain component: POST /explain.
type Service struct {
	chat   llm.ChatProvider
	logger *slog.Logger
}

// New constructs an Explain service. chat may be llm.NoopChatProvider{} to
// force every call onto the deterministic fallback.
func New(chat llm.ChatProvider, logger *slog.Logger) *Service {
	return &Service{chat: chat, logger: logger}
}

// Explain produces an Explanation for req, trying the LLM path first and
// falling back to the deterministic template on any failure.
func (s *Service) Explain(ctx context.Context, req model.ExplainRequest) (model.Explanation, error) {
	if s.chat != nil {
		if exp, err := s.explainWithLLM(ctx, req); err == nil {
			return exp, nil
		} else {
			s.logger.Info("explain: llm path failed, using deterministic fallback", "decision_id", req.DecisionID, "error", err)
		}
	}
	return s.explainFallback(req), nil
}

func (s *Service) explainWithLLM(ctx context.Context, req model.ExplainRequest) (model.Explanation, error) {
	system := explainSystemPrompt
	user := buildExplainUserPrompt(req)
	result, err := s.chat.Explain(ctx, system, user)
	if err != nil {
		return model.Explanation{}, fmt.Errorf("explain: llm call: %w", err)
	}

	bullets := make([]model.EvidenceBullet, len(result.Bullets))
	for i, b := range result.Bullets {
		bullets[i] = model.EvidenceBullet{Type: b.Type, Text: b.Text, TimeWindow: b.TimeWindow, Source: b.Source}
	}
	return model.Explanation{DecisionID: req.DecisionID, Bullets: bullets, WhyNotNextBest: result.WhyNotNextBest}, nil
}

const explainSystemPrompt = "You are generating an audit explanation for an incident routing decision. " +
	"You are given the exact features of the primary candidate and, optionally, backup candidates and constraint " +
	"results. Produce 3 to 7 evidence bullets, each with type (one of recent_resolution, on_call, low_load, " +
	"similar_incident, fit_score, general), text, time_window, and source. Every claim must be directly " +
	"supported by the provided features — never invent a fact not present in the input. Also produce a single " +
	"why_not_next_best sentence comparing the primary's fit_score and resolves_count against the top backup, if " +
	"one is provided. Respond with a single JSON object: {\"evidence\": [...], \"why_not_next_best\": \"...\"}."

func buildExplainUserPrompt(req model.ExplainRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "work_item: service=%s severity=%s description=%q\n", req.Service, req.Severity, req.Description)
	fmt.Fprintf(&b, "primary: %s\n", featureLine(req.Primary))
	for i, backup := range req.Backups {
		fmt.Fprintf(&b, "backup[%d]: %s\n", i, featureLine(backup))
	}
	for _, c := range req.Constraints {
		fmt.Fprintf(&b, "constraint: human=%s name=%s passed=%v\n", c.HumanID, c.ConstraintName, c.Passed)
	}
	return b.String()
}

func featureLine(f model.CandidateFeatures) string {
	lastResolved := "none"
	if f.LastResolvedAt != nil {
		lastResolved = f.LastResolvedAt.Format(time.RFC3339)
	}
	simScore := "none"
	if f.SimilarIncidentScore != nil {
		simScore = fmt.Sprintf("%.2f", *f.SimilarIncidentScore)
	}
	return fmt.Sprintf(
		"human_id=%s display_name=%s fit_score=%.2f resolves_count=%d transfers_count=%d last_resolved_at=%s on_call=%v pages_7d=%d active_items=%d similar_incident_score=%s",
		f.HumanID, f.DisplayName, f.FitScore, f.ResolvesCount, f.TransfersCount, lastResolved, f.OnCall, f.Pages7d, f.ActiveItems, simScore,
	)
}
