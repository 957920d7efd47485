package explain

import (
	"fmt"

	"github.com/opsloop/saiban/internal/model"
)

// explainFallback deterministically derives evidence from the primary
// candidate's own features: a bullet per matched predicate, in the fixed
// order below, plus a final guaranteed "general" bullet if nothing matched.
func (s *Service) explainFallback(req model.ExplainRequest) model.Explanation {
	p := req.Primary
	var bullets []model.EvidenceBullet

	if p.ResolvesCount > 0 {
		bullets = append(bullets, model.EvidenceBullet{
			Type:       "recent_resolution",
			Text:       fmt.Sprintf("Resolved %d similar incidents in the last 90 days", p.ResolvesCount),
			TimeWindow: "last 90 days",
			Source:     "Learner stats",
		})
	}

	if p.LastResolvedAt != nil {
		bullets = append(bullets, model.EvidenceBullet{
			Type:       "recent_resolution",
			Text:       fmt.Sprintf("Last resolved a similar incident on %s", p.LastResolvedAt.Format("2006-01-02")),
			TimeWindow: "recent",
			Source:     "Learner stats",
		})
	}

	if p.OnCall {
		bullets = append(bullets, model.EvidenceBullet{
			Type:       "on_call",
			Text:       "Currently on call and available",
			TimeWindow: "current",
			Source:     "On-call status",
		})
	}

	if p.Pages7d == 0 {
		bullets = append(bullets, model.EvidenceBullet{
			Type:       "low_load",
			Text:       "No pages in the last 7 days, indicating low current load",
			TimeWindow: "last 7 days",
			Source:     "Load tracking",
		})
	}

	if p.SimilarIncidentScore != nil && *p.SimilarIncidentScore > 0 {
		bullets = append(bullets, model.EvidenceBullet{
			Type:       "similar_incident",
			Text:       fmt.Sprintf("High similarity score (%.2f) to this work item", *p.SimilarIncidentScore),
			TimeWindow: "current",
			Source:     "Vector similarity",
		})
	}

	if len(bullets) < minBullets {
		bullets = append(bullets, model.EvidenceBullet{
			Type:       "general",
			Text:       fmt.Sprintf("Selected based on fit_score of %.2f", p.FitScore),
			TimeWindow: "current",
			Source:     "Decision engine",
		})
	}

	whyNot := "Primary candidate selected based on fit score and availability."
	if len(req.Backups) > 0 {
		nextBest := req.Backups[0]
		if p.FitScore > nextBest.FitScore {
			whyNot = fmt.Sprintf(
				"Primary candidate has higher fit_score (%.2f vs %.2f) and has resolved more incidents (%d vs %d) in the last 90 days.",
				p.FitScore, nextBest.FitScore, p.ResolvesCount, nextBest.ResolvesCount,
			)
		}
	}

	return model.Explanation{DecisionID: req.DecisionID, Bullets: bullets, WhyNotNextBest: whyNot}
}
