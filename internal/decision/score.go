package decision

import (
	"sort"

	"github.com/opsloop/saiban/internal/model"
)

// Score weights, chosen to match the source exactly (open question in
// spec.md §9: these are configuration, not invariants, but no override
// surface is exposed yet).
const (
	weightFit        = 0.40
	weightVectorSim  = 0.30
	weightCapacity   = 0.20
	weightSeverity   = 0.10
	neutralVectorSim = 0.5
)

// severityMultiplier is the base severity weight before the sev1/sev2
// fit-scaling rule is applied.
var severityMultiplier = map[model.Severity]float64{
	model.Sev1: 1.2,
	model.Sev2: 1.1,
	model.Sev3: 1.0,
	model.Sev4: 0.9,
}

// candidateScore is the per-candidate scoring context: a CandidateProfile
// plus the pieces the caller has already computed (similarity against
// matched neighbors, hypothetical story points delta).
type candidateScore struct {
	profile        model.CandidateProfile
	vectorSim      float64
	capacityScore  float64
	severityScore  float64
	fitComponent   float64
	final          float64
	breakdown      map[string]float64
}

// vectorSimilarityScore computes the mean similarity over the subset of
// neighbors this candidate resolved, plus +0.05 per additional match beyond
// the first, capped at +0.20 total bonus. Returns the neutral 0.5 when the
// candidate resolved none of the neighbors or no neighbors were found.
func vectorSimilarityScore(matched []model.SimilarIncident) float64 {
	if len(matched) == 0 {
		return neutralVectorSim
	}
	var sum float64
	for _, m := range matched {
		sum += m.Similarity
	}
	mean := sum / float64(len(matched))
	bonus := 0.05 * float64(len(matched)-1)
	if bonus > 0.20 {
		bonus = 0.20
	}
	return clamp01(mean + bonus)
}

// capacityScore is the piecewise function of remaining-capacity fraction
// after a hypothetical assignment of storyPoints. Returns 1.0 unconditionally
// when the WorkItem carries no story_points requirement.
func capacityScore(profile model.CandidateProfile, storyPoints *int) float64 {
	if storyPoints == nil || *storyPoints <= 0 {
		return 1.0
	}
	remaining := profile.MaxStoryPoints - profile.CurrentStoryPoints - *storyPoints
	if profile.MaxStoryPoints <= 0 {
		return 0.0
	}
	fraction := float64(remaining) / float64(profile.MaxStoryPoints)
	switch {
	case fraction >= 0.4:
		return 0.9
	case fraction >= 0.2:
		return 1.0
	case fraction >= 0.1:
		return 0.8
	case fraction > 0:
		return 0.6
	default:
		return 0.0
	}
}

// severityAdjustedFit applies the severity multiplier to fit_score. For
// sev1/sev2 the effective multiplier is scaled by fit_score itself
// (1 + (weight-1)*fit_score); sev3/sev4 apply their flat multiplier.
func severityAdjustedFit(fitScore float64, severity model.Severity) float64 {
	weight, ok := severityMultiplier[severity]
	if !ok {
		weight = 1.0
	}
	effective := weight
	if severity == model.Sev1 || severity == model.Sev2 {
		effective = 1 + (weight-1)*fitScore
	}
	return clamp01(fitScore * effective)
}

// scoreCandidate computes the weighted final score and its breakdown for one
// surviving candidate.
func scoreCandidate(profile model.CandidateProfile, severity model.Severity, storyPoints *int, matchedNeighbors []model.SimilarIncident) candidateScore {
	vectorSim := vectorSimilarityScore(matchedNeighbors)
	capacity := capacityScore(profile, storyPoints)
	severityAdj := severityAdjustedFit(profile.FitScore, severity)

	final := weightFit*profile.FitScore +
		weightVectorSim*vectorSim +
		weightCapacity*capacity +
		weightSeverity*severityAdj
	final = clamp01(final)

	return candidateScore{
		profile:       profile,
		vectorSim:     vectorSim,
		capacityScore: capacity,
		severityScore: severityAdj,
		final:         final,
		breakdown: map[string]float64{
			"fit_score":         profile.FitScore,
			"vector_similarity": vectorSim,
			"capacity_score":    capacity,
			"severity_match":    severityAdj,
			"final":             final,
		},
	}
}

// rankCandidates sorts surviving candidates by final score descending,
// breaking ties by higher resolves_count, then lower transfers_count, then
// lexicographic human_id — never by retrieval order.
func rankCandidates(scores []candidateScore) {
	sort.SliceStable(scores, func(i, j int) bool {
		a, b := scores[i], scores[j]
		if a.final != b.final {
			return a.final > b.final
		}
		if a.profile.ResolvesCount != b.profile.ResolvesCount {
			return a.profile.ResolvesCount > b.profile.ResolvesCount
		}
		if a.profile.TransfersCount != b.profile.TransfersCount {
			return a.profile.TransfersCount < b.profile.TransfersCount
		}
		return a.profile.HumanID < b.profile.HumanID
	})
}

// confidence computes clamp01(primary.score + gap_bonus - sparsity_penalty).
// gapBonus is driven by the score delta to the next-best survivor; the
// sparsity penalty is a pair of independent 0.9 multipliers applied when
// total candidates (survivors+filtered) is under 3, and when no backups
// were selected.
func confidence(primaryScore float64, nextBestScore *float64, totalCandidates int, backupCount int) float64 {
	gapBonus := 0.0
	if nextBestScore != nil {
		delta := primaryScore - *nextBestScore
		switch {
		case delta > 0.2:
			gapBonus = 0.15
		case delta > 0.1:
			gapBonus = 0.10
		case delta > 0.05:
			gapBonus = 0.05
		}
	}

	raw := primaryScore + gapBonus
	if totalCandidates < 3 {
		raw *= 0.9
	}
	if backupCount == 0 {
		raw *= 0.9
	}
	return clamp01(raw)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
