package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opsloop/saiban/internal/model"
)

func TestVectorSimilarityScoreNeutralWhenNoMatches(t *testing.T) {
	assert.Equal(t, neutralVectorSim, vectorSimilarityScore(nil))
}

func TestVectorSimilarityScoreAppliesBonusCappedAt20(t *testing.T) {
	matched := []model.SimilarIncident{
		{Similarity: 0.8}, {Similarity: 0.8}, {Similarity: 0.8}, {Similarity: 0.8}, {Similarity: 0.8},
	}
	got := vectorSimilarityScore(matched)
	assert.InDelta(t, 1.0, got, 1e-9) // mean 0.8 + bonus capped at 0.2, clamped to 1.0
}

func TestCapacityScoreNoStoryPointsReturnsFull(t *testing.T) {
	profile := model.CandidateProfile{MaxStoryPoints: 10, CurrentStoryPoints: 9}
	assert.Equal(t, 1.0, capacityScore(profile, nil))
	zero := 0
	assert.Equal(t, 1.0, capacityScore(profile, &zero))
}

func TestCapacityScorePiecewise(t *testing.T) {
	sp := 1
	cases := []struct {
		name     string
		profile  model.CandidateProfile
		expected float64
	}{
		{"zero max", model.CandidateProfile{MaxStoryPoints: 0, CurrentStoryPoints: 0}, 0.0},
		{"40pct remaining", model.CandidateProfile{MaxStoryPoints: 10, CurrentStoryPoints: 5}, 0.9},
		{"20pct remaining", model.CandidateProfile{MaxStoryPoints: 10, CurrentStoryPoints: 7}, 1.0},
		{"10pct remaining", model.CandidateProfile{MaxStoryPoints: 10, CurrentStoryPoints: 8}, 0.8},
		{"just above zero", model.CandidateProfile{MaxStoryPoints: 100, CurrentStoryPoints: 95}, 0.6},
		{"exhausted", model.CandidateProfile{MaxStoryPoints: 10, CurrentStoryPoints: 10}, 0.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, capacityScore(tc.profile, &sp))
		})
	}
}

func TestSeverityAdjustedFitScalesBySev1AndSev2(t *testing.T) {
	sev1 := severityAdjustedFit(0.5, model.Sev1)
	sev4 := severityAdjustedFit(0.5, model.Sev4)
	assert.Greater(t, sev1, 0.5)
	assert.Less(t, sev4, 0.5)
}

func TestSeverityAdjustedFitClamps(t *testing.T) {
	assert.LessOrEqual(t, severityAdjustedFit(1.0, model.Sev1), 1.0)
	assert.GreaterOrEqual(t, severityAdjustedFit(0.0, model.Sev4), 0.0)
}

func TestRankCandidatesTieBreaks(t *testing.T) {
	scores := []candidateScore{
		{final: 0.5, profile: model.CandidateProfile{HumanID: "bob", ResolvesCount: 3, TransfersCount: 1}},
		{final: 0.5, profile: model.CandidateProfile{HumanID: "alice", ResolvesCount: 3, TransfersCount: 0}},
		{final: 0.9, profile: model.CandidateProfile{HumanID: "zed"}},
	}
	rankCandidates(scores)
	assert.Equal(t, "zed", scores[0].profile.HumanID)
	assert.Equal(t, "alice", scores[1].profile.HumanID) // same final+resolves, fewer transfers wins
	assert.Equal(t, "bob", scores[2].profile.HumanID)
}

func TestConfidenceGapBonusAndSparsityPenalty(t *testing.T) {
	next := 0.5
	// Large gap, plenty of candidates and a backup: full gap bonus applied, no penalty.
	got := confidence(0.9, &next, 5, 1)
	assert.InDelta(t, 1.0, got, 1e-9)

	// No next-best, under 3 candidates total, no backups: both penalties apply.
	got2 := confidence(0.8, nil, 2, 0)
	assert.InDelta(t, 0.8*0.9*0.9, got2, 1e-9)
}

func TestScoreCandidateWeightsSumToFinal(t *testing.T) {
	profile := model.CandidateProfile{FitScore: 0.6, MaxStoryPoints: 10, CurrentStoryPoints: 2}
	sp := 1
	sc := scoreCandidate(profile, model.Sev3, &sp, nil)
	expected := weightFit*0.6 + weightVectorSim*neutralVectorSim + weightCapacity*sc.capacityScore + weightSeverity*sc.severityScore
	assert.InDelta(t, clamp01(expected), sc.final, 1e-9)
	assert.Contains(t, sc.breakdown, "final")
}
