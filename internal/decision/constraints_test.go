package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsloop/saiban/internal/model"
)

func TestApplyConstraintsInactiveHumanFiltered(t *testing.T) {
	profile := model.CandidateProfile{Active: false, MaxStoryPoints: 10, CurrentStoryPoints: 0}
	results, reason, filtered := applyConstraints(profile, nil)
	require.True(t, filtered)
	assert.Equal(t, "human is not active", reason)
	require.Len(t, results, 2)
	assert.Equal(t, constraintAvailability, results[0].name)
	assert.False(t, results[0].passed)
}

func TestApplyConstraintsCapacityExhaustedFiltered(t *testing.T) {
	profile := model.CandidateProfile{Active: true, MaxStoryPoints: 5, CurrentStoryPoints: 4}
	sp := 2
	_, reason, filtered := applyConstraints(profile, &sp)
	require.True(t, filtered)
	assert.Contains(t, reason, "insufficient capacity")
}

func TestApplyConstraintsPassesWhenActiveAndCapacityAvailable(t *testing.T) {
	profile := model.CandidateProfile{Active: true, MaxStoryPoints: 10, CurrentStoryPoints: 2}
	sp := 3
	results, reason, filtered := applyConstraints(profile, &sp)
	assert.False(t, filtered)
	assert.Empty(t, reason)
	for _, r := range results {
		assert.True(t, r.passed)
	}
}

func TestApplyConstraintsNilStoryPointsSkipsCapacityCheck(t *testing.T) {
	profile := model.CandidateProfile{Active: true, MaxStoryPoints: 1, CurrentStoryPoints: 1}
	_, _, filtered := applyConstraints(profile, nil)
	assert.False(t, filtered)
}
