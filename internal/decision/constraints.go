package decision

import (
	"fmt"

	"github.com/opsloop/saiban/internal/model"
)

// constraintName values persisted in ConstraintResult rows, in evaluation
// order per spec: availability before capacity.
const (
	constraintAvailability = "availability"
	constraintCapacity     = "capacity"
)

// applyConstraints runs every veto constraint against profile, returning one
// ConstraintResult per constraint (so the audit trail is complete even for
// passing constraints) plus the first failure reason, if any. Constraints
// short-circuit per-candidate on first failure, but every candidate in the
// set is still evaluated independently.
func applyConstraints(profile model.CandidateProfile, storyPoints *int) (results []constraintCheck, filterReason string, filtered bool) {
	availabilityPassed := profile.Active
	results = append(results, constraintCheck{name: constraintAvailability, passed: availabilityPassed})
	if !availabilityPassed {
		filtered = true
		filterReason = "human is not active"
	}

	capacityPassed := true
	if !filtered && storyPoints != nil && *storyPoints > 0 {
		remaining := profile.MaxStoryPoints - profile.CurrentStoryPoints
		capacityPassed = remaining >= *storyPoints
	}
	results = append(results, constraintCheck{name: constraintCapacity, passed: capacityPassed})
	if !filtered && !capacityPassed {
		filtered = true
		filterReason = fmt.Sprintf("insufficient capacity: %d of %d remaining, %d required",
			profile.MaxStoryPoints-profile.CurrentStoryPoints, profile.MaxStoryPoints, storyPointsOrZero(storyPoints))
	}

	return results, filterReason, filtered
}

func storyPointsOrZero(sp *int) int {
	if sp == nil {
		return 0
	}
	return *sp
}

// constraintCheck is one constraint's pass/fail outcome for a single
// candidate, before being turned into a persisted model.ConstraintResult.
type constraintCheck struct {
	name   string
	passed bool
}
