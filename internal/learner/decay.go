package learner

import (
	"math"
	"time"
)

// computeFitScore derives fit_score from the raw counters at read time,
// per spec.md §4.B's closed-form formula (matching
// original_source/services/learner/stats_service.py's calculate_fit_score,
// the function GET /profiles actually calls): resolve_boost and
// transfer_penalty are pure functions of the cumulative counters, not
// deltas, so there is no double-counting against the incremental writes
// ProcessOutcome already applied to resolves_count/transfers_count.
func computeFitScore(resolvesCount, transfersCount int, lastResolvedAt *time.Time, now time.Time) float64 {
	const base = 0.5

	resolveBoost := math.Min(0.5, 0.05*float64(resolvesCount))
	transferPenalty := math.Min(0.3, 0.10*float64(transfersCount))

	days := 90.0
	if lastResolvedAt != nil {
		if d := now.Sub(*lastResolvedAt).Hours() / 24; d > 0 {
			days = d
		} else {
			days = 0
		}
	}
	recencyBoost := math.Max(0, 0.2*(1-days/90))

	raw := base + resolveBoost - transferPenalty + recencyBoost
	decay := math.Pow(0.99, days)
	return clamp01(raw * decay)
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
