// Package score computes run scores. Calculate is the formula applied when a
// run completes; Simulate is the continuous what-if variant fed by
// user-adjusted values. The two are not interchangeable.
package score

import (
	"math"

	"github.com/hochfrequenz/heal-dash/internal/domain"
)

const (
	// Base is awarded to every completed run
	Base = 100

	speedThresholdSeconds = 300
	speedBonus            = 10
	freeCommits           = 20
	penaltyPerCommit      = 2
)

// Calculate returns the step-function score of a completed run. The total is
// not clamped.
func Calculate(timeTakenSeconds float64, commitsCount int) domain.Score {
	var bonus float64
	if timeTakenSeconds < speedThresholdSeconds {
		bonus = speedBonus
	}
	penalty := float64(max(0, commitsCount-freeCommits) * penaltyPerCommit)

	return domain.Score{
		Base:          Base,
		SpeedBonus:    bonus,
		CommitPenalty: penalty,
		Total:         Base + bonus - penalty,
	}
}

// Simulate returns the continuous what-if score: one bonus point per two
// seconds under the threshold, half a point per commit, total rounded and
// clamped at zero.
func Simulate(timeTakenSeconds float64, commitsCount int) domain.Score {
	bonus := math.Max(0, math.Floor((speedThresholdSeconds-timeTakenSeconds)/2))
	penalty := float64(commitsCount) * 0.5
	total := math.Max(0, math.Round(Base+bonus-penalty))

	return domain.Score{
		Base:          Base,
		SpeedBonus:    bonus,
		CommitPenalty: penalty,
		Total:         total,
	}
}
