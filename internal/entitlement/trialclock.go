package entitlement

import (
	"math"
	"time"
)

// TrialDuration is the window granted to every new account at creation.
const TrialDuration = 14 * 24 * time.Hour

// TrialExpired reports whether the trial window has lapsed. A nil trialEnd
// is treated as expired: a Trial record without a window violates the store
// invariant and must not keep granting access.
func TrialExpired(trialEnd *time.Time, now time.Time) bool {
	if trialEnd == nil {
		return true
	}
	return now.After(*trialEnd)
}

// TrialDaysRemaining returns the whole days left before trialEnd, rounding
// partial days up, clamped at zero. Used for UI-facing summaries
// ("Your trial expires in 2 days").
func TrialDaysRemaining(trialEnd *time.Time, now time.Time) int {
	if trialEnd == nil {
		return 0
	}
	remaining := trialEnd.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Hours() / 24))
}
