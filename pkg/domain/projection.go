package domain

import (
	"math"
	"time"
)

// EstimateEmptyDate projects when a gas cylinder will run empty from its two
// most recent level readings. It returns nil when there is no prior reading or
// the level did not decrease, since extrapolating a flat or rising trend is
// meaningless. Elapsed time is floored at one day so same-day double readings
// do not divide by zero. The estimate is deliberately a two-point linear
// projection with no smoothing.
func EstimateEmptyDate(currentLevel float64, previousLevel *float64, lastMeasuredAt time.Time, previousMeasuredAt *time.Time) *time.Time {
	if previousLevel == nil || previousMeasuredAt == nil {
		return nil
	}
	if currentLevel >= *previousLevel {
		return nil
	}
	elapsedDays := lastMeasuredAt.Sub(*previousMeasuredAt).Hours() / 24
	if elapsedDays < 1 {
		elapsedDays = 1
	}
	usagePerDay := (*previousLevel - currentLevel) / elapsedDays
	if usagePerDay <= 0 {
		return nil
	}
	daysRemaining := math.Floor(currentLevel / usagePerDay)
	estimate := lastMeasuredAt.AddDate(0, 0, int(daysRemaining))
	return &estimate
}
