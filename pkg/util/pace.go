package util

import (
	"fmt"
	"time"
)

// PacePlaceholder is shown while elapsed time or distance is still zero.
const PacePlaceholder = "0:00"

// FormatPace renders elapsed time over distance as minutes per kilometre, mm:ss.
func FormatPace(elapsedMs int64, distanceM float64) string {
	if elapsedMs <= 0 || distanceM <= 0 {
		return PacePlaceholder
	}

	secsPerKm := int64(float64(elapsedMs) / distanceM)
	return fmt.Sprintf("%d:%02d", secsPerKm/60, secsPerKm%60)
}

// ElapsedMs returns the milliseconds between start and t, never negative.
func ElapsedMs(start, t time.Time) int64 {
	if start.IsZero() || t.Before(start) {
		return 0
	}
	return t.Sub(start).Milliseconds()
}
