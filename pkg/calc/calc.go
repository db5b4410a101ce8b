// Package calc provides progress arithmetic.
package calc

import (
	"math"
	"time"
)

// Percent returns done*100/total using integer division, 0 when total is not positive.
func Percent(done, total int) int {
	if total <= 0 {
		return 0
	}

	return done * 100 / total
}

// Ratio returns current/expected as a percentage truncated to an int and clamped to 0..100.
func Ratio(current, expected time.Duration) int {
	if expected <= 0 {
		return 0
	}

	p := math.Floor(float64(current) / float64(expected) * 100)

	return int(max(0, min(p, 100)))
}

// ETA calculates the estimated time of arrival.
func ETA(done, total int, started time.Time) time.Duration {
	if total <= 0 || done <= 0 {
		return 0
	}

	elapsed := time.Since(started)

	return time.Duration(float64(elapsed) * (float64(total)/float64(done) - 1))
}
