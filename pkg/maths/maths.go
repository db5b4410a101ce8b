// Package maths provides small numeric helpers.
package maths

import (
	"math"
)

// Round rounds v half away from zero to the given number of decimal places.
func Round(v float64, places int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}

	pow := math.Pow10(places)

	return math.Round(v*pow) / pow
}

// Seconds converts milliseconds to seconds rounded to 3 decimal places.
func Seconds(ms float64) float64 {
	return Round(ms/1000, 3)
}
