package calc

import (
	"testing"
	"time"
)

func TestPercent(t *testing.T) {
	tests := []struct {
		name        string
		done, total int
		want        int
	}{
		{"total_zero", 10, 0, 0},
		{"zero_done", 0, 10, 0},
		{"one_third", 1, 3, 33},
		{"two_thirds", 2, 3, 66}, // truncates
		{"exact_100", 10, 10, 100},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := Percent(tc.done, tc.total); got != tc.want {
				t.Fatalf("Percent(%d, %d) = %d; want %d", tc.done, tc.total, got, tc.want)
			}
		})
	}
}

func TestRatio(t *testing.T) {
	tests := []struct {
		name              string
		current, expected time.Duration
		want              int
	}{
		{"unknown_expected", time.Second, 0, 0},
		{"quarter", 15 * time.Second, time.Minute, 25},
		{"overshoot_clamped", 2 * time.Minute, time.Minute, 100},
		{"fraction_truncated", 999 * time.Millisecond, 10 * time.Second, 9},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := Ratio(tc.current, tc.expected); got != tc.want {
				t.Fatalf("Ratio(%v, %v) = %d; want %d", tc.current, tc.expected, got, tc.want)
			}
		})
	}
}

func approxEqual(a, b, tol time.Duration) bool {
	if a < b {
		return b-a <= tol
	}

	return a-b <= tol
}

func TestETA(t *testing.T) {
	tests := []struct {
		name        string
		done, total int
		elapsed     time.Duration
		want        time.Duration
	}{
		{"total_zero", 10, 0, time.Second, 0},
		{"nothing_done", 0, 10, time.Second, 0},
		{"half", 50, 100, 2 * time.Second, 2 * time.Second},
		{"quarter", 25, 100, 4 * time.Second, 12 * time.Second},
	}

	const tolerance = 50 * time.Millisecond

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ETA(tc.done, tc.total, time.Now().Add(-tc.elapsed))
			if !approxEqual(got, tc.want, tolerance) {
				t.Fatalf("ETA(%d, %d) = %v; want approx %v", tc.done, tc.total, got, tc.want)
			}
		})
	}
}
