// Package util provides common helpers for strike and expiry arithmetic.
package util

import (
	"fmt"
	"math"
)

// ATMStrike rounds a spot price to the nearest strike on the given step
// grid. A non-finite or non-positive spot is a data-integrity failure and
// must abort the cycle rather than be silently skipped.
func ATMStrike(spot float64, step int) (int, error) {
	if step <= 0 {
		return 0, fmt.Errorf("strike step must be positive, got %d", step)
	}
	if math.IsNaN(spot) || math.IsInf(spot, 0) {
		return 0, fmt.Errorf("spot price is not finite: %v", spot)
	}
	if spot <= 0 {
		return 0, fmt.Errorf("spot price must be positive, got %v", spot)
	}
	return int(math.Round(spot/float64(step))) * step, nil
}

// AbsInt returns the absolute value of an integer.
func AbsInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
