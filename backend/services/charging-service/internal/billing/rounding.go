package billing

import "math"

// RoundHalfUp rounds x to the given number of decimal places, halves away from zero.
// A relative epsilon absorbs binary representation error (2.675 → 2.68).
func RoundHalfUp(x float64, places int) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	if x < 0 {
		return -RoundHalfUp(-x, places)
	}
	p := math.Pow10(places)
	scaled := x * p
	eps := 1e-9 * math.Max(1, scaled)
	return math.Floor(scaled+0.5+eps) / p
}

// RoundMoney rounds an amount to the smallest currency unit.
func RoundMoney(x float64) int64 {
	return int64(RoundHalfUp(x, 0))
}

// ClampPercent bounds p to [0, 100].
func ClampPercent(p float64) float64 {
	switch {
	case math.IsNaN(p), p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
