package billing

import (
	"math"
	"time"
)

// DefaultEfficiency is the share of station power that ends up in the battery.
const DefaultEfficiency = 0.90

// Projection is the simulated state of a battery after charging for some time.
type Projection struct {
	// EnergyKWh is the energy the battery absorbed, capped at its headroom when capacity is known.
	EnergyKWh float64
	// GainedPercent is the uncapped battery gain implied by the supplied energy.
	GainedPercent float64
	// Battery is the resulting level, capped at 100 and rounded to one decimal.
	Battery float64
}

// EnergyFromPower returns power × hours × efficiency, never negative.
func EnergyFromPower(powerKW float64, elapsed time.Duration, efficiency float64) float64 {
	if powerKW <= 0 || elapsed <= 0 {
		return 0
	}
	return powerKW * elapsed.Hours() * normalizeEfficiency(efficiency)
}

// Project simulates charging from initial percent for elapsed time. Both the session runtime
// and the time-based billing fallback go through this function.
// With a non-positive capacity only EnergyKWh is meaningful and Battery stays at initial.
func Project(initial, capacityKWh, powerKW float64, elapsed time.Duration, efficiency float64) Projection {
	initial = ClampPercent(initial)
	energy := EnergyFromPower(powerKW, elapsed, efficiency)
	if capacityKWh <= 0 {
		return Projection{EnergyKWh: energy, Battery: RoundHalfUp(initial, 1)}
	}

	gained := energy / capacityKWh * 100
	headroom := (100 - initial) / 100 * capacityKWh
	return Projection{
		EnergyKWh:     math.Min(energy, headroom),
		GainedPercent: gained,
		Battery:       RoundHalfUp(math.Min(100, initial+gained), 1),
	}
}

func normalizeEfficiency(e float64) float64 {
	if e <= 0 || e > 1 || math.IsNaN(e) {
		return DefaultEfficiency
	}
	return e
}
