package billing

import (
	"errors"
	"fmt"
	"math"
	"time"

	"chargehub/backend/services/charging-service/internal/models"
)

var (
	// ErrEndBeforeStart is returned when the end timestamp precedes the start.
	ErrEndBeforeStart = errors.New("billing: end time before start time")
	// ErrBatteryRegression is returned when the final reading is below the initial one.
	ErrBatteryRegression = errors.New("billing: final battery below initial battery")
	// ErrNoEnergyBasis is returned when neither a battery reading nor station power is usable.
	ErrNoEnergyBasis = errors.New("billing: no battery capacity or power capacity to derive energy")
	// ErrNegativePrice is returned for negative tariffs or fees.
	ErrNegativePrice = errors.New("billing: negative price or fee")
)

// Input is everything needed to bill one session.
type Input struct {
	StartTime      time.Time
	EndTime        time.Time
	InitialBattery float64
	// FinalBattery is nil when no trustworthy final reading exists.
	FinalBattery       *float64
	TargetBattery      float64
	BatteryCapacityKWh float64
	PowerCapacityKW    float64
	PricePerKWh        int64
	BaseFee            int64
	Efficiency         float64
	// DiscountPercentage is nil when no active subscription applies.
	DiscountPercentage    *float64
	BookingEndTime        *time.Time
	OvertimeRatePerMinute int64
}

// Breakdown is the full fee computation for a session.
type Breakdown struct {
	DurationSeconds       int64
	DurationMinutes       float64
	DurationHours         float64
	DurationText          string
	InitialBattery        float64
	FinalBattery          float64
	BatteryCharged        float64
	TargetBattery         float64
	TargetReached         bool
	BatteryCapacityKWh    float64
	PowerCapacityKW       float64
	EnergyDeliveredKWh    float64
	Efficiency            float64
	Method                models.CalculationMethod
	BaseFee               int64
	PricePerKWh           int64
	ChargingFee           int64
	DiscountPercentage    float64
	DiscountAmount        int64
	DiscountedChargingFee int64
	OvertimeMinutes       int64
	OvertimeRatePerMinute int64
	OvertimeFee           int64
	TotalAmount           int64
}

// Calculate turns session timing, battery and tariff data into a fee breakdown.
// It is pure: identical inputs always yield identical breakdowns.
func Calculate(in Input) (Breakdown, error) {
	if in.EndTime.Before(in.StartTime) {
		return Breakdown{}, ErrEndBeforeStart
	}
	if in.PricePerKWh < 0 || in.BaseFee < 0 || in.OvertimeRatePerMinute < 0 {
		return Breakdown{}, ErrNegativePrice
	}

	efficiency := normalizeEfficiency(in.Efficiency)
	elapsed := in.EndTime.Sub(in.StartTime)
	initial := ClampPercent(in.InitialBattery)

	out := Breakdown{
		DurationSeconds:       int64(elapsed / time.Second),
		DurationMinutes:       RoundHalfUp(elapsed.Minutes(), 2),
		DurationHours:         RoundHalfUp(elapsed.Hours(), 2),
		DurationText:          HumanDuration(elapsed),
		InitialBattery:        initial,
		TargetBattery:         targetOrFull(in.TargetBattery),
		BatteryCapacityKWh:    in.BatteryCapacityKWh,
		PowerCapacityKW:       in.PowerCapacityKW,
		Efficiency:            efficiency,
		BaseFee:               in.BaseFee,
		PricePerKWh:           in.PricePerKWh,
		OvertimeRatePerMinute: in.OvertimeRatePerMinute,
	}

	switch {
	case in.FinalBattery != nil && in.BatteryCapacityKWh > 0:
		final := ClampPercent(*in.FinalBattery)
		charged := final - initial
		if charged < 0 {
			return Breakdown{}, fmt.Errorf("%w: initial %.1f final %.1f", ErrBatteryRegression, initial, final)
		}
		out.Method = models.MethodBatteryBased
		out.FinalBattery = final
		out.BatteryCharged = RoundHalfUp(charged, 1)
		out.EnergyDeliveredKWh = RoundHalfUp(charged/100*in.BatteryCapacityKWh, 2)
	case in.PowerCapacityKW > 0:
		proj := Project(initial, in.BatteryCapacityKWh, in.PowerCapacityKW, elapsed, efficiency)
		final := proj.Battery
		if in.BatteryCapacityKWh <= 0 && in.FinalBattery != nil {
			final = ClampPercent(*in.FinalBattery)
		}
		if final < initial {
			return Breakdown{}, fmt.Errorf("%w: initial %.1f final %.1f", ErrBatteryRegression, initial, final)
		}
		out.Method = models.MethodTimeBased
		out.FinalBattery = final
		out.BatteryCharged = RoundHalfUp(final-initial, 1)
		out.EnergyDeliveredKWh = RoundHalfUp(proj.EnergyKWh, 2)
	default:
		return Breakdown{}, ErrNoEnergyBasis
	}
	out.TargetReached = out.FinalBattery >= out.TargetBattery

	out.ChargingFee = RoundMoney(out.EnergyDeliveredKWh * float64(in.PricePerKWh))
	if in.DiscountPercentage != nil {
		out.DiscountPercentage = ClampPercent(*in.DiscountPercentage)
		out.DiscountAmount = RoundMoney(float64(out.ChargingFee) * out.DiscountPercentage / 100)
	}
	out.DiscountedChargingFee = out.ChargingFee - out.DiscountAmount

	out.OvertimeMinutes = OvertimeMinutes(in.EndTime, in.BookingEndTime)
	out.OvertimeFee = out.OvertimeMinutes * in.OvertimeRatePerMinute

	out.TotalAmount = in.BaseFee + out.DiscountedChargingFee + out.OvertimeFee
	return out, nil
}

// OvertimeMinutes returns started minutes past bookingEnd, or 0 without a booking end.
func OvertimeMinutes(at time.Time, bookingEnd *time.Time) int64 {
	if bookingEnd == nil || !at.After(*bookingEnd) {
		return 0
	}
	over := at.Sub(*bookingEnd)
	return int64((over + time.Minute - 1) / time.Minute)
}

// HumanDuration renders d as "1h 5m", "12m 3s" or "40s".
func HumanDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	h, m, s := total/3600, (total%3600)/60, total%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

func targetOrFull(target float64) float64 {
	if target <= 0 || math.IsNaN(target) {
		return 100
	}
	return ClampPercent(target)
}
