package billing

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chargehub/backend/services/charging-service/internal/models"
)

func ptr[T any](v T) *T { return &v }

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func TestCalculateBookedSessionWithOvertime(t *testing.T) {
	bookingEnd := t0.Add(50 * time.Minute)
	in := Input{
		StartTime:             t0,
		EndTime:               t0.Add(time.Hour),
		InitialBattery:        20,
		FinalBattery:          ptr(70.0),
		TargetBattery:         80,
		BatteryCapacityKWh:    80,
		PowerCapacityKW:       50,
		PricePerKWh:           3000,
		BaseFee:               10000,
		BookingEndTime:        &bookingEnd,
		OvertimeRatePerMinute: 500,
	}

	out, err := Calculate(in)
	require.NoError(t, err)

	assert.Equal(t, models.MethodBatteryBased, out.Method)
	assert.InDelta(t, 40.0, out.EnergyDeliveredKWh, 1e-9)
	assert.Equal(t, int64(120000), out.ChargingFee)
	assert.Equal(t, int64(10), out.OvertimeMinutes)
	assert.Equal(t, int64(5000), out.OvertimeFee)
	assert.Equal(t, int64(0), out.DiscountAmount)
	assert.Equal(t, int64(135000), out.TotalAmount)
	assert.Equal(t, int64(3600), out.DurationSeconds)
	assert.Equal(t, "1h 0m", out.DurationText)
	assert.False(t, out.TargetReached)
	assert.InDelta(t, DefaultEfficiency, out.Efficiency, 1e-12)
}

func TestCalculateIsDeterministic(t *testing.T) {
	in := Input{
		StartTime:          t0,
		EndTime:            t0.Add(95*time.Minute + 17*time.Second),
		InitialBattery:     12.3,
		FinalBattery:       ptr(88.8),
		BatteryCapacityKWh: 62.5,
		PowerCapacityKW:    22,
		PricePerKWh:        2750,
		BaseFee:            5000,
		DiscountPercentage: ptr(12.5),
	}
	first, err := Calculate(in)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Calculate(in)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCalculateTotalFormula(t *testing.T) {
	bookingEnd := t0.Add(30 * time.Minute)
	cases := []Input{
		{StartTime: t0, EndTime: t0.Add(40 * time.Minute), InitialBattery: 10, FinalBattery: ptr(55.0), BatteryCapacityKWh: 75, PricePerKWh: 2999, BaseFee: 1500, DiscountPercentage: ptr(15.0), BookingEndTime: &bookingEnd, OvertimeRatePerMinute: 300},
		{StartTime: t0, EndTime: t0.Add(20 * time.Minute), InitialBattery: 40, PowerCapacityKW: 11, BatteryCapacityKWh: 50, PricePerKWh: 4100},
		{StartTime: t0, EndTime: t0.Add(2 * time.Hour), InitialBattery: 0, FinalBattery: ptr(100.0), BatteryCapacityKWh: 100, PricePerKWh: 1, DiscountPercentage: ptr(100.0)},
	}
	for i, in := range cases {
		out, err := Calculate(in)
		require.NoError(t, err, "case %d", i)
		assert.Equal(t, out.BaseFee+(out.ChargingFee-out.DiscountAmount)+out.OvertimeFee, out.TotalAmount, "case %d", i)
	}
}

func TestCalculateSubscriptionDiscount(t *testing.T) {
	out, err := Calculate(Input{
		StartTime:          t0,
		EndTime:            t0.Add(time.Hour),
		InitialBattery:     50,
		FinalBattery:       ptr(60.0),
		BatteryCapacityKWh: 50,
		PricePerKWh:        1001,
		DiscountPercentage: ptr(10.0),
	})
	require.NoError(t, err)
	// 5 kWh × 1001 = 5005; 10% = 500.5 → 501 (half up)
	assert.Equal(t, int64(5005), out.ChargingFee)
	assert.Equal(t, int64(501), out.DiscountAmount)
	assert.Equal(t, int64(4504), out.DiscountedChargingFee)
	assert.Equal(t, int64(4504), out.TotalAmount)
}

func TestCalculateDiscountClampedOnInput(t *testing.T) {
	out, err := Calculate(Input{
		StartTime:          t0,
		EndTime:            t0.Add(time.Hour),
		FinalBattery:       ptr(10.0),
		BatteryCapacityKWh: 100,
		PricePerKWh:        100,
		DiscountPercentage: ptr(150.0),
	})
	require.NoError(t, err)
	assert.InDelta(t, 100.0, out.DiscountPercentage, 1e-12)
	assert.Equal(t, out.ChargingFee, out.DiscountAmount)
	assert.Equal(t, int64(0), out.TotalAmount)
}

func TestCalculateTimeBasedFallback(t *testing.T) {
	out, err := Calculate(Input{
		StartTime:          t0,
		EndTime:            t0.Add(30 * time.Minute),
		InitialBattery:     20,
		BatteryCapacityKWh: 60,
		PowerCapacityKW:    22,
		PricePerKWh:        1000,
	})
	require.NoError(t, err)
	// 22 × 0.5 × 0.9 = 9.9 kWh → 16.5% of 60 kWh
	assert.Equal(t, models.MethodTimeBased, out.Method)
	assert.InDelta(t, 9.9, out.EnergyDeliveredKWh, 1e-9)
	assert.InDelta(t, 36.5, out.FinalBattery, 1e-9)
	assert.InDelta(t, 16.5, out.BatteryCharged, 1e-9)
	assert.Equal(t, int64(9900), out.ChargingFee)
}

func TestCalculateTimeBasedMatchesRuntimeProjection(t *testing.T) {
	elapsed := 47*time.Minute + 13*time.Second
	proj := Project(33.3, 58, 50, elapsed, DefaultEfficiency)
	out, err := Calculate(Input{
		StartTime:          t0,
		EndTime:            t0.Add(elapsed),
		InitialBattery:     33.3,
		BatteryCapacityKWh: 58,
		PowerCapacityKW:    50,
		PricePerKWh:        1,
	})
	require.NoError(t, err)
	assert.InDelta(t, proj.Battery, out.FinalBattery, 1e-12)
}

func TestCalculateTimeBasedCapsAtFullBattery(t *testing.T) {
	out, err := Calculate(Input{
		StartTime:          t0,
		EndTime:            t0.Add(3 * time.Hour),
		InitialBattery:     30,
		BatteryCapacityKWh: 40,
		PowerCapacityKW:    50,
		PricePerKWh:        10,
	})
	require.NoError(t, err)
	assert.InDelta(t, 100.0, out.FinalBattery, 1e-12)
	assert.InDelta(t, 28.0, out.EnergyDeliveredKWh, 1e-9)
	assert.True(t, out.TargetReached)
}

func TestCalculateValidationErrors(t *testing.T) {
	_, err := Calculate(Input{StartTime: t0, EndTime: t0.Add(-time.Second), PowerCapacityKW: 10})
	assert.True(t, errors.Is(err, ErrEndBeforeStart))

	_, err = Calculate(Input{StartTime: t0, EndTime: t0.Add(time.Hour), InitialBattery: 60, FinalBattery: ptr(40.0), BatteryCapacityKWh: 50})
	assert.True(t, errors.Is(err, ErrBatteryRegression))

	_, err = Calculate(Input{StartTime: t0, EndTime: t0.Add(time.Hour), InitialBattery: 10})
	assert.True(t, errors.Is(err, ErrNoEnergyBasis))

	_, err = Calculate(Input{StartTime: t0, EndTime: t0.Add(time.Hour), PowerCapacityKW: 10, PricePerKWh: -1})
	assert.True(t, errors.Is(err, ErrNegativePrice))
}

func TestCalculateZeroDurationIsValid(t *testing.T) {
	out, err := Calculate(Input{StartTime: t0, EndTime: t0, InitialBattery: 40, PowerCapacityKW: 50, BatteryCapacityKWh: 40, PricePerKWh: 100, BaseFee: 700})
	require.NoError(t, err)
	assert.Equal(t, int64(0), out.ChargingFee)
	assert.Equal(t, int64(700), out.TotalAmount)
	assert.Equal(t, "0s", out.DurationText)
}

func TestOvertimeMinutesRoundsUp(t *testing.T) {
	end := t0
	assert.Equal(t, int64(0), OvertimeMinutes(t0, nil))
	assert.Equal(t, int64(0), OvertimeMinutes(t0, &end))
	assert.Equal(t, int64(1), OvertimeMinutes(t0.Add(time.Second), &end))
	assert.Equal(t, int64(1), OvertimeMinutes(t0.Add(time.Minute), &end))
	assert.Equal(t, int64(2), OvertimeMinutes(t0.Add(time.Minute+time.Millisecond), &end))
}

func TestHumanDuration(t *testing.T) {
	assert.Equal(t, "40s", HumanDuration(40*time.Second))
	assert.Equal(t, "12m 3s", HumanDuration(12*time.Minute+3*time.Second))
	assert.Equal(t, "2h 5m", HumanDuration(2*time.Hour+5*time.Minute+59*time.Second))
	assert.Equal(t, "0s", HumanDuration(-time.Minute))
}
