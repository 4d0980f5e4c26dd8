package runtime

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"chargehub/backend/services/charging-service/internal/billing"
	"chargehub/backend/services/charging-service/internal/invoices"
	"chargehub/backend/services/charging-service/internal/models"
	"chargehub/backend/services/charging-service/internal/repository"
)

// environment is what a session needs from collaborators to be simulated.
type environment struct {
	capacityKWh float64
	powerKW     float64
	bookingEnd  *time.Time
}

func (r *Runtime) resolve(ctx context.Context, sess *models.Session) (*environment, error) {
	if sess.StartTime == nil {
		return nil, fmt.Errorf("%w: in-progress session %d has no start time", ErrDataIntegrity, sess.ID)
	}
	if _, err := r.store.Points.Get(ctx, sess.ChargingPointID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: point %d", ErrDataIntegrity, sess.ChargingPointID)
		}
		return nil, err
	}
	station, err := r.store.Catalog.Station(ctx, sess.StationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: station %d", ErrDataIntegrity, sess.StationID)
		}
		return nil, err
	}
	capacity, err := invoices.BatteryCapacity(ctx, r.store.Catalog, sess)
	if err != nil {
		return nil, err
	}

	env := &environment{capacityKWh: capacity, powerKW: station.PowerCapacityKW}
	if sess.BookingID != nil {
		booking, err := r.store.Bookings.Get(ctx, *sess.BookingID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		if booking != nil {
			end := booking.EndTime
			env.bookingEnd = &end
		}
	}
	if capacity <= 0 {
		// The environment is still usable for reported readings.
		return env, ErrMissingCapacity
	}
	return env, nil
}

func (env *environment) project(sess *models.Session, now time.Time, efficiency float64) billing.Projection {
	elapsed := now.Sub(*sess.StartTime)
	if elapsed < 0 {
		elapsed = 0
	}
	return billing.Project(sess.InitialBattery, env.capacityKWh, env.powerKW, elapsed, efficiency)
}

// energy is the delivered energy implied by the current level, matching battery-based billing.
func (env *environment) energy(sess *models.Session, current float64, proj billing.Projection) float64 {
	if env.capacityKWh <= 0 {
		return billing.RoundHalfUp(proj.EnergyKWh, 2)
	}
	charged := math.Max(0, current-sess.InitialBattery)
	return billing.RoundHalfUp(charged/100*env.capacityKWh, 2)
}

// Snapshot computes the live view of a session from persisted state, without writing anything.
func (r *Runtime) Snapshot(ctx context.Context, sess *models.Session) (*models.LiveSnapshot, error) {
	now := r.clock.Now()
	if sess.Status != models.SessionInProgress {
		snap := BuildSnapshot(sess, sess.CurrentBattery, sess.EnergyDeliveredKWh, now, nil)
		if sess.FinalBattery != nil {
			snap.CurrentBattery = *sess.FinalBattery
		}
		return &snap, nil
	}

	env, err := r.resolve(ctx, sess)
	if errors.Is(err, ErrMissingCapacity) {
		snap := BuildSnapshot(sess, sess.CurrentBattery, 0, now, env.bookingEnd)
		return &snap, nil
	}
	if err != nil {
		return nil, err
	}
	current := sess.CurrentBattery
	proj := billing.Projection{Battery: current}
	if sess.BatterySource == models.BatterySimulated {
		proj = env.project(sess, now, r.cfg.Efficiency)
		current = math.Max(proj.Battery, sess.CurrentBattery)
	}
	snap := BuildSnapshot(sess, current, env.energy(sess, current, proj), now, env.bookingEnd)
	return &snap, nil
}

// BuildSnapshot assembles the read model for a session at the given battery level.
func BuildSnapshot(sess *models.Session, current, energyKWh float64, now time.Time, bookingEnd *time.Time) models.LiveSnapshot {
	target := sess.TargetBattery
	if target <= 0 {
		target = 100
	}
	snap := models.LiveSnapshot{
		SessionID:         sess.ID,
		Status:            sess.Status,
		BatterySource:     sess.BatterySource,
		InitialBattery:    sess.InitialBattery,
		CurrentBattery:    current,
		TargetBattery:     target,
		Charged:           billing.RoundHalfUp(math.Max(0, current-sess.InitialBattery), 1),
		RemainingToTarget: billing.RoundHalfUp(math.Max(0, target-current), 1),
		TargetReached:     current >= target,
		EnergyKWh:         energyKWh,
		EstimatedFee:      billing.RoundMoney(energyKWh * float64(sess.PricePerKWh)),
		OvertimeMinutes:   billing.OvertimeMinutes(now, bookingEnd),
		UpdatedAt:         now,
	}
	if sess.StartTime != nil {
		end := now
		if sess.EndTime != nil {
			end = *sess.EndTime
		}
		if elapsed := end.Sub(*sess.StartTime); elapsed > 0 {
			snap.ElapsedSeconds = int64(elapsed / time.Second)
		}
	}
	return snap
}
