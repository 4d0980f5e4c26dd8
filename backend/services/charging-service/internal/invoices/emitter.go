package invoices

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chargehub/backend/services/charging-service/internal/allocator"
	"chargehub/backend/services/charging-service/internal/billing"
	"chargehub/backend/services/charging-service/internal/clock"
	"chargehub/backend/services/charging-service/internal/metrics"
	"chargehub/backend/services/charging-service/internal/models"
	"chargehub/backend/services/charging-service/internal/notify"
	"chargehub/backend/services/charging-service/internal/repository"
)

var (
	// ErrAlreadyCompleted means another actor finished or cancelled the session first.
	// Background callers treat it as success.
	ErrAlreadyCompleted = errors.New("invoices: session already completed or cancelled")
	// ErrNotStarted is returned for sessions that are still pending.
	ErrNotStarted = errors.New("invoices: session has not started")
	// ErrMissingStation marks a session whose station cannot be resolved.
	ErrMissingStation = errors.New("invoices: station not found for session")
)

// Trigger tells who asked for completion.
type Trigger string

const (
	TriggerManual Trigger = "manual"
	TriggerAuto   Trigger = "auto"
)

// Completion requests the end of an in-progress session.
type Completion struct {
	SessionID int64
	// FinalBattery is the last trustworthy reading; nil selects time-based billing
	// unless the session carries reported readings.
	FinalBattery *float64
	// EndTime defaults to the clock's now.
	EndTime time.Time
	Trigger Trigger
}

// Config holds billing constants.
type Config struct {
	Efficiency            float64
	OvertimeRatePerMinute int64
}

// Emitter completes sessions: it writes the single invoice, releases the point and closes the booking.
type Emitter struct {
	store     *repository.Store
	allocator *allocator.Allocator
	notifier  notify.Notifier
	clock     clock.Clock
	cfg       Config
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewEmitter builds emitter.
func NewEmitter(store *repository.Store, alloc *allocator.Allocator, notifier notify.Notifier, clk clock.Clock, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Emitter {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Emitter{
		store:     store,
		allocator: alloc,
		notifier:  notifier,
		clock:     clk,
		cfg:       cfg,
		metrics:   m,
		logger:    logger.Named("invoices"),
	}
}

// Complete bills the session and emits its invoice. At most one call per session succeeds;
// the others get ErrAlreadyCompleted.
func (e *Emitter) Complete(ctx context.Context, c Completion) (*models.Invoice, error) {
	sess, err := e.store.Sessions.Get(ctx, c.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %d: %w", c.SessionID, err)
	}
	switch {
	case sess.Status == models.SessionPending:
		return nil, ErrNotStarted
	case sess.Status.Final():
		return nil, ErrAlreadyCompleted
	case sess.StartTime == nil:
		return nil, fmt.Errorf("session %d is in progress without a start time", sess.ID)
	}

	endTime := c.EndTime
	if endTime.IsZero() {
		endTime = e.clock.Now()
	}
	final := c.FinalBattery
	if final != nil && *final < sess.CurrentBattery {
		return nil, fmt.Errorf("session %d final battery %.1f below current %.1f: %w",
			sess.ID, *final, sess.CurrentBattery, billing.ErrBatteryRegression)
	}
	if final == nil && sess.BatterySource == models.BatteryReported {
		reported := sess.CurrentBattery
		final = &reported
	}

	in, err := e.billingInput(ctx, sess, final, endTime)
	if err != nil {
		return nil, err
	}
	breakdown, err := billing.Calculate(in)
	if err != nil {
		return nil, fmt.Errorf("bill session %d: %w", sess.ID, err)
	}
	inv := newInvoice(sess, breakdown, endTime, c.Trigger == TriggerAuto)

	err = e.store.Tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := e.store.Sessions.Complete(ctx, sess.ID, models.SessionCompletion{
			EndTime:            endTime,
			FinalBattery:       breakdown.FinalBattery,
			EnergyDeliveredKWh: breakdown.EnergyDeliveredKWh,
			ChargingFee:        breakdown.ChargingFee,
			TotalAmount:        breakdown.TotalAmount,
		})
		if err != nil {
			return fmt.Errorf("complete session %d: %w", sess.ID, err)
		}
		if !ok {
			return ErrAlreadyCompleted
		}

		if err := e.store.Invoices.Create(ctx, inv); err != nil {
			if errors.Is(err, repository.ErrDuplicateInvoice) {
				return ErrAlreadyCompleted
			}
			return fmt.Errorf("create invoice for session %d: %w", sess.ID, err)
		}

		if err := e.allocator.Release(ctx, sess.ChargingPointID, sess.ID); err != nil {
			if !errors.Is(err, allocator.ErrPointNotInUse) {
				return err
			}
			e.logger.Warn("point was not held by completed session",
				zap.Int64("session_id", sess.ID), zap.Int64("point_id", sess.ChargingPointID))
		}

		if sess.BookingID != nil {
			ok, err := e.store.Bookings.TransitionStatus(ctx, *sess.BookingID,
				[]models.BookingStatus{models.BookingActive, models.BookingConfirmed}, models.BookingCompleted)
			if err != nil {
				return fmt.Errorf("complete booking %d: %w", *sess.BookingID, err)
			}
			if ok {
				e.metrics.BookingTransition(string(models.BookingCompleted))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metrics.InvoiceEmitted(string(c.Trigger), inv.TotalAmount)
	e.logger.Info("session completed",
		zap.Int64("session_id", sess.ID),
		zap.Int64("invoice_id", inv.ID),
		zap.String("trigger", string(c.Trigger)),
		zap.String("method", string(inv.CalculationMethod)),
		zap.Float64("energy_kwh", inv.EnergyDeliveredKWh),
		zap.Int64("total_amount", inv.TotalAmount),
	)

	autoStopped := c.Trigger == TriggerAuto
	finalBattery := inv.FinalBattery
	invoiceID := inv.ID
	e.notifier.Notify(ctx, notify.SessionStatusChange{
		Session:      sess.ID,
		Status:       models.SessionCompleted,
		Message:      completionMessage(autoStopped, finalBattery),
		AutoStopped:  &autoStopped,
		FinalBattery: &finalBattery,
		InvoiceID:    &invoiceID,
		At:           endTime,
	})
	return inv, nil
}

func (e *Emitter) billingInput(ctx context.Context, sess *models.Session, final *float64, endTime time.Time) (billing.Input, error) {
	station, err := e.store.Catalog.Station(ctx, sess.StationID)
	if errors.Is(err, repository.ErrNotFound) {
		return billing.Input{}, fmt.Errorf("%w: station %d", ErrMissingStation, sess.StationID)
	}
	if err != nil {
		return billing.Input{}, fmt.Errorf("load station %d: %w", sess.StationID, err)
	}

	capacity, err := BatteryCapacity(ctx, e.store.Catalog, sess)
	if err != nil {
		return billing.Input{}, err
	}

	in := billing.Input{
		StartTime:             *sess.StartTime,
		EndTime:               endTime,
		InitialBattery:        sess.InitialBattery,
		FinalBattery:          final,
		TargetBattery:         sess.TargetBattery,
		BatteryCapacityKWh:    capacity,
		PowerCapacityKW:       station.PowerCapacityKW,
		PricePerKWh:           sess.PricePerKWh,
		BaseFee:               sess.BaseFee,
		Efficiency:            e.cfg.Efficiency,
		OvertimeRatePerMinute: e.cfg.OvertimeRatePerMinute,
	}

	if sess.VehicleID != nil {
		discount, err := e.store.Catalog.ActiveDiscount(ctx, *sess.VehicleID, endTime)
		if err != nil {
			return billing.Input{}, fmt.Errorf("load discount for vehicle %d: %w", *sess.VehicleID, err)
		}
		in.DiscountPercentage = discount
	}

	if sess.BookingID != nil {
		booking, err := e.store.Bookings.Get(ctx, *sess.BookingID)
		if err != nil {
			return billing.Input{}, fmt.Errorf("load booking %d: %w", *sess.BookingID, err)
		}
		bookingEnd := booking.EndTime
		in.BookingEndTime = &bookingEnd
	}
	return in, nil
}

// BatteryCapacity resolves the session's battery capacity: the vehicle's, else the guest value.
// It returns 0 when neither is known.
func BatteryCapacity(ctx context.Context, catalog repository.Catalog, sess *models.Session) (float64, error) {
	if sess.VehicleID != nil {
		vehicle, err := catalog.Vehicle(ctx, *sess.VehicleID)
		switch {
		case err == nil && vehicle.BatteryCapacityKWh > 0:
			return vehicle.BatteryCapacityKWh, nil
		case err != nil && !errors.Is(err, repository.ErrNotFound):
			return 0, fmt.Errorf("load vehicle %d: %w", *sess.VehicleID, err)
		}
	}
	if sess.GuestBatteryKWh != nil && *sess.GuestBatteryKWh > 0 {
		return *sess.GuestBatteryKWh, nil
	}
	return 0, nil
}

func newInvoice(sess *models.Session, b billing.Breakdown, endTime time.Time, autoStopped bool) *models.Invoice {
	return &models.Invoice{
		Number:                "INV-" + strings.ToUpper(uuid.NewString()),
		SessionID:             sess.ID,
		BookingID:             sess.BookingID,
		UserID:                sess.UserID,
		VehicleID:             sess.VehicleID,
		StationID:             sess.StationID,
		ChargingPointID:       sess.ChargingPointID,
		StartTime:             *sess.StartTime,
		EndTime:               endTime,
		DurationSeconds:       b.DurationSeconds,
		DurationMinutes:       b.DurationMinutes,
		DurationHours:         b.DurationHours,
		DurationText:          b.DurationText,
		InitialBattery:        b.InitialBattery,
		FinalBattery:          b.FinalBattery,
		BatteryCharged:        b.BatteryCharged,
		TargetBattery:         b.TargetBattery,
		BatteryCapacityKWh:    b.BatteryCapacityKWh,
		PowerCapacityKW:       b.PowerCapacityKW,
		EnergyDeliveredKWh:    b.EnergyDeliveredKWh,
		ChargingEfficiency:    b.Efficiency,
		CalculationMethod:     b.Method,
		BaseFee:               b.BaseFee,
		PricePerKWh:           b.PricePerKWh,
		ChargingFee:           b.ChargingFee,
		OvertimeMinutes:       b.OvertimeMinutes,
		OvertimeRatePerMinute: b.OvertimeRatePerMinute,
		OvertimeFee:           b.OvertimeFee,
		DiscountPercentage:    b.DiscountPercentage,
		DiscountAmount:        b.DiscountAmount,
		TotalAmount:           b.TotalAmount,
		AutoStopped:           autoStopped,
		PaymentStatus:         models.PaymentUnpaid,
	}
}

func completionMessage(autoStopped bool, final float64) string {
	if autoStopped {
		return fmt.Sprintf("Charging finished automatically at %.1f%%", final)
	}
	return fmt.Sprintf("Charging stopped at %.1f%%", final)
}
