package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"chargehub/backend/services/charging-service/internal/allocator"
	"chargehub/backend/services/charging-service/internal/clock"
	"chargehub/backend/services/charging-service/internal/metrics"
	"chargehub/backend/services/charging-service/internal/models"
	"chargehub/backend/services/charging-service/internal/notify"
	"chargehub/backend/services/charging-service/internal/repository"
)

// WindowManager moves bookings through their time window: confirmed → active when the window
// opens and the point can be held, and → expired once it closes without a live session.
type WindowManager struct {
	store     *repository.Store
	allocator *allocator.Allocator
	notifier  notify.Notifier
	clock     clock.Clock
	batchSize int
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewWindowManager builds manager.
func NewWindowManager(store *repository.Store, alloc *allocator.Allocator, notifier notify.Notifier, clk clock.Clock, batchSize int, m *metrics.Metrics, logger *zap.Logger) *WindowManager {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &WindowManager{
		store:     store,
		allocator: alloc,
		notifier:  notifier,
		clock:     clk,
		batchSize: batchSize,
		metrics:   m,
		logger:    logger.Named("window"),
	}
}

// Sweep runs the activation pass and then the expiration pass.
func (m *WindowManager) Sweep(ctx context.Context) error {
	now := m.clock.Now()
	activateErr := m.activate(ctx, now)
	expireErr := m.expire(ctx, now)
	return errors.Join(activateErr, expireErr)
}

func (m *WindowManager) activate(ctx context.Context, now time.Time) error {
	due, err := m.store.Bookings.ListDueForActivation(ctx, now, m.batchSize)
	if err != nil {
		return fmt.Errorf("list bookings due for activation: %w", err)
	}
	for i := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := &due[i]
		if !now.Before(b.EndTime) {
			continue
		}
		if err := m.activateOne(ctx, b); err != nil {
			m.metrics.EntitySkipped("window", "activation_error")
			m.logger.Error("activate booking", zap.Int64("booking_id", b.ID), zap.Error(err))
		}
	}
	return nil
}

func (m *WindowManager) activateOne(ctx context.Context, b *models.Booking) error {
	log := m.logger.With(zap.Int64("booking_id", b.ID), zap.Int64("point_id", b.ChargingPointID))

	sess, err := OpenSession(ctx, m.store, b)
	if err != nil {
		return err
	}

	switch err := m.allocator.Allocate(ctx, b.ChargingPointID, sess.ID); {
	case errors.Is(err, allocator.ErrPointInUse):
		m.metrics.EntitySkipped("window", "point_unavailable")
		log.Info("point not available, booking stays confirmed")
		return nil
	case err != nil:
		return err
	}

	ok, err := m.store.Bookings.TransitionStatus(ctx, b.ID, []models.BookingStatus{models.BookingConfirmed}, models.BookingActive)
	if err != nil || !ok {
		// Cancelled meanwhile or the write failed: give the point back.
		if relErr := m.allocator.Release(ctx, b.ChargingPointID, sess.ID); relErr != nil && !errors.Is(relErr, allocator.ErrPointNotInUse) {
			log.Error("compensate allocation", zap.Error(relErr))
		}
		if err != nil {
			return fmt.Errorf("activate booking: %w", err)
		}
		log.Info("booking changed during activation, allocation undone")
		return nil
	}

	m.metrics.BookingTransition(string(models.BookingActive))
	log.Info("booking activated", zap.Int64("session_id", sess.ID))
	return nil
}

func (m *WindowManager) expire(ctx context.Context, now time.Time) error {
	due, err := m.store.Bookings.ListDueForExpiration(ctx, now, m.batchSize)
	if err != nil {
		return fmt.Errorf("list bookings due for expiration: %w", err)
	}
	for i := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := &due[i]
		if err := m.expireOne(ctx, b, now); err != nil {
			m.metrics.EntitySkipped("window", "expiration_error")
			m.logger.Error("expire booking", zap.Int64("booking_id", b.ID), zap.Error(err))
		}
	}
	return nil
}

func (m *WindowManager) expireOne(ctx context.Context, b *models.Booking, now time.Time) error {
	log := m.logger.With(zap.Int64("booking_id", b.ID))

	sess, err := m.store.Sessions.FindOpenByBooking(ctx, b.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("find open session: %w", err)
	}
	if sess != nil && sess.Status == models.SessionInProgress {
		m.metrics.EntitySkipped("window", "session_live")
		log.Debug("booking window closed but session is still charging", zap.Int64("session_id", sess.ID))
		return nil
	}

	if sess != nil {
		closed, err := CloseSession(ctx, m.store, m.allocator, sess, now)
		if err != nil {
			return err
		}
		if !closed {
			m.metrics.EntitySkipped("window", "session_live")
			log.Debug("session started while the booking window closed", zap.Int64("session_id", sess.ID))
			return nil
		}
		m.notifier.Notify(ctx, notify.SessionStatusChange{
			Session: sess.ID,
			Status:  models.SessionCancelled,
			Message: "Booking window expired before charging started",
			At:      now,
		})
	}

	ok, err := m.store.Bookings.TransitionStatus(ctx, b.ID,
		[]models.BookingStatus{models.BookingActive, models.BookingConfirmed}, models.BookingExpired)
	if err != nil {
		return fmt.Errorf("expire booking: %w", err)
	}
	if ok {
		m.metrics.BookingTransition(string(models.BookingExpired))
		log.Info("booking expired")
	}
	return nil
}

// OpenSession returns the booking's pending or in-progress session, creating a pending one
// priced from the station when there is none.
func OpenSession(ctx context.Context, store *repository.Store, b *models.Booking) (*models.Session, error) {
	sess, err := store.Sessions.FindOpenByBooking(ctx, b.ID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("find open session: %w", err)
	}

	station, err := store.Catalog.Station(ctx, b.StationID)
	if err != nil {
		return nil, fmt.Errorf("load station %d: %w", b.StationID, err)
	}
	bookingID := b.ID
	vehicleID := b.VehicleID
	sess = &models.Session{
		BookingID:       &bookingID,
		UserID:          b.UserID,
		ChargingPointID: b.ChargingPointID,
		StationID:       b.StationID,
		VehicleID:       &vehicleID,
		TargetBattery:   100,
		BaseFee:         station.BaseFee,
		PricePerKWh:     station.PricePerKWh,
	}
	err = store.Sessions.CreatePending(ctx, sess)
	if errors.Is(err, repository.ErrOpenSessionExists) {
		return store.Sessions.FindOpenByBooking(ctx, b.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("create pending session: %w", err)
	}
	return sess, nil
}

// CloseSession cancels a still-pending session and frees the point if it holds it.
// It reports false, leaving the session and point untouched, when the session is no
// longer pending.
func CloseSession(ctx context.Context, store *repository.Store, alloc *allocator.Allocator, sess *models.Session, at time.Time) (bool, error) {
	ok, err := store.Sessions.Cancel(ctx, sess.ID, []models.SessionStatus{models.SessionPending}, at)
	if err != nil {
		return false, fmt.Errorf("cancel session %d: %w", sess.ID, err)
	}
	if !ok {
		return false, nil
	}
	if err := alloc.Release(ctx, sess.ChargingPointID, sess.ID); err != nil && !errors.Is(err, allocator.ErrPointNotInUse) {
		return true, err
	}
	return true, nil
}
