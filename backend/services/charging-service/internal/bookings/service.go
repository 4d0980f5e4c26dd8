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

var (
	ErrInvalidWindow     = errors.New("bookings: end time must be after start time")
	ErrWindowInPast      = errors.New("bookings: window already ended")
	ErrNotFound          = errors.New("bookings: booking not found")
	ErrPointNotFound     = errors.New("bookings: charging point not found")
	ErrPointUnavailable  = errors.New("bookings: charging point is under maintenance")
	ErrVehicleNotOwned   = errors.New("bookings: vehicle does not belong to user")
	ErrBookingOverlap    = errors.New("bookings: point already reserved for that window")
	ErrInvalidTransition = errors.New("bookings: transition not allowed from current status")
	ErrSessionLive       = errors.New("bookings: booking has a charging session in progress")
)

// CreateRequest is the user input for a reservation.
type CreateRequest struct {
	UserID          int64
	VehicleID       int64
	ChargingPointID int64
	StartTime       time.Time
	EndTime         time.Time
}

// Service implements the user actions on bookings.
type Service struct {
	store     *repository.Store
	allocator *allocator.Allocator
	notifier  notify.Notifier
	clock     clock.Clock
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewService builds service.
func NewService(store *repository.Store, alloc *allocator.Allocator, notifier notify.Notifier, clk clock.Clock, m *metrics.Metrics, logger *zap.Logger) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{
		store:     store,
		allocator: alloc,
		notifier:  notifier,
		clock:     clk,
		metrics:   m,
		logger:    logger.Named("bookings"),
	}
}

// Create stores a pending reservation after validating the window, the point and vehicle ownership.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Booking, error) {
	if !req.EndTime.After(req.StartTime) {
		return nil, ErrInvalidWindow
	}
	if !req.EndTime.After(s.clock.Now()) {
		return nil, ErrWindowInPast
	}

	point, err := s.store.Points.Get(ctx, req.ChargingPointID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrPointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load point: %w", err)
	}
	if point.Status == models.PointMaintenance {
		return nil, ErrPointUnavailable
	}

	vehicle, err := s.store.Catalog.Vehicle(ctx, req.VehicleID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrVehicleNotOwned
	}
	if err != nil {
		return nil, fmt.Errorf("load vehicle: %w", err)
	}
	if vehicle.UserID != req.UserID {
		return nil, ErrVehicleNotOwned
	}

	b := &models.Booking{
		UserID:          req.UserID,
		StationID:       point.StationID,
		VehicleID:       req.VehicleID,
		ChargingPointID: req.ChargingPointID,
		StartTime:       req.StartTime.UTC(),
		EndTime:         req.EndTime.UTC(),
		Status:          models.BookingPending,
	}
	if err := s.store.Bookings.Create(ctx, b); err != nil {
		if errors.Is(err, repository.ErrBookingOverlap) {
			return nil, ErrBookingOverlap
		}
		return nil, fmt.Errorf("create booking: %w", err)
	}
	s.metrics.BookingTransition(string(models.BookingPending))
	s.logger.Info("booking created", zap.Int64("booking_id", b.ID), zap.Int64("point_id", b.ChargingPointID))
	return b, nil
}

// Get returns the caller's booking.
func (s *Service) Get(ctx context.Context, userID, bookingID int64) (*models.Booking, error) {
	b, err := s.store.Bookings.Get(ctx, bookingID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load booking: %w", err)
	}
	if b.UserID != userID {
		return nil, ErrNotFound
	}
	return b, nil
}

// Confirm moves a pending booking to confirmed. Confirming twice is a no-op.
func (s *Service) Confirm(ctx context.Context, userID, bookingID int64) (*models.Booking, error) {
	b, err := s.Get(ctx, userID, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status == models.BookingConfirmed {
		return b, nil
	}
	ok, err := s.store.Bookings.TransitionStatus(ctx, b.ID, []models.BookingStatus{models.BookingPending}, models.BookingConfirmed)
	if err != nil {
		return nil, fmt.Errorf("confirm booking: %w", err)
	}
	if !ok {
		return nil, ErrInvalidTransition
	}
	s.metrics.BookingTransition(string(models.BookingConfirmed))
	return s.Get(ctx, userID, bookingID)
}

// Cancel withdraws a booking that has not finished. A booking whose session is charging must
// have the session ended first.
func (s *Service) Cancel(ctx context.Context, userID, bookingID int64) (*models.Booking, error) {
	b, err := s.Get(ctx, userID, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status == models.BookingCancelled {
		return b, nil
	}
	if !b.Status.Holding() {
		return nil, ErrInvalidTransition
	}

	sess, err := s.store.Sessions.FindOpenByBooking(ctx, b.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("find open session: %w", err)
	}
	if sess != nil && sess.Status == models.SessionInProgress {
		return nil, ErrSessionLive
	}

	now := s.clock.Now()
	closed := false
	if sess != nil {
		closed, err = CloseSession(ctx, s.store, s.allocator, sess, now)
		if err != nil && !closed {
			return nil, err
		}
		if err != nil {
			s.logger.Error("release point of cancelled session", zap.Int64("booking_id", b.ID), zap.Error(err))
		}
		if !closed {
			current, err := s.store.Sessions.Get(ctx, sess.ID)
			if err != nil {
				return nil, fmt.Errorf("reload session %d: %w", sess.ID, err)
			}
			if current.Status == models.SessionInProgress {
				return nil, ErrSessionLive
			}
		}
	}

	ok, err := s.store.Bookings.TransitionStatus(ctx, b.ID,
		[]models.BookingStatus{models.BookingPending, models.BookingConfirmed, models.BookingActive}, models.BookingCancelled)
	if err != nil {
		return nil, fmt.Errorf("cancel booking: %w", err)
	}
	if !ok {
		return nil, ErrInvalidTransition
	}
	s.metrics.BookingTransition(string(models.BookingCancelled))

	if closed {
		s.notifier.Notify(ctx, notify.SessionStatusChange{
			Session: sess.ID,
			Status:  models.SessionCancelled,
			Message: "Booking cancelled",
			At:      now,
		})
	}
	s.logger.Info("booking cancelled", zap.Int64("booking_id", b.ID))
	return s.Get(ctx, userID, bookingID)
}
