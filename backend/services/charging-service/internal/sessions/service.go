package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"chargehub/backend/services/charging-service/internal/allocator"
	"chargehub/backend/services/charging-service/internal/billing"
	"chargehub/backend/services/charging-service/internal/bookings"
	"chargehub/backend/services/charging-service/internal/clock"
	"chargehub/backend/services/charging-service/internal/invoices"
	"chargehub/backend/services/charging-service/internal/models"
	"chargehub/backend/services/charging-service/internal/notify"
	redisstore "chargehub/backend/services/charging-service/internal/redis"
	"chargehub/backend/services/charging-service/internal/repository"
	"chargehub/backend/services/charging-service/internal/runtime"
)

var (
	ErrInvalidBattery    = errors.New("sessions: battery percentage must be within 0-100 and target not below initial")
	ErrInvalidToken      = errors.New("sessions: activation token invalid or already used")
	ErrNotFound          = errors.New("sessions: session not found")
	ErrBookingNotFound   = errors.New("sessions: booking not found")
	ErrBookingNotReady   = errors.New("sessions: booking is not confirmed")
	ErrOutsideWindow     = errors.New("sessions: outside the booking window")
	ErrAlreadyStarted    = errors.New("sessions: session already started")
	ErrNotStarted        = errors.New("sessions: session has not started")
	ErrSessionFinalized  = errors.New("sessions: session already finished")
	ErrMissingCapacity   = errors.New("sessions: vehicle or guest battery capacity required")
	ErrVehicleNotOwned   = errors.New("sessions: vehicle does not belong to user")
	ErrPointInUse        = errors.New("sessions: charging point is not available")
	ErrPointNotFound     = errors.New("sessions: charging point not found")
	ErrBatteryRegression = errors.New("sessions: battery reading below current level")
)

// LiveReader returns cached live snapshots.
type LiveReader interface {
	Get(ctx context.Context, sessionID int64) (*models.LiveSnapshot, error)
}

// Completer ends a session and emits its invoice.
type Completer interface {
	Complete(ctx context.Context, c invoices.Completion) (*models.Invoice, error)
}

// ActivationToken is handed to the user, usually rendered as a QR code.
type ActivationToken struct {
	Token     string    `json:"token"`
	SessionID int64     `json:"session_id"`
	BookingID int64     `json:"booking_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// StartRequest starts a booked session from its activation token.
type StartRequest struct {
	UserID         int64
	Token          string
	InitialBattery float64
	TargetBattery  *float64
}

// WalkInRequest starts a session without a booking.
type WalkInRequest struct {
	UserID          int64
	ChargingPointID int64
	VehicleID       *int64
	GuestBatteryKWh *float64
	InitialBattery  float64
	TargetBattery   *float64
}

// Service implements the user and device actions on charging sessions.
type Service struct {
	store     *repository.Store
	allocator *allocator.Allocator
	tokens    *TokenIssuer
	completer Completer
	runtime   *runtime.Runtime
	live      LiveReader
	notifier  notify.Notifier
	clock     clock.Clock
	logger    *zap.Logger
}

// NewService builds service. live may be nil.
func NewService(store *repository.Store, alloc *allocator.Allocator, tokens *TokenIssuer, completer Completer, rt *runtime.Runtime, live LiveReader, notifier notify.Notifier, clk clock.Clock, logger *zap.Logger) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{
		store:     store,
		allocator: alloc,
		tokens:    tokens,
		completer: completer,
		runtime:   rt,
		live:      live,
		notifier:  notifier,
		clock:     clk,
		logger:    logger.Named("sessions"),
	}
}

// GenerateActivationToken issues a one-time token for the booking's pending session, creating
// the session when needed. Issuing again invalidates the previous token.
func (s *Service) GenerateActivationToken(ctx context.Context, userID, bookingID int64) (*ActivationToken, error) {
	b, err := s.ownedBooking(ctx, userID, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BookingConfirmed && b.Status != models.BookingActive {
		return nil, ErrBookingNotReady
	}
	if !s.clock.Now().Before(b.EndTime) {
		return nil, ErrOutsideWindow
	}

	sess, err := bookings.OpenSession(ctx, s.store, b)
	if err != nil {
		return nil, err
	}
	if sess.Status != models.SessionPending {
		return nil, ErrAlreadyStarted
	}

	token, hash, expiresAt, err := s.tokens.Issue(sess.ID, b.ID)
	if err != nil {
		return nil, err
	}
	ok, err := s.store.Sessions.SetActivationToken(ctx, sess.ID, hash)
	if err != nil {
		return nil, fmt.Errorf("store activation token: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyStarted
	}
	s.logger.Info("activation token issued", zap.Int64("booking_id", b.ID), zap.Int64("session_id", sess.ID))
	return &ActivationToken{Token: token, SessionID: sess.ID, BookingID: b.ID, ExpiresAt: expiresAt}, nil
}

// StartSession redeems an activation token: the point is held for the session, the booking turns
// active and the session starts charging from the reported initial level.
func (s *Service) StartSession(ctx context.Context, req StartRequest) (*models.Session, error) {
	target, err := validateBattery(req.InitialBattery, req.TargetBattery)
	if err != nil {
		return nil, err
	}

	claims, err := s.tokens.Parse(req.Token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	sess, err := s.store.Sessions.Get(ctx, claims.SessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess.UserID != req.UserID || sess.BookingID == nil || *sess.BookingID != claims.BookingID {
		return nil, ErrInvalidToken
	}
	if sess.Status != models.SessionPending || !s.tokens.Matches(sess.ActivationTokenHash, claims) {
		return nil, ErrInvalidToken
	}

	b, err := s.store.Bookings.Get(ctx, claims.BookingID)
	if err != nil {
		return nil, fmt.Errorf("load booking: %w", err)
	}
	now := s.clock.Now()
	if b.Status != models.BookingConfirmed && b.Status != models.BookingActive {
		return nil, ErrBookingNotReady
	}
	if now.Before(b.StartTime) || !now.Before(b.EndTime) {
		return nil, ErrOutsideWindow
	}

	if err := s.allocate(ctx, sess); err != nil {
		return nil, err
	}
	if b.Status == models.BookingConfirmed {
		ok, err := s.store.Bookings.TransitionStatus(ctx, b.ID, []models.BookingStatus{models.BookingConfirmed, models.BookingActive}, models.BookingActive)
		if err != nil {
			return nil, fmt.Errorf("activate booking: %w", err)
		}
		if !ok {
			s.releaseQuietly(ctx, sess)
			return nil, ErrBookingNotReady
		}
	}

	ok, err := s.store.Sessions.Start(ctx, sess.ID, sess.ActivationTokenHash, models.SessionStart{
		StartTime:      now,
		InitialBattery: req.InitialBattery,
		TargetBattery:  target,
	})
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	if !ok {
		// The token was used or replaced concurrently; keep the hold only if the session can still start.
		if fresh, err := s.store.Sessions.Get(ctx, sess.ID); err == nil && fresh.Status.Final() {
			s.releaseQuietly(ctx, sess)
		}
		return nil, ErrInvalidToken
	}
	return s.started(ctx, sess.ID, now)
}

// StartWalkIn starts a session on a free point without a booking. There is no base fee.
func (s *Service) StartWalkIn(ctx context.Context, req WalkInRequest) (*models.Session, error) {
	target, err := validateBattery(req.InitialBattery, req.TargetBattery)
	if err != nil {
		return nil, err
	}
	if req.VehicleID != nil {
		vehicle, err := s.store.Catalog.Vehicle(ctx, *req.VehicleID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrVehicleNotOwned
		}
		if err != nil {
			return nil, fmt.Errorf("load vehicle: %w", err)
		}
		if vehicle.UserID != req.UserID {
			return nil, ErrVehicleNotOwned
		}
	} else if req.GuestBatteryKWh == nil || *req.GuestBatteryKWh <= 0 {
		return nil, ErrMissingCapacity
	}

	point, err := s.store.Points.Get(ctx, req.ChargingPointID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrPointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load point: %w", err)
	}
	if point.Status != models.PointAvailable {
		return nil, ErrPointInUse
	}
	station, err := s.store.Catalog.Station(ctx, point.StationID)
	if err != nil {
		return nil, fmt.Errorf("load station %d: %w", point.StationID, err)
	}

	sess := &models.Session{
		UserID:          req.UserID,
		ChargingPointID: point.ID,
		StationID:       station.ID,
		VehicleID:       req.VehicleID,
		GuestBatteryKWh: req.GuestBatteryKWh,
		TargetBattery:   target,
		PricePerKWh:     station.PricePerKWh,
	}
	if err := s.store.Sessions.CreatePending(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	now := s.clock.Now()
	if err := s.allocate(ctx, sess); err != nil {
		if _, cancelErr := s.store.Sessions.Cancel(ctx, sess.ID, []models.SessionStatus{models.SessionPending}, now); cancelErr != nil {
			s.logger.Warn("cancel unallocated walk-in session", zap.Int64("session_id", sess.ID), zap.Error(cancelErr))
		}
		return nil, err
	}
	ok, err := s.store.Sessions.Start(ctx, sess.ID, "", models.SessionStart{
		StartTime:      now,
		InitialBattery: req.InitialBattery,
		TargetBattery:  target,
	})
	if err != nil || !ok {
		s.releaseQuietly(ctx, sess)
		if err != nil {
			return nil, fmt.Errorf("start session: %w", err)
		}
		return nil, ErrSessionFinalized
	}
	return s.started(ctx, sess.ID, now)
}

// EndSession stops charging on the user's request and returns the invoice. Ending a session that
// was already completed returns its existing invoice.
func (s *Service) EndSession(ctx context.Context, userID, sessionID int64, finalBattery *float64) (*models.Invoice, error) {
	if finalBattery != nil && !validPercent(*finalBattery) {
		return nil, ErrInvalidBattery
	}
	sess, err := s.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == models.SessionPending {
		return nil, ErrNotStarted
	}

	inv, err := s.completer.Complete(ctx, invoices.Completion{
		SessionID:    sess.ID,
		FinalBattery: finalBattery,
		EndTime:      s.clock.Now(),
		Trigger:      invoices.TriggerManual,
	})
	switch {
	case err == nil:
		return inv, nil
	case errors.Is(err, invoices.ErrAlreadyCompleted):
		return s.existingInvoice(ctx, sess.ID)
	case errors.Is(err, invoices.ErrNotStarted):
		return nil, ErrNotStarted
	case errors.Is(err, billing.ErrBatteryRegression):
		return nil, ErrBatteryRegression
	default:
		return nil, err
	}
}

// CancelSession abandons a pending or charging session without an invoice and frees the point.
// Cancelling a charging booked session cancels its booking too.
func (s *Service) CancelSession(ctx context.Context, userID, sessionID int64) (*models.Session, error) {
	sess, err := s.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.Final() {
		return nil, ErrSessionFinalized
	}

	now := s.clock.Now()
	wasCharging, err := s.cancelFrom(ctx, sess.ID, now)
	if err != nil {
		return nil, err
	}
	s.releaseQuietly(ctx, sess)

	if wasCharging && sess.BookingID != nil {
		if _, err := s.store.Bookings.TransitionStatus(ctx, *sess.BookingID,
			[]models.BookingStatus{models.BookingActive, models.BookingConfirmed}, models.BookingCancelled); err != nil {
			s.logger.Warn("cancel booking of cancelled session", zap.Int64("session_id", sess.ID), zap.Error(err))
		}
	}

	s.notifier.Notify(ctx, notify.SessionStatusChange{
		Session: sess.ID,
		Status:  models.SessionCancelled,
		Message: "Charging session cancelled",
		At:      now,
	})
	s.logger.Info("session cancelled", zap.Int64("session_id", sess.ID))
	return s.Get(ctx, userID, sessionID)
}

// cancelFrom cancels the session from whichever open status it holds at write time and
// reports whether it was charging.
func (s *Service) cancelFrom(ctx context.Context, id int64, at time.Time) (bool, error) {
	for _, from := range []models.SessionStatus{models.SessionPending, models.SessionInProgress} {
		ok, err := s.store.Sessions.Cancel(ctx, id, []models.SessionStatus{from}, at)
		if err != nil {
			return false, fmt.Errorf("cancel session: %w", err)
		}
		if ok {
			return from == models.SessionInProgress, nil
		}
	}
	return false, ErrSessionFinalized
}

// UpdateBattery applies a reading pushed by the vehicle or charger. At 100% the session completes.
func (s *Service) UpdateBattery(ctx context.Context, sessionID int64, battery float64) (*models.LiveSnapshot, error) {
	if !validPercent(battery) {
		return nil, ErrInvalidBattery
	}
	sess, err := s.store.Sessions.Get(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess.Status == models.SessionPending {
		return nil, ErrNotStarted
	}

	snap, err := s.runtime.Report(ctx, sess, battery)
	switch {
	case errors.Is(err, runtime.ErrNotInProgress):
		return nil, ErrSessionFinalized
	case errors.Is(err, runtime.ErrStaleReading):
		return nil, ErrBatteryRegression
	case err != nil:
		return nil, err
	}
	return snap, nil
}

// Get returns the caller's session.
func (s *Service) Get(ctx context.Context, userID, sessionID int64) (*models.Session, error) {
	sess, err := s.store.Sessions.Get(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess.UserID != userID {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Live returns the live view of the caller's session: the runtime's cached snapshot when fresh,
// otherwise a projection from the stored state.
func (s *Service) Live(ctx context.Context, userID, sessionID int64) (*models.LiveSnapshot, error) {
	sess, err := s.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if s.live != nil && sess.Status == models.SessionInProgress {
		snap, err := s.live.Get(ctx, sess.ID)
		if err == nil && snap.Status == models.SessionInProgress {
			return snap, nil
		}
		if err != nil && !errors.Is(err, redisstore.ErrMiss) {
			s.logger.Warn("read live snapshot", zap.Int64("session_id", sess.ID), zap.Error(err))
		}
	}
	return s.runtime.Snapshot(ctx, sess)
}

// existingInvoice reads the invoice of a session finished by another actor. The read runs in a
// transaction so it observes that actor's completion as a whole.
func (s *Service) existingInvoice(ctx context.Context, sessionID int64) (*models.Invoice, error) {
	var inv *models.Invoice
	err := s.store.Tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		inv, err = s.store.Invoices.GetBySession(ctx, sessionID)
		return err
	})
	switch {
	case err == nil:
		return inv, nil
	case errors.Is(err, repository.ErrNotFound):
		return nil, ErrSessionFinalized
	default:
		return nil, fmt.Errorf("load invoice: %w", err)
	}
}

func (s *Service) ownedBooking(ctx context.Context, userID, bookingID int64) (*models.Booking, error) {
	b, err := s.store.Bookings.Get(ctx, bookingID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load booking: %w", err)
	}
	if b.UserID != userID {
		return nil, ErrBookingNotFound
	}
	return b, nil
}

func (s *Service) allocate(ctx context.Context, sess *models.Session) error {
	err := s.allocator.Allocate(ctx, sess.ChargingPointID, sess.ID)
	switch {
	case errors.Is(err, allocator.ErrPointInUse):
		return ErrPointInUse
	case errors.Is(err, allocator.ErrPointNotFound):
		return ErrPointNotFound
	}
	return err
}

func (s *Service) releaseQuietly(ctx context.Context, sess *models.Session) {
	err := s.allocator.Release(ctx, sess.ChargingPointID, sess.ID)
	if err != nil && !errors.Is(err, allocator.ErrPointNotInUse) {
		s.logger.Warn("release point", zap.Int64("session_id", sess.ID), zap.Error(err))
	}
}

func (s *Service) started(ctx context.Context, sessionID int64, now time.Time) (*models.Session, error) {
	sess, err := s.store.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("reload session: %w", err)
	}
	s.notifier.Notify(ctx, notify.SessionStatusChange{
		Session: sess.ID,
		Status:  models.SessionInProgress,
		Message: fmt.Sprintf("Charging started at %.1f%%, target %.1f%%", sess.InitialBattery, sess.TargetBattery),
		At:      now,
	})
	s.logger.Info("session started", zap.Int64("session_id", sess.ID), zap.Bool("walk_in", sess.IsWalkIn()))
	return sess, nil
}

func validPercent(p float64) bool {
	return p >= 0 && p <= 100
}

func validateBattery(initial float64, target *float64) (float64, error) {
	if !validPercent(initial) {
		return 0, ErrInvalidBattery
	}
	if target == nil {
		return 100, nil
	}
	if !validPercent(*target) || *target < initial {
		return 0, ErrInvalidBattery
	}
	return *target, nil
}
