package repository

import (
	"context"
	"errors"
	"time"

	"chargehub/backend/services/charging-service/internal/models"
)

var (
	// ErrNotFound indicates a missing row.
	ErrNotFound = errors.New("repository: not found")
	// ErrBookingOverlap indicates another holding booking covers the window on the same point.
	ErrBookingOverlap = errors.New("repository: booking overlaps an existing reservation")
	// ErrOpenSessionExists indicates the booking already has a pending or in-progress session.
	ErrOpenSessionExists = errors.New("repository: booking already has an open session")
	// ErrDuplicateInvoice indicates the session has already been invoiced.
	ErrDuplicateInvoice = errors.New("repository: invoice already exists for session")
)

// TxRunner runs fn inside a transaction carried by ctx.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// BookingRepository persists reservations. Status writes are conditional on the current status.
type BookingRepository interface {
	Create(ctx context.Context, b *models.Booking) error
	Get(ctx context.Context, id int64) (*models.Booking, error)
	TransitionStatus(ctx context.Context, id int64, from []models.BookingStatus, to models.BookingStatus) (bool, error)
	ListDueForActivation(ctx context.Context, now time.Time, limit int) ([]models.Booking, error)
	ListDueForExpiration(ctx context.Context, now time.Time, limit int) ([]models.Booking, error)
}

// PointRepository owns charging point availability. Both writes are single compare-and-swap updates.
type PointRepository interface {
	Get(ctx context.Context, id int64) (*models.ChargingPoint, error)
	TryAllocate(ctx context.Context, pointID, sessionID int64) (bool, error)
	TryRelease(ctx context.Context, pointID, sessionID int64) (bool, error)
}

// SessionRepository persists charging sessions. Every status change is conditional.
type SessionRepository interface {
	CreatePending(ctx context.Context, s *models.Session) error
	Get(ctx context.Context, id int64) (*models.Session, error)
	FindOpenByBooking(ctx context.Context, bookingID int64) (*models.Session, error)
	ListInProgress(ctx context.Context, limit int) ([]models.Session, error)
	SetActivationToken(ctx context.Context, id int64, hash string) (bool, error)
	Start(ctx context.Context, id int64, expectedTokenHash string, start models.SessionStart) (bool, error)
	AdvanceBattery(ctx context.Context, id int64, battery float64, source models.BatterySource) (bool, error)
	MarkTargetNotified(ctx context.Context, id int64) (bool, error)
	Complete(ctx context.Context, id int64, c models.SessionCompletion) (bool, error)
	Cancel(ctx context.Context, id int64, from []models.SessionStatus, at time.Time) (bool, error)
}

// InvoiceRepository stores write-once invoices; only payment fields may change.
type InvoiceRepository interface {
	Create(ctx context.Context, inv *models.Invoice) error
	Get(ctx context.Context, id int64) (*models.Invoice, error)
	GetBySession(ctx context.Context, sessionID int64) (*models.Invoice, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]models.Invoice, error)
	UpdatePayment(ctx context.Context, id int64, from, to models.PaymentStatus, reference string, at time.Time) (bool, error)
}

// Catalog reads collaborator-owned data: stations, vehicles and subscriptions.
type Catalog interface {
	Station(ctx context.Context, id int64) (*models.StationProfile, error)
	Vehicle(ctx context.Context, id int64) (*models.VehicleProfile, error)
	// ActiveDiscount returns the discount percentage of the subscription valid at `at`, or nil.
	ActiveDiscount(ctx context.Context, vehicleID int64, at time.Time) (*float64, error)
}

// Store groups every repository the service needs.
type Store struct {
	Tx       TxRunner
	Bookings BookingRepository
	Points   PointRepository
	Sessions SessionRepository
	Invoices InvoiceRepository
	Catalog  Catalog
}
