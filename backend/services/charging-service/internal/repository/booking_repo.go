package repository

import (
	"context"
	"database/sql"
	"time"

	libdb "chargehub/backend/libs/db"
	"chargehub/backend/services/charging-service/internal/models"
)

const bookingColumns = `id, user_id, station_id, vehicle_id, charging_point_id, start_time, end_time, status, created_at, updated_at`

// BookingRepo is the Postgres BookingRepository.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns repository.
func NewBookingRepo(db *sql.DB) *BookingRepo {
	return &BookingRepo{db: db}
}

// Create inserts a pending booking. The exclusion constraint rejects overlapping holds.
func (r *BookingRepo) Create(ctx context.Context, b *models.Booking) error {
	const query = `
		INSERT INTO bookings (user_id, station_id, vehicle_id, charging_point_id, start_time, end_time, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`
	err := libdb.Conn(ctx, r.db).QueryRowContext(ctx, query,
		b.UserID,
		b.StationID,
		b.VehicleID,
		b.ChargingPointID,
		b.StartTime,
		b.EndTime,
		b.Status,
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if pgCode(err) == pgExclusionViolation {
		return ErrBookingOverlap
	}
	return err
}

// Get loads a booking by id.
func (r *BookingRepo) Get(ctx context.Context, id int64) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	b, err := scanBooking(libdb.Conn(ctx, r.db).QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	return b, nil
}

// TransitionStatus moves the booking to `to` only if its status is one of `from`.
func (r *BookingRepo) TransitionStatus(ctx context.Context, id int64, from []models.BookingStatus, to models.BookingStatus) (bool, error) {
	const query = `
		UPDATE bookings
		SET status = $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND status = ANY($3)
	`
	return applied(libdb.Conn(ctx, r.db).ExecContext(ctx, query, id, to, statusStrings(from)))
}

// ListDueForActivation returns confirmed bookings whose window has opened.
func (r *BookingRepo) ListDueForActivation(ctx context.Context, now time.Time, limit int) ([]models.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status = 'confirmed'
		  AND start_time <= $1
		ORDER BY start_time, id
		LIMIT $2
	`
	return r.list(ctx, query, now, normalizeLimit(limit))
}

// ListDueForExpiration returns active or confirmed bookings whose window has closed.
func (r *BookingRepo) ListDueForExpiration(ctx context.Context, now time.Time, limit int) ([]models.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status IN ('active', 'confirmed')
		  AND end_time < $1
		ORDER BY end_time, id
		LIMIT $2
	`
	return r.list(ctx, query, now, normalizeLimit(limit))
}

func (r *BookingRepo) list(ctx context.Context, query string, args ...any) ([]models.Booking, error) {
	rows, err := libdb.Conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bookings, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var b models.Booking
	if err := row.Scan(
		&b.ID,
		&b.UserID,
		&b.StationID,
		&b.VehicleID,
		&b.ChargingPointID,
		&b.StartTime,
		&b.EndTime,
		&b.Status,
		&b.CreatedAt,
		&b.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &b, nil
}

func statusStrings(statuses []models.BookingStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 500
	}
	return limit
}
