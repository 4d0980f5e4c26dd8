package repository

import (
	"context"
	"database/sql"
	"time"

	libdb "chargehub/backend/libs/db"
	"chargehub/backend/services/charging-service/internal/models"
)

const sessionColumns = `id, booking_id, user_id, charging_point_id, station_id, vehicle_id, guest_battery_capacity_kwh,
	status, start_time, end_time, initial_battery_percentage, current_battery_percentage,
	target_battery_percentage, final_battery_percentage, battery_source, target_notified,
	base_fee, price_per_kwh, energy_delivered_kwh, charging_fee, total_amount,
	activation_token_hash, created_at, updated_at`

// SessionRepo is the Postgres SessionRepository.
type SessionRepo struct {
	db *sql.DB
}

// NewSessionRepo returns repository.
func NewSessionRepo(db *sql.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// CreatePending inserts a pending session. A booking holds at most one open session.
func (r *SessionRepo) CreatePending(ctx context.Context, s *models.Session) error {
	const query = `
		INSERT INTO charging_sessions (
			booking_id, user_id, charging_point_id, station_id, vehicle_id, guest_battery_capacity_kwh,
			status, target_battery_percentage, battery_source, base_fee, price_per_kwh,
			activation_token_hash, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7, 'simulated', $8, $9, $10, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`
	if s.TargetBattery <= 0 {
		s.TargetBattery = 100
	}
	err := libdb.Conn(ctx, r.db).QueryRowContext(ctx, query,
		s.BookingID,
		s.UserID,
		s.ChargingPointID,
		s.StationID,
		s.VehicleID,
		s.GuestBatteryKWh,
		s.TargetBattery,
		s.BaseFee,
		s.PricePerKWh,
		s.ActivationTokenHash,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if pgCode(err) == pgUniqueViolation {
		return ErrOpenSessionExists
	}
	if err != nil {
		return err
	}
	s.Status = models.SessionPending
	s.BatterySource = models.BatterySimulated
	return nil
}

// Get loads a session by id.
func (r *SessionRepo) Get(ctx context.Context, id int64) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM charging_sessions WHERE id = $1`
	s, err := scanSession(libdb.Conn(ctx, r.db).QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

// FindOpenByBooking returns the latest pending or in-progress session of a booking.
func (r *SessionRepo) FindOpenByBooking(ctx context.Context, bookingID int64) (*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM charging_sessions
		WHERE booking_id = $1
		  AND status IN ('pending', 'in_progress')
		ORDER BY (status = 'in_progress') DESC, id DESC
		LIMIT 1
	`
	s, err := scanSession(libdb.Conn(ctx, r.db).QueryRowContext(ctx, query, bookingID))
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

// ListInProgress returns live sessions, oldest first.
func (r *SessionRepo) ListInProgress(ctx context.Context, limit int) ([]models.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM charging_sessions
		WHERE status = 'in_progress'
		ORDER BY start_time, id
		LIMIT $1
	`
	rows, err := libdb.Conn(ctx, r.db).QueryContext(ctx, query, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

// SetActivationToken rotates the activation token hash of a pending session.
func (r *SessionRepo) SetActivationToken(ctx context.Context, id int64, hash string) (bool, error) {
	const query = `
		UPDATE charging_sessions
		SET activation_token_hash = $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND status = 'pending'
	`
	return applied(libdb.Conn(ctx, r.db).ExecContext(ctx, query, id, hash))
}

// Start moves pending → in_progress. A non-empty expectedTokenHash must still be the stored one;
// the hash is cleared so the token cannot be replayed.
func (r *SessionRepo) Start(ctx context.Context, id int64, expectedTokenHash string, start models.SessionStart) (bool, error) {
	const query = `
		UPDATE charging_sessions
		SET status = 'in_progress',
		    start_time = $3,
		    initial_battery_percentage = $4,
		    current_battery_percentage = $4,
		    target_battery_percentage = $5,
		    activation_token_hash = '',
		    updated_at = NOW()
		WHERE id = $1
		  AND status = 'pending'
		  AND ($2::text = '' OR activation_token_hash = $2)
	`
	return applied(libdb.Conn(ctx, r.db).ExecContext(ctx, query,
		id,
		expectedTokenHash,
		start.StartTime,
		start.InitialBattery,
		start.TargetBattery,
	))
}

// AdvanceBattery stores a higher battery reading; lower readings are ignored. Simulated values never
// overwrite a session that has switched to reported readings.
func (r *SessionRepo) AdvanceBattery(ctx context.Context, id int64, battery float64, source models.BatterySource) (bool, error) {
	const query = `
		UPDATE charging_sessions
		SET current_battery_percentage = $2,
		    battery_source = CASE WHEN $3::text = 'reported' THEN 'reported' ELSE battery_source END,
		    updated_at = NOW()
		WHERE id = $1
		  AND status = 'in_progress'
		  AND current_battery_percentage <= $2
		  AND ($3::text = 'reported' OR battery_source = 'simulated')
	`
	return applied(libdb.Conn(ctx, r.db).ExecContext(ctx, query, id, battery, string(source)))
}

// MarkTargetNotified flips the one-time target notification flag.
func (r *SessionRepo) MarkTargetNotified(ctx context.Context, id int64) (bool, error) {
	const query = `
		UPDATE charging_sessions
		SET target_notified = TRUE,
		    updated_at = NOW()
		WHERE id = $1
		  AND status = 'in_progress'
		  AND target_notified = FALSE
	`
	return applied(libdb.Conn(ctx, r.db).ExecContext(ctx, query, id))
}

// Complete moves in_progress → completed and records the final figures.
func (r *SessionRepo) Complete(ctx context.Context, id int64, c models.SessionCompletion) (bool, error) {
	const query = `
		UPDATE charging_sessions
		SET status = 'completed',
		    end_time = $2,
		    final_battery_percentage = $3,
		    current_battery_percentage = GREATEST(current_battery_percentage, $3),
		    energy_delivered_kwh = $4,
		    charging_fee = $5,
		    total_amount = $6,
		    updated_at = NOW()
		WHERE id = $1
		  AND status = 'in_progress'
	`
	return applied(libdb.Conn(ctx, r.db).ExecContext(ctx, query,
		id,
		c.EndTime,
		c.FinalBattery,
		c.EnergyDeliveredKWh,
		c.ChargingFee,
		c.TotalAmount,
	))
}

// Cancel moves the session to cancelled when its status is one of from.
func (r *SessionRepo) Cancel(ctx context.Context, id int64, from []models.SessionStatus, at time.Time) (bool, error) {
	const query = `
		UPDATE charging_sessions
		SET status = 'cancelled',
		    end_time = $2,
		    activation_token_hash = '',
		    updated_at = NOW()
		WHERE id = $1
		  AND status = ANY($3)
		  AND status IN ('pending', 'in_progress')
	`
	return applied(libdb.Conn(ctx, r.db).ExecContext(ctx, query, id, at, sessionStatusStrings(from)))
}

func sessionStatusStrings(statuses []models.SessionStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		s          models.Session
		bookingID  sql.NullInt64
		vehicleID  sql.NullInt64
		guestKWh   sql.NullFloat64
		startTime  sql.NullTime
		endTime    sql.NullTime
		finalLevel sql.NullFloat64
	)
	if err := row.Scan(
		&s.ID,
		&bookingID,
		&s.UserID,
		&s.ChargingPointID,
		&s.StationID,
		&vehicleID,
		&guestKWh,
		&s.Status,
		&startTime,
		&endTime,
		&s.InitialBattery,
		&s.CurrentBattery,
		&s.TargetBattery,
		&finalLevel,
		&s.BatterySource,
		&s.TargetNotified,
		&s.BaseFee,
		&s.PricePerKWh,
		&s.EnergyDeliveredKWh,
		&s.ChargingFee,
		&s.TotalAmount,
		&s.ActivationTokenHash,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if bookingID.Valid {
		s.BookingID = &bookingID.Int64
	}
	if vehicleID.Valid {
		s.VehicleID = &vehicleID.Int64
	}
	if guestKWh.Valid {
		s.GuestBatteryKWh = &guestKWh.Float64
	}
	if startTime.Valid {
		t := startTime.Time.UTC()
		s.StartTime = &t
	}
	if endTime.Valid {
		t := endTime.Time.UTC()
		s.EndTime = &t
	}
	if finalLevel.Valid {
		s.FinalBattery = &finalLevel.Float64
	}
	return &s, nil
}
