package repository

import (
	"context"
	"database/sql"
	"time"

	libdb "chargehub/backend/libs/db"
	"chargehub/backend/services/charging-service/internal/models"
)

const invoiceColumns = `id, number, session_id, booking_id, user_id, vehicle_id, station_id, charging_point_id,
	start_time, end_time, duration_seconds, duration_minutes, duration_hours, duration_text,
	initial_battery_percentage, final_battery_percentage, battery_charged_percentage, target_battery_percentage,
	battery_capacity_kwh, power_capacity_kw, energy_delivered_kwh, charging_efficiency, calculation_method,
	base_fee, price_per_kwh, charging_fee, overtime_minutes, overtime_rate_per_minute, overtime_fee,
	discount_percentage, discount_amount, total_amount, auto_stopped,
	payment_status, payment_reference, paid_at, created_at`

// InvoiceRepo is the Postgres InvoiceRepository.
type InvoiceRepo struct {
	db *sql.DB
}

// NewInvoiceRepo returns repository.
func NewInvoiceRepo(db *sql.DB) *InvoiceRepo {
	return &InvoiceRepo{db: db}
}

// Create inserts the invoice. A second invoice for the same session is rejected.
func (r *InvoiceRepo) Create(ctx context.Context, inv *models.Invoice) error {
	const query = `
		INSERT INTO invoices (
			number, session_id, booking_id, user_id, vehicle_id, station_id, charging_point_id,
			start_time, end_time, duration_seconds, duration_minutes, duration_hours, duration_text,
			initial_battery_percentage, final_battery_percentage, battery_charged_percentage, target_battery_percentage,
			battery_capacity_kwh, power_capacity_kw, energy_delivered_kwh, charging_efficiency, calculation_method,
			base_fee, price_per_kwh, charging_fee, overtime_minutes, overtime_rate_per_minute, overtime_fee,
			discount_percentage, discount_amount, total_amount, auto_stopped, payment_status, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17,
			$18, $19, $20, $21, $22,
			$23, $24, $25, $26, $27, $28,
			$29, $30, $31, $32, $33, NOW()
		)
		RETURNING id, created_at
	`
	if inv.PaymentStatus == "" {
		inv.PaymentStatus = models.PaymentUnpaid
	}
	err := libdb.Conn(ctx, r.db).QueryRowContext(ctx, query,
		inv.Number,
		inv.SessionID,
		inv.BookingID,
		inv.UserID,
		inv.VehicleID,
		inv.StationID,
		inv.ChargingPointID,
		inv.StartTime,
		inv.EndTime,
		inv.DurationSeconds,
		inv.DurationMinutes,
		inv.DurationHours,
		inv.DurationText,
		inv.InitialBattery,
		inv.FinalBattery,
		inv.BatteryCharged,
		inv.TargetBattery,
		inv.BatteryCapacityKWh,
		inv.PowerCapacityKW,
		inv.EnergyDeliveredKWh,
		inv.ChargingEfficiency,
		inv.CalculationMethod,
		inv.BaseFee,
		inv.PricePerKWh,
		inv.ChargingFee,
		inv.OvertimeMinutes,
		inv.OvertimeRatePerMinute,
		inv.OvertimeFee,
		inv.DiscountPercentage,
		inv.DiscountAmount,
		inv.TotalAmount,
		inv.AutoStopped,
		inv.PaymentStatus,
	).Scan(&inv.ID, &inv.CreatedAt)
	if pgCode(err) == pgUniqueViolation {
		return ErrDuplicateInvoice
	}
	return err
}

// Get loads an invoice by id.
func (r *InvoiceRepo) Get(ctx context.Context, id int64) (*models.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	inv, err := scanInvoice(libdb.Conn(ctx, r.db).QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	return inv, nil
}

// GetBySession loads the invoice of a session.
func (r *InvoiceRepo) GetBySession(ctx context.Context, sessionID int64) (*models.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE session_id = $1`
	inv, err := scanInvoice(libdb.Conn(ctx, r.db).QueryRowContext(ctx, query, sessionID))
	if err != nil {
		return nil, notFound(err)
	}
	return inv, nil
}

// ListByUser returns latest invoices for user.
func (r *InvoiceRepo) ListByUser(ctx context.Context, userID int64, limit int) ([]models.Invoice, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + invoiceColumns + `
		FROM invoices
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := libdb.Conn(ctx, r.db).QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []models.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return invoices, nil
}

// UpdatePayment changes the payment sub-fields when the current status equals from.
func (r *InvoiceRepo) UpdatePayment(ctx context.Context, id int64, from, to models.PaymentStatus, reference string, at time.Time) (bool, error) {
	const query = `
		UPDATE invoices
		SET payment_status = $3,
		    payment_reference = CASE WHEN $4::text = '' THEN payment_reference ELSE $4 END,
		    paid_at = CASE WHEN $3::text = 'paid' THEN $5 ELSE paid_at END
		WHERE id = $1
		  AND payment_status = $2
	`
	return applied(libdb.Conn(ctx, r.db).ExecContext(ctx, query, id, string(from), string(to), reference, at))
}

func scanInvoice(row rowScanner) (*models.Invoice, error) {
	var (
		inv       models.Invoice
		bookingID sql.NullInt64
		vehicleID sql.NullInt64
		paidAt    sql.NullTime
	)
	if err := row.Scan(
		&inv.ID,
		&inv.Number,
		&inv.SessionID,
		&bookingID,
		&inv.UserID,
		&vehicleID,
		&inv.StationID,
		&inv.ChargingPointID,
		&inv.StartTime,
		&inv.EndTime,
		&inv.DurationSeconds,
		&inv.DurationMinutes,
		&inv.DurationHours,
		&inv.DurationText,
		&inv.InitialBattery,
		&inv.FinalBattery,
		&inv.BatteryCharged,
		&inv.TargetBattery,
		&inv.BatteryCapacityKWh,
		&inv.PowerCapacityKW,
		&inv.EnergyDeliveredKWh,
		&inv.ChargingEfficiency,
		&inv.CalculationMethod,
		&inv.BaseFee,
		&inv.PricePerKWh,
		&inv.ChargingFee,
		&inv.OvertimeMinutes,
		&inv.OvertimeRatePerMinute,
		&inv.OvertimeFee,
		&inv.DiscountPercentage,
		&inv.DiscountAmount,
		&inv.TotalAmount,
		&inv.AutoStopped,
		&inv.PaymentStatus,
		&inv.PaymentReference,
		&paidAt,
		&inv.CreatedAt,
	); err != nil {
		return nil, err
	}
	if bookingID.Valid {
		inv.BookingID = &bookingID.Int64
	}
	if vehicleID.Valid {
		inv.VehicleID = &vehicleID.Int64
	}
	if paidAt.Valid {
		t := paidAt.Time.UTC()
		inv.PaidAt = &t
	}
	return &inv, nil
}
