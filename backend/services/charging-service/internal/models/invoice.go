package models

import "time"

// PaymentStatus enumerates invoice payment states.
type PaymentStatus string

const (
	PaymentUnpaid    PaymentStatus = "unpaid"
	PaymentPaid      PaymentStatus = "paid"
	PaymentRefunded  PaymentStatus = "refunded"
	PaymentCancelled PaymentStatus = "cancelled"
)

// PaymentTransitionAllowed reports whether from → to is a legal payment update.
func PaymentTransitionAllowed(from, to PaymentStatus) bool {
	switch from {
	case PaymentUnpaid:
		return to == PaymentPaid || to == PaymentCancelled
	case PaymentPaid:
		return to == PaymentRefunded
	default:
		return false
	}
}

// CalculationMethod records how energy delivered was derived.
type CalculationMethod string

const (
	MethodBatteryBased CalculationMethod = "battery_based"
	MethodTimeBased    CalculationMethod = "time_based"
)

// Invoice is the immutable billing record of a completed session.
// Only the payment fields change after creation.
type Invoice struct {
	ID                    int64             `db:"id" json:"id"`
	Number                string            `db:"number" json:"number"`
	SessionID             int64             `db:"session_id" json:"session_id"`
	BookingID             *int64            `db:"booking_id" json:"booking_id,omitempty"`
	UserID                int64             `db:"user_id" json:"user_id"`
	VehicleID             *int64            `db:"vehicle_id" json:"vehicle_id,omitempty"`
	StationID             int64             `db:"station_id" json:"station_id"`
	ChargingPointID       int64             `db:"charging_point_id" json:"charging_point_id"`
	StartTime             time.Time         `db:"start_time" json:"start_time"`
	EndTime               time.Time         `db:"end_time" json:"end_time"`
	DurationSeconds       int64             `db:"duration_seconds" json:"duration_seconds"`
	DurationMinutes       float64           `db:"duration_minutes" json:"duration_minutes"`
	DurationHours         float64           `db:"duration_hours" json:"duration_hours"`
	DurationText          string            `db:"duration_text" json:"duration_text"`
	InitialBattery        float64           `db:"initial_battery_percentage" json:"initial_battery_percentage"`
	FinalBattery          float64           `db:"final_battery_percentage" json:"final_battery_percentage"`
	BatteryCharged        float64           `db:"battery_charged_percentage" json:"battery_charged_percentage"`
	TargetBattery         float64           `db:"target_battery_percentage" json:"target_battery_percentage"`
	BatteryCapacityKWh    float64           `db:"battery_capacity_kwh" json:"battery_capacity_kwh"`
	PowerCapacityKW       float64           `db:"power_capacity_kw" json:"power_capacity_kw"`
	EnergyDeliveredKWh    float64           `db:"energy_delivered_kwh" json:"energy_delivered_kwh"`
	ChargingEfficiency    float64           `db:"charging_efficiency" json:"charging_efficiency"`
	CalculationMethod     CalculationMethod `db:"calculation_method" json:"calculation_method"`
	BaseFee               int64             `db:"base_fee" json:"base_fee"`
	PricePerKWh           int64             `db:"price_per_kwh" json:"price_per_kwh"`
	ChargingFee           int64             `db:"charging_fee" json:"charging_fee"`
	OvertimeMinutes       int64             `db:"overtime_minutes" json:"overtime_minutes"`
	OvertimeRatePerMinute int64             `db:"overtime_rate_per_minute" json:"overtime_rate_per_minute"`
	OvertimeFee           int64             `db:"overtime_fee" json:"overtime_fee"`
	DiscountPercentage    float64           `db:"discount_percentage" json:"discount_percentage"`
	DiscountAmount        int64             `db:"discount_amount" json:"discount_amount"`
	TotalAmount           int64             `db:"total_amount" json:"total_amount"`
	AutoStopped           bool              `db:"auto_stopped" json:"auto_stopped"`
	PaymentStatus         PaymentStatus     `db:"payment_status" json:"payment_status"`
	PaymentReference      string            `db:"payment_reference" json:"payment_reference,omitempty"`
	PaidAt                *time.Time        `db:"paid_at" json:"paid_at,omitempty"`
	CreatedAt             time.Time         `db:"created_at" json:"created_at"`
}
