package models

import "time"

// SessionStatus enumerates charging session states.
type SessionStatus string

const (
	SessionPending    SessionStatus = "pending"
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionCancelled  SessionStatus = "cancelled"
)

// Final reports whether no further transitions are possible.
func (s SessionStatus) Final() bool {
	return s == SessionCompleted || s == SessionCancelled
}

// BatterySource tells where the current battery reading comes from.
type BatterySource string

const (
	BatterySimulated BatterySource = "simulated"
	BatteryReported  BatterySource = "reported"
)

// Session is a live or finished charging event.
type Session struct {
	ID                  int64         `db:"id" json:"id"`
	BookingID           *int64        `db:"booking_id" json:"booking_id,omitempty"`
	UserID              int64         `db:"user_id" json:"user_id"`
	ChargingPointID     int64         `db:"charging_point_id" json:"charging_point_id"`
	StationID           int64         `db:"station_id" json:"station_id"`
	VehicleID           *int64        `db:"vehicle_id" json:"vehicle_id,omitempty"`
	GuestBatteryKWh     *float64      `db:"guest_battery_capacity_kwh" json:"guest_battery_capacity_kwh,omitempty"`
	Status              SessionStatus `db:"status" json:"status"`
	StartTime           *time.Time    `db:"start_time" json:"start_time,omitempty"`
	EndTime             *time.Time    `db:"end_time" json:"end_time,omitempty"`
	InitialBattery      float64       `db:"initial_battery_percentage" json:"initial_battery_percentage"`
	CurrentBattery      float64       `db:"current_battery_percentage" json:"current_battery_percentage"`
	TargetBattery       float64       `db:"target_battery_percentage" json:"target_battery_percentage"`
	FinalBattery        *float64      `db:"final_battery_percentage" json:"final_battery_percentage,omitempty"`
	BatterySource       BatterySource `db:"battery_source" json:"battery_source"`
	TargetNotified      bool          `db:"target_notified" json:"target_notified"`
	BaseFee             int64         `db:"base_fee" json:"base_fee"`
	PricePerKWh         int64         `db:"price_per_kwh" json:"price_per_kwh"`
	EnergyDeliveredKWh  float64       `db:"energy_delivered_kwh" json:"energy_delivered_kwh"`
	ChargingFee         int64         `db:"charging_fee" json:"charging_fee"`
	TotalAmount         int64         `db:"total_amount" json:"total_amount"`
	ActivationTokenHash string        `db:"activation_token_hash" json:"-"`
	CreatedAt           time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time     `db:"updated_at" json:"updated_at"`
}

// IsWalkIn reports whether the session was started without a booking.
func (s *Session) IsWalkIn() bool {
	return s.BookingID == nil
}

// SessionStart carries the fields written on pending → in_progress.
type SessionStart struct {
	StartTime      time.Time
	InitialBattery float64
	TargetBattery  float64
}

// SessionCompletion carries the fields written on in_progress → completed.
type SessionCompletion struct {
	EndTime            time.Time
	FinalBattery       float64
	EnergyDeliveredKWh float64
	ChargingFee        int64
	TotalAmount        int64
}
