package models

import "time"

// BookingStatus enumerates reservation states.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingActive    BookingStatus = "active"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
	BookingExpired   BookingStatus = "expired"
)

// Holding reports whether the booking still claims its time window on the point.
func (s BookingStatus) Holding() bool {
	return s == BookingPending || s == BookingConfirmed || s == BookingActive
}

// Booking reserves a charging point for a time window.
type Booking struct {
	ID              int64         `db:"id" json:"id"`
	UserID          int64         `db:"user_id" json:"user_id"`
	StationID       int64         `db:"station_id" json:"station_id"`
	VehicleID       int64         `db:"vehicle_id" json:"vehicle_id"`
	ChargingPointID int64         `db:"charging_point_id" json:"charging_point_id"`
	StartTime       time.Time     `db:"start_time" json:"start_time"`
	EndTime         time.Time     `db:"end_time" json:"end_time"`
	Status          BookingStatus `db:"status" json:"status"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
}

// Overlaps reports whether [start, end) intersects the booking window.
func (b *Booking) Overlaps(start, end time.Time) bool {
	return b.StartTime.Before(end) && start.Before(b.EndTime)
}
