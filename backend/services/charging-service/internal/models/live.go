package models

import "time"

// LiveSnapshot is the read model of an in-progress session served to clients.
type LiveSnapshot struct {
	SessionID         int64         `json:"session_id"`
	Status            SessionStatus `json:"status"`
	BatterySource     BatterySource `json:"battery_source"`
	InitialBattery    float64       `json:"initial_battery_percentage"`
	CurrentBattery    float64       `json:"current_battery_percentage"`
	TargetBattery     float64       `json:"target_battery_percentage"`
	Charged           float64       `json:"charged_percentage"`
	RemainingToTarget float64       `json:"remaining_to_target"`
	TargetReached     bool          `json:"target_reached"`
	EnergyKWh         float64       `json:"energy_delivered_kwh"`
	EstimatedFee      int64         `json:"estimated_charging_fee"`
	ElapsedSeconds    int64         `json:"elapsed_seconds"`
	OvertimeMinutes   int64         `json:"overtime_minutes"`
	UpdatedAt         time.Time     `json:"updated_at"`
}
