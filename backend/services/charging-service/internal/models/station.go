package models

// StationProfile is the pricing/power view of a station consumed from the catalogue.
type StationProfile struct {
	ID              int64   `db:"id" json:"id"`
	Name            string  `db:"name" json:"name"`
	PowerCapacityKW float64 `db:"power_capacity_kw" json:"power_capacity_kw"`
	PricePerKWh     int64   `db:"price_per_kwh" json:"price_per_kwh"`
	BaseFee         int64   `db:"base_fee" json:"base_fee"`
}

// VehicleProfile is the battery view of a vehicle consumed from the catalogue.
type VehicleProfile struct {
	ID                 int64   `db:"id" json:"id"`
	UserID             int64   `db:"user_id" json:"user_id"`
	BatteryCapacityKWh float64 `db:"battery_capacity_kwh" json:"battery_capacity_kwh"`
}
