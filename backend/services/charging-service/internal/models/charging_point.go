package models

// PointStatus enumerates physical charging point states.
type PointStatus string

const (
	PointAvailable   PointStatus = "available"
	PointInUse       PointStatus = "in_use"
	PointMaintenance PointStatus = "maintenance"
)

// ChargingPoint is a physical connector owned by a station.
// CurrentSessionID is non-nil iff Status is PointInUse.
type ChargingPoint struct {
	ID               int64       `db:"id" json:"id"`
	StationID        int64       `db:"station_id" json:"station_id"`
	ConnectorType    string      `db:"connector_type" json:"connector_type"`
	Status           PointStatus `db:"status" json:"status"`
	CurrentSessionID *int64      `db:"current_session_id" json:"current_session_id,omitempty"`
}
