package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	libdb "chargehub/backend/libs/db"
	"chargehub/backend/services/charging-service/internal/models"
)

// CatalogRepo reads station, vehicle and subscription data owned by other services.
type CatalogRepo struct {
	db *sql.DB
}

// NewCatalogRepo returns repository.
func NewCatalogRepo(db *sql.DB) *CatalogRepo {
	return &CatalogRepo{db: db}
}

// Station returns pricing and power capacity.
func (r *CatalogRepo) Station(ctx context.Context, id int64) (*models.StationProfile, error) {
	const query = `
		SELECT id, name, power_capacity_kw, price_per_kwh, base_fee
		FROM stations
		WHERE id = $1
	`
	var s models.StationProfile
	if err := libdb.Conn(ctx, r.db).QueryRowContext(ctx, query, id).Scan(
		&s.ID,
		&s.Name,
		&s.PowerCapacityKW,
		&s.PricePerKWh,
		&s.BaseFee,
	); err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

// Vehicle returns battery capacity.
func (r *CatalogRepo) Vehicle(ctx context.Context, id int64) (*models.VehicleProfile, error) {
	const query = `
		SELECT id, user_id, battery_capacity_kwh
		FROM vehicles
		WHERE id = $1
	`
	var v models.VehicleProfile
	if err := libdb.Conn(ctx, r.db).QueryRowContext(ctx, query, id).Scan(&v.ID, &v.UserID, &v.BatteryCapacityKWh); err != nil {
		return nil, notFound(err)
	}
	return &v, nil
}

// ActiveDiscount returns the best discount of an active subscription valid at `at`.
func (r *CatalogRepo) ActiveDiscount(ctx context.Context, vehicleID int64, at time.Time) (*float64, error) {
	const query = `
		SELECT discount_percentage
		FROM subscriptions
		WHERE vehicle_id = $1
		  AND is_active
		  AND valid_from <= $2
		  AND valid_until > $2
		ORDER BY discount_percentage DESC
		LIMIT 1
	`
	var pct float64
	err := libdb.Conn(ctx, r.db).QueryRowContext(ctx, query, vehicleID, at).Scan(&pct)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pct, nil
}
