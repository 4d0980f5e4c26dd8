package app

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"chargehub/backend/services/charging-service/internal/models"
	"chargehub/backend/services/charging-service/internal/repository/memory"
)

// Seed is the catalogue loaded into the in-memory store on startup.
type Seed struct {
	Stations []struct {
		ID              int64   `yaml:"id"`
		Name            string  `yaml:"name"`
		PowerCapacityKW float64 `yaml:"powerCapacityKw"`
		PricePerKWh     int64   `yaml:"pricePerKwh"`
		BaseFee         int64   `yaml:"baseFee"`
		Points          []struct {
			ID            int64  `yaml:"id"`
			ConnectorType string `yaml:"connectorType"`
			Status        string `yaml:"status"`
		} `yaml:"points"`
	} `yaml:"stations"`
	Vehicles []struct {
		ID                 int64   `yaml:"id"`
		UserID             int64   `yaml:"userId"`
		BatteryCapacityKWh float64 `yaml:"batteryCapacityKwh"`
		Subscription       *struct {
			Discount   float64   `yaml:"discount"`
			ValidFrom  time.Time `yaml:"validFrom"`
			ValidUntil time.Time `yaml:"validUntil"`
		} `yaml:"subscription"`
	} `yaml:"vehicles"`
}

// LoadSeed reads a YAML seed file into the store.
func LoadSeed(path string, store *memory.Store) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("decode seed: %w", err)
	}
	return seed.Apply(store)
}

// Apply writes the seed into the store.
func (s Seed) Apply(store *memory.Store) error {
	for _, st := range s.Stations {
		if st.PowerCapacityKW <= 0 {
			return fmt.Errorf("seed: station %q has no power capacity", st.Name)
		}
		stationID := store.AddStation(models.StationProfile{
			ID:              st.ID,
			Name:            st.Name,
			PowerCapacityKW: st.PowerCapacityKW,
			PricePerKWh:     st.PricePerKWh,
			BaseFee:         st.BaseFee,
		})
		for _, p := range st.Points {
			status := models.PointStatus(p.Status)
			switch status {
			case "", models.PointAvailable, models.PointMaintenance:
			default:
				return fmt.Errorf("seed: point %d has unsupported status %q", p.ID, p.Status)
			}
			store.AddPoint(models.ChargingPoint{
				ID:            p.ID,
				StationID:     stationID,
				ConnectorType: p.ConnectorType,
				Status:        status,
			})
		}
	}
	for _, v := range s.Vehicles {
		vehicleID := store.AddVehicle(models.VehicleProfile{
			ID:                 v.ID,
			UserID:             v.UserID,
			BatteryCapacityKWh: v.BatteryCapacityKWh,
		})
		if v.Subscription != nil {
			store.AddSubscription(vehicleID, v.Subscription.Discount, v.Subscription.ValidFrom, v.Subscription.ValidUntil)
		}
	}
	return nil
}
