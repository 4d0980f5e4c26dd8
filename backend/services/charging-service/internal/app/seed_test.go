package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chargehub/backend/services/charging-service/internal/clock"
	"chargehub/backend/services/charging-service/internal/models"
	"chargehub/backend/services/charging-service/internal/repository/memory"
)

const seedYAML = `
stations:
  - id: 10
    name: Central
    powerCapacityKw: 50
    pricePerKwh: 3000
    baseFee: 10000
    points:
      - id: 100
        connectorType: CCS2
      - id: 101
        connectorType: CHAdeMO
        status: maintenance
vehicles:
  - id: 20
    userId: 7
    batteryCapacityKwh: 60
    subscription:
      discount: 15
      validFrom: 2025-01-01T00:00:00Z
      validUntil: 2026-01-01T00:00:00Z
`

func TestLoadSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o600))

	mem := memory.New(clock.NewManual(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, LoadSeed(path, mem))
	repos := mem.Repositories()
	ctx := context.Background()

	st, err := repos.Catalog.Station(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, int64(3000), st.PricePerKWh)

	p, err := repos.Points.Get(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, models.PointAvailable, p.Status)
	require.Equal(t, int64(10), p.StationID)

	p, err = repos.Points.Get(ctx, 101)
	require.NoError(t, err)
	require.Equal(t, models.PointMaintenance, p.Status)

	v, err := repos.Catalog.Vehicle(ctx, 20)
	require.NoError(t, err)
	require.Equal(t, int64(7), v.UserID)

	d, err := repos.Catalog.ActiveDiscount(ctx, 20, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, d)
	require.InDelta(t, 15, *d, 1e-9)
}

func TestLoadSeedRejectsInUsePoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	body := `
stations:
  - name: Broken
    powerCapacityKw: 22
    points:
      - status: in_use
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	err := LoadSeed(path, memory.New(clock.Real{}))
	require.ErrorContains(t, err, "unsupported status")
}
