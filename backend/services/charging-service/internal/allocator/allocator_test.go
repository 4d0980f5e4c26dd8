package allocator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chargehub/backend/services/charging-service/internal/models"
	"chargehub/backend/services/charging-service/internal/repository/memory"
)

func setup(t *testing.T, status models.PointStatus) (*Allocator, *memory.Store, int64) {
	t.Helper()
	store := memory.New(nil)
	id := store.AddPoint(models.ChargingPoint{StationID: 1, Status: status})
	return New(store.Repositories().Points, nil, nil), store, id
}

func TestAllocateAvailablePoint(t *testing.T) {
	a, store, id := setup(t, models.PointAvailable)
	ctx := context.Background()

	require.NoError(t, a.Allocate(ctx, id, 11))

	p, err := store.Repositories().Points.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.PointInUse, p.Status)
	require.NotNil(t, p.CurrentSessionID)
	assert.Equal(t, int64(11), *p.CurrentSessionID)
}

func TestAllocateIsIdempotentForHolder(t *testing.T) {
	a, _, id := setup(t, models.PointAvailable)
	ctx := context.Background()

	require.NoError(t, a.Allocate(ctx, id, 11))
	assert.NoError(t, a.Allocate(ctx, id, 11))
	assert.ErrorIs(t, a.Allocate(ctx, id, 12), ErrPointInUse)
}

func TestAllocateMaintenancePoint(t *testing.T) {
	a, _, id := setup(t, models.PointMaintenance)
	assert.ErrorIs(t, a.Allocate(context.Background(), id, 1), ErrPointInUse)
}

func TestAllocateUnknownPoint(t *testing.T) {
	a, _, _ := setup(t, models.PointAvailable)
	assert.ErrorIs(t, a.Allocate(context.Background(), 404, 1), ErrPointNotFound)
}

func TestReleaseRequiresHolder(t *testing.T) {
	a, store, id := setup(t, models.PointAvailable)
	ctx := context.Background()

	assert.ErrorIs(t, a.Release(ctx, id, 1), ErrPointNotInUse)
	require.NoError(t, a.Allocate(ctx, id, 1))
	assert.ErrorIs(t, a.Release(ctx, id, 2), ErrPointNotInUse)
	require.NoError(t, a.Release(ctx, id, 1))

	p, _ := store.Repositories().Points.Get(ctx, id)
	assert.Equal(t, models.PointAvailable, p.Status)
	assert.Nil(t, p.CurrentSessionID)
}

func TestConcurrentAllocationHasOneWinner(t *testing.T) {
	a, store, id := setup(t, models.PointAvailable)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := int64(1); i <= 32; i++ {
		wg.Add(1)
		go func(sessionID int64) {
			defer wg.Done()
			if err := a.Allocate(ctx, id, sessionID); err == nil {
				winners.Add(1)
			} else {
				assert.ErrorIs(t, err, ErrPointInUse)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
	p, _ := store.Repositories().Points.Get(ctx, id)
	assert.Equal(t, models.PointInUse, p.Status)
	assert.NotNil(t, p.CurrentSessionID)
}
