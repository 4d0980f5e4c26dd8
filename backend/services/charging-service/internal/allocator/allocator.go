package allocator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"chargehub/backend/services/charging-service/internal/metrics"
	"chargehub/backend/services/charging-service/internal/models"
	"chargehub/backend/services/charging-service/internal/repository"
)

var (
	// ErrPointInUse is returned when the point is held by another session or not available.
	ErrPointInUse = errors.New("allocator: charging point already in use")
	// ErrPointNotFound is returned for an unknown point.
	ErrPointNotFound = errors.New("allocator: charging point not found")
	// ErrPointNotInUse is returned when releasing a point the session does not hold.
	ErrPointNotInUse = errors.New("allocator: charging point not in use by session")
)

// Allocator is the only writer of charging point availability.
type Allocator struct {
	points  repository.PointRepository
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New returns allocator over points.
func New(points repository.PointRepository, m *metrics.Metrics, logger *zap.Logger) *Allocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Allocator{points: points, metrics: m, logger: logger.Named("allocator")}
}

// Allocate marks the point in_use for sessionID. Re-allocating to the holding session succeeds.
func (a *Allocator) Allocate(ctx context.Context, pointID, sessionID int64) error {
	ok, err := a.points.TryAllocate(ctx, pointID, sessionID)
	if err != nil {
		return fmt.Errorf("allocate point %d: %w", pointID, err)
	}
	if ok {
		a.metrics.Allocation("allocate", "allocated")
		a.logger.Debug("point allocated", zap.Int64("point_id", pointID), zap.Int64("session_id", sessionID))
		return nil
	}

	point, err := a.points.Get(ctx, pointID)
	if errors.Is(err, repository.ErrNotFound) {
		a.metrics.Allocation("allocate", "not_found")
		return ErrPointNotFound
	}
	if err != nil {
		return fmt.Errorf("load point %d: %w", pointID, err)
	}
	if point.Status == models.PointInUse && point.CurrentSessionID != nil && *point.CurrentSessionID == sessionID {
		a.metrics.Allocation("allocate", "already_held")
		return nil
	}
	a.metrics.Allocation("allocate", "in_use")
	return ErrPointInUse
}

// Release frees the point if sessionID holds it.
func (a *Allocator) Release(ctx context.Context, pointID, sessionID int64) error {
	ok, err := a.points.TryRelease(ctx, pointID, sessionID)
	if err != nil {
		return fmt.Errorf("release point %d: %w", pointID, err)
	}
	if !ok {
		a.metrics.Allocation("release", "not_in_use")
		return ErrPointNotInUse
	}
	a.metrics.Allocation("release", "released")
	a.logger.Debug("point released", zap.Int64("point_id", pointID), zap.Int64("session_id", sessionID))
	return nil
}
