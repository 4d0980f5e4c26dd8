package memory

import (
	"context"

	"chargehub/backend/services/charging-service/internal/models"
	"chargehub/backend/services/charging-service/internal/repository"
)

type pointRepo struct {
	s *Store
}

func (r pointRepo) Get(_ context.Context, id int64) (*models.ChargingPoint, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.points[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clonePoint(p), nil
}

func (r pointRepo) TryAllocate(_ context.Context, pointID, sessionID int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.points[pointID]
	if !ok || p.Status != models.PointAvailable {
		return false, nil
	}
	p.Status = models.PointInUse
	p.CurrentSessionID = &sessionID
	return true, nil
}

func (r pointRepo) TryRelease(_ context.Context, pointID, sessionID int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.points[pointID]
	if !ok || p.Status != models.PointInUse || p.CurrentSessionID == nil || *p.CurrentSessionID != sessionID {
		return false, nil
	}
	p.Status = models.PointAvailable
	p.CurrentSessionID = nil
	return true, nil
}
