package memory

import (
	"context"
	"time"

	"chargehub/backend/services/charging-service/internal/models"
	"chargehub/backend/services/charging-service/internal/repository"
)

type catalogRepo struct {
	s *Store
}

func (r catalogRepo) Station(_ context.Context, id int64) (*models.StationProfile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.stations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *st
	return &c, nil
}

func (r catalogRepo) Vehicle(_ context.Context, id int64) (*models.VehicleProfile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.vehicles[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *v
	return &c, nil
}

func (r catalogRepo) ActiveDiscount(_ context.Context, vehicleID int64, at time.Time) (*float64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var best *float64
	for _, sub := range r.s.subscriptions {
		if sub.vehicleID != vehicleID || !sub.active {
			continue
		}
		if at.Before(sub.validFrom) || !at.Before(sub.validUntil) {
			continue
		}
		if best == nil || sub.discount > *best {
			d := sub.discount
			best = &d
		}
	}
	return best, nil
}
