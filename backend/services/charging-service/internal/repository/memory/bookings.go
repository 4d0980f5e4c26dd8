package memory

import (
	"context"
	"sort"
	"time"

	"chargehub/backend/services/charging-service/internal/models"
	"chargehub/backend/services/charging-service/internal/repository"
)

type bookingRepo struct {
	s *Store
}

func (r bookingRepo) Create(_ context.Context, b *models.Booking) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if b.Status == "" {
		b.Status = models.BookingPending
	}
	if b.Status.Holding() {
		for _, other := range r.s.bookings {
			if other.ChargingPointID == b.ChargingPointID && other.Status.Holding() && other.Overlaps(b.StartTime, b.EndTime) {
				return repository.ErrBookingOverlap
			}
		}
	}
	now := r.s.clock.Now()
	b.ID = r.s.nextID()
	b.CreatedAt = now
	b.UpdatedAt = now
	c := *b
	r.s.bookings[b.ID] = &c
	return nil
}

func (r bookingRepo) Get(_ context.Context, id int64) (*models.Booking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.bookings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *b
	return &c, nil
}

func (r bookingRepo) TransitionStatus(_ context.Context, id int64, from []models.BookingStatus, to models.BookingStatus) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.bookings[id]
	if !ok {
		return false, nil
	}
	for _, st := range from {
		if b.Status == st {
			b.Status = to
			b.UpdatedAt = r.s.clock.Now()
			return true, nil
		}
	}
	return false, nil
}

func (r bookingRepo) ListDueForActivation(_ context.Context, now time.Time, limit int) ([]models.Booking, error) {
	return r.list(func(b *models.Booking) bool {
		return b.Status == models.BookingConfirmed && !b.StartTime.After(now)
	}, func(b *models.Booking) time.Time { return b.StartTime }, limit), nil
}

func (r bookingRepo) ListDueForExpiration(_ context.Context, now time.Time, limit int) ([]models.Booking, error) {
	return r.list(func(b *models.Booking) bool {
		return (b.Status == models.BookingActive || b.Status == models.BookingConfirmed) && b.EndTime.Before(now)
	}, func(b *models.Booking) time.Time { return b.EndTime }, limit), nil
}

func (r bookingRepo) list(match func(*models.Booking) bool, key func(*models.Booking) time.Time, limit int) []models.Booking {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Booking
	for _, b := range r.s.bookings {
		if match(b) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ki, kj := key(&out[i]), key(&out[j])
		if ki.Equal(kj) {
			return out[i].ID < out[j].ID
		}
		return ki.Before(kj)
	})
	if n := limitOrDefault(limit); len(out) > n {
		out = out[:n]
	}
	return out
}
