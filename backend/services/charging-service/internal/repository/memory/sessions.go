package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"chargehub/backend/services/charging-service/internal/models"
	"chargehub/backend/services/charging-service/internal/repository"
)

type sessionRepo struct {
	s *Store
}

func (r sessionRepo) CreatePending(_ context.Context, sess *models.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if sess.BookingID != nil {
		for _, other := range r.s.sessions {
			open := other.Status == models.SessionPending || other.Status == models.SessionInProgress
			if open && other.BookingID != nil && *other.BookingID == *sess.BookingID {
				return repository.ErrOpenSessionExists
			}
		}
	}
	if sess.TargetBattery <= 0 {
		sess.TargetBattery = 100
	}
	now := r.s.clock.Now()
	sess.ID = r.s.nextID()
	sess.Status = models.SessionPending
	sess.BatterySource = models.BatterySimulated
	sess.CreatedAt = now
	sess.UpdatedAt = now
	r.s.sessions[sess.ID] = cloneSession(sess)
	return nil
}

func (r sessionRepo) Get(_ context.Context, id int64) (*models.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneSession(sess), nil
}

func (r sessionRepo) FindOpenByBooking(_ context.Context, bookingID int64) (*models.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var best *models.Session
	for _, sess := range r.s.sessions {
		if sess.BookingID == nil || *sess.BookingID != bookingID {
			continue
		}
		if sess.Status != models.SessionPending && sess.Status != models.SessionInProgress {
			continue
		}
		switch {
		case best == nil:
			best = sess
		case sess.Status == models.SessionInProgress && best.Status != models.SessionInProgress:
			best = sess
		case sess.Status == best.Status && sess.ID > best.ID:
			best = sess
		}
	}
	if best == nil {
		return nil, repository.ErrNotFound
	}
	return cloneSession(best), nil
}

func (r sessionRepo) ListInProgress(_ context.Context, limit int) ([]models.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Session
	for _, sess := range r.s.sessions {
		if sess.Status == models.SessionInProgress {
			out = append(out, *cloneSession(sess))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := out[i].StartTime, out[j].StartTime
		if si.Equal(*sj) {
			return out[i].ID < out[j].ID
		}
		return si.Before(*sj)
	})
	if n := limitOrDefault(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (r sessionRepo) SetActivationToken(_ context.Context, id int64, hash string) (bool, error) {
	return r.update(id, func(sess *models.Session) bool {
		if sess.Status != models.SessionPending {
			return false
		}
		sess.ActivationTokenHash = hash
		return true
	})
}

func (r sessionRepo) Start(_ context.Context, id int64, expectedTokenHash string, start models.SessionStart) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[id]
	if !ok || sess.Status != models.SessionPending {
		return false, nil
	}
	if expectedTokenHash != "" && sess.ActivationTokenHash != expectedTokenHash {
		return false, nil
	}
	for _, other := range r.s.sessions {
		if other.ID != id && other.ChargingPointID == sess.ChargingPointID && other.Status == models.SessionInProgress {
			return false, ErrLiveSessionOnPoint
		}
	}
	startTime := start.StartTime
	sess.Status = models.SessionInProgress
	sess.StartTime = &startTime
	sess.InitialBattery = start.InitialBattery
	sess.CurrentBattery = start.InitialBattery
	sess.TargetBattery = start.TargetBattery
	sess.ActivationTokenHash = ""
	sess.UpdatedAt = r.s.clock.Now()
	return true, nil
}

func (r sessionRepo) AdvanceBattery(_ context.Context, id int64, battery float64, source models.BatterySource) (bool, error) {
	return r.update(id, func(sess *models.Session) bool {
		if sess.Status != models.SessionInProgress || sess.CurrentBattery > battery {
			return false
		}
		if source == models.BatterySimulated && sess.BatterySource == models.BatteryReported {
			return false
		}
		sess.CurrentBattery = battery
		if source == models.BatteryReported {
			sess.BatterySource = models.BatteryReported
		}
		return true
	})
}

func (r sessionRepo) MarkTargetNotified(_ context.Context, id int64) (bool, error) {
	return r.update(id, func(sess *models.Session) bool {
		if sess.Status != models.SessionInProgress || sess.TargetNotified {
			return false
		}
		sess.TargetNotified = true
		return true
	})
}

func (r sessionRepo) Complete(_ context.Context, id int64, c models.SessionCompletion) (bool, error) {
	return r.update(id, func(sess *models.Session) bool {
		if sess.Status != models.SessionInProgress {
			return false
		}
		end := c.EndTime
		final := c.FinalBattery
		sess.Status = models.SessionCompleted
		sess.EndTime = &end
		sess.FinalBattery = &final
		if final > sess.CurrentBattery {
			sess.CurrentBattery = final
		}
		sess.EnergyDeliveredKWh = c.EnergyDeliveredKWh
		sess.ChargingFee = c.ChargingFee
		sess.TotalAmount = c.TotalAmount
		return true
	})
}

func (r sessionRepo) Cancel(_ context.Context, id int64, from []models.SessionStatus, at time.Time) (bool, error) {
	return r.update(id, func(sess *models.Session) bool {
		if sess.Status.Final() || !slices.Contains(from, sess.Status) {
			return false
		}
		sess.Status = models.SessionCancelled
		sess.EndTime = &at
		sess.ActivationTokenHash = ""
		return true
	})
}

func (r sessionRepo) update(id int64, apply func(*models.Session) bool) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[id]
	if !ok || !apply(sess) {
		return false, nil
	}
	sess.UpdatedAt = r.s.clock.Now()
	return true, nil
}
