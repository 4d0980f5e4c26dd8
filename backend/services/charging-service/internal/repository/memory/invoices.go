package memory

import (
	"context"
	"sort"
	"time"

	"chargehub/backend/services/charging-service/internal/models"
	"chargehub/backend/services/charging-service/internal/repository"
)

type invoiceRepo struct {
	s *Store
}

func (r invoiceRepo) Create(_ context.Context, inv *models.Invoice) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, other := range r.s.invoices {
		if other.SessionID == inv.SessionID || (inv.Number != "" && other.Number == inv.Number) {
			return repository.ErrDuplicateInvoice
		}
	}
	if inv.PaymentStatus == "" {
		inv.PaymentStatus = models.PaymentUnpaid
	}
	inv.ID = r.s.nextID()
	inv.CreatedAt = r.s.clock.Now()
	r.s.invoices[inv.ID] = cloneInvoice(inv)
	return nil
}

func (r invoiceRepo) Get(_ context.Context, id int64) (*models.Invoice, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inv, ok := r.s.invoices[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneInvoice(inv), nil
}

func (r invoiceRepo) GetBySession(_ context.Context, sessionID int64) (*models.Invoice, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, inv := range r.s.invoices {
		if inv.SessionID == sessionID {
			return cloneInvoice(inv), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r invoiceRepo) ListByUser(_ context.Context, userID int64, limit int) ([]models.Invoice, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Invoice
	for _, inv := range r.s.invoices {
		if inv.UserID == userID {
			out = append(out, *cloneInvoice(inv))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit <= 0 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r invoiceRepo) UpdatePayment(_ context.Context, id int64, from, to models.PaymentStatus, reference string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inv, ok := r.s.invoices[id]
	if !ok || inv.PaymentStatus != from {
		return false, nil
	}
	inv.PaymentStatus = to
	if reference != "" {
		inv.PaymentReference = reference
	}
	if to == models.PaymentPaid {
		paid := at
		inv.PaidAt = &paid
	}
	return true, nil
}
