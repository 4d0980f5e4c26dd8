package invoices

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"chargehub/backend/services/charging-service/internal/clock"
	"chargehub/backend/services/charging-service/internal/models"
	"chargehub/backend/services/charging-service/internal/repository"
)

var (
	// ErrNotFound hides invoices that do not exist or belong to someone else.
	ErrNotFound = errors.New("invoices: invoice not found")
	// ErrInvalidPaymentTransition is returned for a payment status change that is not allowed.
	ErrInvalidPaymentTransition = errors.New("invoices: payment status transition not allowed")
)

// Service exposes invoice reads and payment status updates.
type Service struct {
	invoices repository.InvoiceRepository
	clock    clock.Clock
	logger   *zap.Logger
}

// NewService builds service.
func NewService(invoices repository.InvoiceRepository, clk clock.Clock, logger *zap.Logger) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{invoices: invoices, clock: clk, logger: logger.Named("invoice-service")}
}

// Get returns the user's invoice.
func (s *Service) Get(ctx context.Context, userID, invoiceID int64) (*models.Invoice, error) {
	inv, err := s.invoices.Get(ctx, invoiceID)
	return owned(inv, err, userID)
}

// GetBySession returns the invoice of the user's session.
func (s *Service) GetBySession(ctx context.Context, userID, sessionID int64) (*models.Invoice, error) {
	inv, err := s.invoices.GetBySession(ctx, sessionID)
	return owned(inv, err, userID)
}

// ListMine returns the user's latest invoices.
func (s *Service) ListMine(ctx context.Context, userID int64, limit int) ([]models.Invoice, error) {
	list, err := s.invoices.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	if list == nil {
		list = []models.Invoice{}
	}
	return list, nil
}

// UpdatePayment moves the payment status along unpaid → paid|cancelled and paid → refunded.
func (s *Service) UpdatePayment(ctx context.Context, userID, invoiceID int64, to models.PaymentStatus, reference string) (*models.Invoice, error) {
	inv, err := s.Get(ctx, userID, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.PaymentStatus == to {
		return inv, nil
	}
	if !models.PaymentTransitionAllowed(inv.PaymentStatus, to) {
		return nil, fmt.Errorf("%w: %s → %s", ErrInvalidPaymentTransition, inv.PaymentStatus, to)
	}

	ok, err := s.invoices.UpdatePayment(ctx, inv.ID, inv.PaymentStatus, to, reference, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("update payment: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: status changed concurrently", ErrInvalidPaymentTransition)
	}
	s.logger.Info("invoice payment updated",
		zap.Int64("invoice_id", inv.ID),
		zap.String("from", string(inv.PaymentStatus)),
		zap.String("to", string(to)),
	)
	return s.invoices.Get(ctx, inv.ID)
}

func owned(inv *models.Invoice, err error, userID int64) (*models.Invoice, error) {
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if inv.UserID != userID {
		return nil, ErrNotFound
	}
	return inv, nil
}
