package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"chargehub/backend/services/charging-service/internal/invoices"
	"chargehub/backend/services/charging-service/internal/models"
)

// InvoicesHandler serves invoice queries and payment updates.
type InvoicesHandler struct {
	invoices *invoices.Service
	logger   *zap.Logger
}

// NewInvoicesHandler builds handler set.
func NewInvoicesHandler(inv *invoices.Service, logger *zap.Logger) *InvoicesHandler {
	return &InvoicesHandler{invoices: inv, logger: logger}
}

type paymentRequest struct {
	Status    models.PaymentStatus `json:"payment_status"`
	Reference string               `json:"payment_reference"`
}

// Mine handles GET /invoices/me.
func (h *InvoicesHandler) Mine(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 200 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = n
	}
	list, err := h.invoices.ListMine(r.Context(), uid, limit)
	if err != nil {
		h.fail(w, "list invoices", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"invoices": list})
}

// Get handles GET /invoices/{id}.
func (h *InvoicesHandler) Get(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	inv, err := h.invoices.Get(r.Context(), uid, id)
	if err != nil {
		h.fail(w, "get invoice", err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// UpdatePayment handles POST /invoices/{id}/payment.
func (h *InvoicesHandler) UpdatePayment(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	switch req.Status {
	case models.PaymentPaid, models.PaymentRefunded, models.PaymentCancelled:
	default:
		writeError(w, http.StatusBadRequest, "payment_status must be paid, refunded or cancelled")
		return
	}

	inv, err := h.invoices.UpdatePayment(r.Context(), uid, id, req.Status, req.Reference)
	if err != nil {
		h.fail(w, "update payment", err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (h *InvoicesHandler) fail(w http.ResponseWriter, op string, err error) {
	if status := writeServiceError(w, err); status == http.StatusInternalServerError {
		h.logger.Error(op+" failed", zap.Error(err))
	}
}
