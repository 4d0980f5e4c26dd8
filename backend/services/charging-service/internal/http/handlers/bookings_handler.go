package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"chargehub/backend/services/charging-service/internal/bookings"
	"chargehub/backend/services/charging-service/internal/models"
	"chargehub/backend/services/charging-service/internal/sessions"
)

// BookingsHandler serves reservation endpoints.
type BookingsHandler struct {
	bookings *bookings.Service
	sessions *sessions.Service
	logger   *zap.Logger
}

// NewBookingsHandler builds handler set.
func NewBookingsHandler(b *bookings.Service, s *sessions.Service, logger *zap.Logger) *BookingsHandler {
	return &BookingsHandler{bookings: b, sessions: s, logger: logger}
}

type createBookingRequest struct {
	VehicleID       int64     `json:"vehicle_id"`
	ChargingPointID int64     `json:"charging_point_id"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
}

// Create handles POST /bookings.
func (h *BookingsHandler) Create(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req createBookingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.VehicleID <= 0 || req.ChargingPointID <= 0 || req.StartTime.IsZero() || req.EndTime.IsZero() {
		writeError(w, http.StatusBadRequest, "vehicle_id, charging_point_id, start_time and end_time are required")
		return
	}

	booking, err := h.bookings.Create(r.Context(), bookings.CreateRequest{
		UserID:          uid,
		VehicleID:       req.VehicleID,
		ChargingPointID: req.ChargingPointID,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
	})
	if err != nil {
		h.fail(w, "create booking", err)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

// Get handles GET /bookings/{id}.
func (h *BookingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.byID(w, r, "get booking", h.bookings.Get)
}

// Confirm handles POST /bookings/{id}/confirm.
func (h *BookingsHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.byID(w, r, "confirm booking", h.bookings.Confirm)
}

// Cancel handles POST /bookings/{id}/cancel.
func (h *BookingsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.byID(w, r, "cancel booking", h.bookings.Cancel)
}

// ActivationToken handles POST /bookings/{id}/activation-token.
func (h *BookingsHandler) ActivationToken(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	token, err := h.sessions.GenerateActivationToken(r.Context(), uid, id)
	if err != nil {
		h.fail(w, "issue activation token", err)
		return
	}
	writeJSON(w, http.StatusCreated, token)
}

func (h *BookingsHandler) byID(w http.ResponseWriter, r *http.Request, op string, fn func(ctx context.Context, userID, bookingID int64) (*models.Booking, error)) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	booking, err := fn(r.Context(), uid, id)
	if err != nil {
		h.fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (h *BookingsHandler) fail(w http.ResponseWriter, op string, err error) {
	if status := writeServiceError(w, err); status == http.StatusInternalServerError {
		h.logger.Error(op+" failed", zap.Error(err))
	}
}
