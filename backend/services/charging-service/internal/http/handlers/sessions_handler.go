package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"chargehub/backend/services/charging-service/internal/invoices"
	"chargehub/backend/services/charging-service/internal/notify"
	"chargehub/backend/services/charging-service/internal/sessions"
)

// SessionsHandler serves charging session endpoints.
type SessionsHandler struct {
	sessions *sessions.Service
	invoices *invoices.Service
	hub      *notify.Hub
	logger   *zap.Logger
}

// NewSessionsHandler builds handler set. hub may be nil, which disables the event stream.
func NewSessionsHandler(s *sessions.Service, inv *invoices.Service, hub *notify.Hub, logger *zap.Logger) *SessionsHandler {
	return &SessionsHandler{sessions: s, invoices: inv, hub: hub, logger: logger}
}

type startSessionRequest struct {
	Token          string   `json:"token"`
	InitialBattery *float64 `json:"initial_battery_percentage"`
	TargetBattery  *float64 `json:"target_battery_percentage"`
}

type walkInRequest struct {
	ChargingPointID int64    `json:"charging_point_id"`
	VehicleID       *int64   `json:"vehicle_id"`
	GuestBatteryKWh *float64 `json:"guest_battery_capacity_kwh"`
	InitialBattery  *float64 `json:"initial_battery_percentage"`
	TargetBattery   *float64 `json:"target_battery_percentage"`
}

type endSessionRequest struct {
	FinalBattery *float64 `json:"final_battery_percentage"`
}

// Start handles POST /sessions/start.
func (h *SessionsHandler) Start(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req startSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Token == "" || req.InitialBattery == nil {
		writeError(w, http.StatusBadRequest, "token and initial_battery_percentage are required")
		return
	}

	sess, err := h.sessions.StartSession(r.Context(), sessions.StartRequest{
		UserID:         uid,
		Token:          req.Token,
		InitialBattery: *req.InitialBattery,
		TargetBattery:  req.TargetBattery,
	})
	if err != nil {
		h.fail(w, "start session", err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// WalkIn handles POST /sessions/walk-in.
func (h *SessionsHandler) WalkIn(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req walkInRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ChargingPointID <= 0 || req.InitialBattery == nil {
		writeError(w, http.StatusBadRequest, "charging_point_id and initial_battery_percentage are required")
		return
	}

	sess, err := h.sessions.StartWalkIn(r.Context(), sessions.WalkInRequest{
		UserID:          uid,
		ChargingPointID: req.ChargingPointID,
		VehicleID:       req.VehicleID,
		GuestBatteryKWh: req.GuestBatteryKWh,
		InitialBattery:  *req.InitialBattery,
		TargetBattery:   req.TargetBattery,
	})
	if err != nil {
		h.fail(w, "start walk-in session", err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// Get handles GET /sessions/{id}.
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	uid, id, ok := h.ids(w, r)
	if !ok {
		return
	}
	sess, err := h.sessions.Get(r.Context(), uid, id)
	if err != nil {
		h.fail(w, "get session", err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// Live handles GET /sessions/{id}/live.
func (h *SessionsHandler) Live(w http.ResponseWriter, r *http.Request) {
	uid, id, ok := h.ids(w, r)
	if !ok {
		return
	}
	snap, err := h.sessions.Live(r.Context(), uid, id)
	if err != nil {
		h.fail(w, "live session", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// End handles POST /sessions/{id}/end. The body is optional.
func (h *SessionsHandler) End(w http.ResponseWriter, r *http.Request) {
	uid, id, ok := h.ids(w, r)
	if !ok {
		return
	}
	var req endSessionRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	inv, err := h.sessions.EndSession(r.Context(), uid, id, req.FinalBattery)
	if err != nil {
		h.fail(w, "end session", err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// Cancel handles POST /sessions/{id}/cancel.
func (h *SessionsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	uid, id, ok := h.ids(w, r)
	if !ok {
		return
	}
	sess, err := h.sessions.CancelSession(r.Context(), uid, id)
	if err != nil {
		h.fail(w, "cancel session", err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// Invoice handles GET /sessions/{id}/invoice.
func (h *SessionsHandler) Invoice(w http.ResponseWriter, r *http.Request) {
	uid, id, ok := h.ids(w, r)
	if !ok {
		return
	}
	inv, err := h.invoices.GetBySession(r.Context(), uid, id)
	if err != nil {
		h.fail(w, "get session invoice", err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// Events handles GET /sessions/{id}/events by upgrading to a websocket carrying the session's events.
func (h *SessionsHandler) Events(w http.ResponseWriter, r *http.Request) {
	uid, id, ok := h.ids(w, r)
	if !ok {
		return
	}
	if h.hub == nil {
		writeError(w, http.StatusNotFound, "event stream disabled")
		return
	}
	if _, err := h.sessions.Get(r.Context(), uid, id); err != nil {
		h.fail(w, "subscribe session events", err)
		return
	}
	h.hub.Subscribe(w, r, id)
}

func (h *SessionsHandler) ids(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	uid, ok := userID(w, r)
	if !ok {
		return 0, 0, false
	}
	id, ok := pathID(w, r)
	if !ok {
		return 0, 0, false
	}
	return uid, id, true
}

func (h *SessionsHandler) fail(w http.ResponseWriter, op string, err error) {
	if status := writeServiceError(w, err); status == http.StatusInternalServerError {
		h.logger.Error(op+" failed", zap.Error(err))
	}
}
