package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"chargehub/backend/services/charging-service/internal/sessions"
)

// IoTHandler receives readings pushed by vehicles and chargers.
type IoTHandler struct {
	sessions *sessions.Service
	logger   *zap.Logger
}

// NewIoTHandler builds handler.
func NewIoTHandler(s *sessions.Service, logger *zap.Logger) *IoTHandler {
	return &IoTHandler{sessions: s, logger: logger}
}

type batteryRequest struct {
	Battery *float64 `json:"battery_percentage"`
}

// UpdateBattery handles POST /internal/iot/sessions/{id}/battery.
func (h *IoTHandler) UpdateBattery(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req batteryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Battery == nil {
		writeError(w, http.StatusBadRequest, "battery_percentage is required")
		return
	}

	snap, err := h.sessions.UpdateBattery(r.Context(), id, *req.Battery)
	if err != nil {
		if status := writeServiceError(w, err); status == http.StatusInternalServerError {
			h.logger.Error("update battery failed", zap.Int64("session_id", id), zap.Error(err))
		}
		return
	}
	writeJSON(w, http.StatusAccepted, snap)
}
