package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"chargehub/backend/services/charging-service/internal/billing"
	"chargehub/backend/services/charging-service/internal/bookings"
	"chargehub/backend/services/charging-service/internal/http/middleware"
	"chargehub/backend/services/charging-service/internal/invoices"
	"chargehub/backend/services/charging-service/internal/sessions"
)

const maxBodyBytes = 1 << 16

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return 0, false
	}
	return id, true
}

// errorStatus maps domain errors onto HTTP statuses. Anything else, including
// invoices.ErrMissingStation, is a 500 with a generic body.
var errorStatus = []struct {
	err    error
	status int
}{
	{bookings.ErrNotFound, http.StatusNotFound},
	{sessions.ErrNotFound, http.StatusNotFound},
	{sessions.ErrBookingNotFound, http.StatusNotFound},
	{invoices.ErrNotFound, http.StatusNotFound},
	{bookings.ErrPointNotFound, http.StatusNotFound},
	{sessions.ErrPointNotFound, http.StatusNotFound},

	{bookings.ErrInvalidWindow, http.StatusBadRequest},
	{bookings.ErrWindowInPast, http.StatusBadRequest},
	{sessions.ErrInvalidBattery, http.StatusBadRequest},
	{sessions.ErrMissingCapacity, http.StatusUnprocessableEntity},
	{billing.ErrEndBeforeStart, http.StatusUnprocessableEntity},
	{billing.ErrNoEnergyBasis, http.StatusUnprocessableEntity},

	{bookings.ErrVehicleNotOwned, http.StatusForbidden},
	{sessions.ErrVehicleNotOwned, http.StatusForbidden},
	{sessions.ErrInvalidToken, http.StatusUnauthorized},

	{bookings.ErrBookingOverlap, http.StatusConflict},
	{bookings.ErrInvalidTransition, http.StatusConflict},
	{bookings.ErrSessionLive, http.StatusConflict},
	{bookings.ErrPointUnavailable, http.StatusConflict},
	{sessions.ErrPointInUse, http.StatusConflict},
	{sessions.ErrAlreadyStarted, http.StatusConflict},
	{sessions.ErrNotStarted, http.StatusConflict},
	{sessions.ErrSessionFinalized, http.StatusConflict},
	{sessions.ErrBatteryRegression, http.StatusConflict},
	{billing.ErrBatteryRegression, http.StatusConflict},
	{invoices.ErrNotStarted, http.StatusConflict},
	{invoices.ErrAlreadyCompleted, http.StatusConflict},
	{sessions.ErrBookingNotReady, http.StatusConflict},
	{sessions.ErrOutsideWindow, http.StatusConflict},
	{invoices.ErrInvalidPaymentTransition, http.StatusConflict},
}

func writeServiceError(w http.ResponseWriter, err error) int {
	for _, m := range errorStatus {
		if errors.Is(err, m.err) {
			writeError(w, m.status, m.err.Error())
			return m.status
		}
	}
	writeError(w, http.StatusInternalServerError, "internal error")
	return http.StatusInternalServerError
}
