package httpserver

import (
	"net/http"

	"chargehub/backend/services/charging-service/internal/http/handlers"
	"chargehub/backend/services/charging-service/internal/http/middleware"
)

// RouterDeps collects handler dependencies.
type RouterDeps struct {
	Bookings *handlers.BookingsHandler
	Sessions *handlers.SessionsHandler
	Invoices *handlers.InvoicesHandler
	IoT      *handlers.IoTHandler
	Health   http.HandlerFunc
	Metrics  http.Handler
	// MetricsPath defaults to /metrics.
	MetricsPath string
}

// NewRouter wires HTTP routes with middleware. auth guards user endpoints, internal guards
// device endpoints and iotLimit throttles battery pushes.
func NewRouter(deps RouterDeps, auth, internal, iotLimit func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/health", method(http.MethodGet, deps.Health))
	if deps.Metrics != nil {
		path := deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle(path, method(http.MethodGet, deps.Metrics))
	}

	authenticated := func(expected string, handler http.HandlerFunc) http.Handler {
		return method(expected, middleware.Chain(handler, auth))
	}

	mux.Handle("/bookings", authenticated(http.MethodPost, deps.Bookings.Create))
	mux.Handle("/bookings/{id}", authenticated(http.MethodGet, deps.Bookings.Get))
	mux.Handle("/bookings/{id}/confirm", authenticated(http.MethodPost, deps.Bookings.Confirm))
	mux.Handle("/bookings/{id}/cancel", authenticated(http.MethodPost, deps.Bookings.Cancel))
	mux.Handle("/bookings/{id}/activation-token", authenticated(http.MethodPost, deps.Bookings.ActivationToken))

	mux.Handle("/sessions/start", authenticated(http.MethodPost, deps.Sessions.Start))
	mux.Handle("/sessions/walk-in", authenticated(http.MethodPost, deps.Sessions.WalkIn))
	mux.Handle("/sessions/{id}", authenticated(http.MethodGet, deps.Sessions.Get))
	mux.Handle("/sessions/{id}/live", authenticated(http.MethodGet, deps.Sessions.Live))
	mux.Handle("/sessions/{id}/end", authenticated(http.MethodPost, deps.Sessions.End))
	mux.Handle("/sessions/{id}/cancel", authenticated(http.MethodPost, deps.Sessions.Cancel))
	mux.Handle("/sessions/{id}/invoice", authenticated(http.MethodGet, deps.Sessions.Invoice))
	mux.Handle("/sessions/{id}/events", authenticated(http.MethodGet, deps.Sessions.Events))

	mux.Handle("/invoices/me", authenticated(http.MethodGet, deps.Invoices.Mine))
	mux.Handle("/invoices/{id}", authenticated(http.MethodGet, deps.Invoices.Get))
	mux.Handle("/invoices/{id}/payment", authenticated(http.MethodPost, deps.Invoices.UpdatePayment))

	mux.Handle("/internal/iot/sessions/{id}/battery",
		method(http.MethodPost, middleware.Chain(http.HandlerFunc(deps.IoT.UpdateBattery), internal, iotLimit)))

	return mux
}

func method(expected string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
