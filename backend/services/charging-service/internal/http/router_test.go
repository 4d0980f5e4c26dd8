package httpserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"chargehub/backend/services/charging-service/internal/allocator"
	"chargehub/backend/services/charging-service/internal/billing"
	"chargehub/backend/services/charging-service/internal/bookings"
	"chargehub/backend/services/charging-service/internal/clock"
	"chargehub/backend/services/charging-service/internal/http/handlers"
	"chargehub/backend/services/charging-service/internal/http/middleware"
	"chargehub/backend/services/charging-service/internal/invoices"
	"chargehub/backend/services/charging-service/internal/models"
	"chargehub/backend/services/charging-service/internal/notify"
	"chargehub/backend/services/charging-service/internal/repository/memory"
	"chargehub/backend/services/charging-service/internal/runtime"
	"chargehub/backend/services/charging-service/internal/sessions"
)

const (
	jwtSecret     = "router-secret"
	internalToken = "device-token"
)

var t0 = time.Date(2025, 8, 4, 8, 0, 0, 0, time.UTC)

type testServer struct {
	t       *testing.T
	handler http.Handler
	clock   *clock.Manual
	mem     *memory.Store
	vehicle int64
	point   int64
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	clk := clock.NewManual(t0)
	mem := memory.New(clk)
	repos := mem.Repositories()
	station := mem.AddStation(models.StationProfile{Name: "Depot", PowerCapacityKW: 50, PricePerKWh: 3000, BaseFee: 10000})
	ts := &testServer{t: t, clock: clk, mem: mem}
	ts.vehicle = mem.AddVehicle(models.VehicleProfile{UserID: 1, BatteryCapacityKWh: 40})
	ts.point = mem.AddPoint(models.ChargingPoint{StationID: station, ConnectorType: "CCS2"})

	logger := zap.NewNop()
	notifier := notify.NewLogger(logger)
	alloc := allocator.New(repos.Points, nil, logger)
	cfg := invoices.Config{Efficiency: billing.DefaultEfficiency, OvertimeRatePerMinute: 500}
	emitter := invoices.NewEmitter(repos, alloc, notifier, clk, cfg, nil, logger)
	rt := runtime.New(repos, emitter, notifier, nil, clk,
		runtime.Config{Efficiency: cfg.Efficiency, OvertimeRatePerMinute: cfg.OvertimeRatePerMinute}, nil, logger)
	tokens := sessions.NewTokenIssuer("activation-secret", 10*time.Minute, bcrypt.MinCost, clk)
	sessionSvc := sessions.NewService(repos, alloc, tokens, emitter, rt, nil, notifier, clk, logger)
	bookingSvc := bookings.NewService(repos, alloc, notifier, clk, nil, logger)
	invoiceSvc := invoices.NewService(repos.Invoices, clk, logger)

	limiter := middleware.NewKeyedLimiter(100, 100, time.Minute)
	ts.handler = NewRouter(RouterDeps{
		Bookings: handlers.NewBookingsHandler(bookingSvc, sessionSvc, logger),
		Sessions: handlers.NewSessionsHandler(sessionSvc, invoiceSvc, nil, logger),
		Invoices: handlers.NewInvoicesHandler(invoiceSvc, logger),
		IoT:      handlers.NewIoTHandler(sessionSvc, logger),
		Health:   handlers.NewHealthHandler(nil),
	},
		middleware.AuthMiddleware(jwtSecret),
		middleware.InternalAuth(internalToken),
		middleware.RateLimit(limiter, func(r *http.Request) string { return r.PathValue("id") }),
	)
	return ts
}

func bearer(t *testing.T, userID int64) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": userID}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return "Bearer " + tok
}

// do sends a request as userID (0 means anonymous) and decodes the JSON reply into out when set.
func (ts *testServer) do(method, path string, userID int64, body interface{}, out interface{}) int {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != 0 {
		req.Header.Set("Authorization", bearer(ts.t, userID))
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		require.NoError(ts.t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func (ts *testServer) device(sessionID int64, token string, battery float64) *httptest.ResponseRecorder {
	ts.t.Helper()
	body := bytes.NewBufferString(fmt.Sprintf(`{"battery_percentage":%v}`, battery))
	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/internal/iot/sessions/%d/battery", sessionID), body)
	if token != "" {
		req.Header.Set(middleware.InternalTokenHeader, token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func TestBookedChargingFlow(t *testing.T) {
	ts := newTestServer(t)

	var booking models.Booking
	code := ts.do(http.MethodPost, "/bookings", 1, map[string]interface{}{
		"vehicle_id":        ts.vehicle,
		"charging_point_id": ts.point,
		"start_time":        t0.Add(time.Hour),
		"end_time":          t0.Add(3 * time.Hour),
	}, &booking)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, models.BookingPending, booking.Status)

	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, fmt.Sprintf("/bookings/%d/confirm", booking.ID), 1, nil, &booking))
	assert.Equal(t, models.BookingConfirmed, booking.Status)

	ts.clock.Advance(time.Hour)
	var token sessions.ActivationToken
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, fmt.Sprintf("/bookings/%d/activation-token", booking.ID), 1, nil, &token))
	require.NotEmpty(t, token.Token)

	var sess models.Session
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/sessions/start", 1, map[string]interface{}{
		"token":                      token.Token,
		"initial_battery_percentage": 20,
		"target_battery_percentage":  80,
	}, &sess))
	assert.Equal(t, models.SessionInProgress, sess.Status)
	assert.Equal(t, token.SessionID, sess.ID)

	assert.Equal(t, http.StatusUnauthorized, ts.device(sess.ID, "", 50).Code)
	assert.Equal(t, http.StatusUnauthorized, ts.device(sess.ID, "wrong", 50).Code)
	rec := ts.device(sess.ID, internalToken, 50)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var live models.LiveSnapshot
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, fmt.Sprintf("/sessions/%d/live", sess.ID), 1, nil, &live))
	assert.Equal(t, models.BatteryReported, live.BatterySource)
	assert.Equal(t, 50.0, live.CurrentBattery)

	var inv models.Invoice
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, fmt.Sprintf("/sessions/%d/end", sess.ID), 1,
		map[string]interface{}{"final_battery_percentage": 50}, &inv))
	assert.Equal(t, 12.0, inv.EnergyDeliveredKWh)
	assert.Equal(t, int64(46000), inv.TotalAmount)
	assert.Equal(t, models.PaymentUnpaid, inv.PaymentStatus)

	var again models.Invoice
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, fmt.Sprintf("/sessions/%d/end", sess.ID), 1, nil, &again))
	assert.Equal(t, inv.ID, again.ID)

	var bySession models.Invoice
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, fmt.Sprintf("/sessions/%d/invoice", sess.ID), 1, nil, &bySession))
	assert.Equal(t, inv.Number, bySession.Number)

	var mine struct {
		Invoices []models.Invoice `json:"invoices"`
	}
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/invoices/me?limit=10", 1, nil, &mine))
	require.Len(t, mine.Invoices, 1)

	var paid models.Invoice
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, fmt.Sprintf("/invoices/%d/payment", inv.ID), 1,
		map[string]string{"payment_status": "paid", "payment_reference": "PAY-1"}, &paid))
	assert.Equal(t, models.PaymentPaid, paid.PaymentStatus)
	assert.Equal(t, http.StatusConflict, ts.do(http.MethodPost, fmt.Sprintf("/invoices/%d/payment", inv.ID), 1,
		map[string]string{"payment_status": "cancelled"}, nil))

	var finished models.Booking
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, fmt.Sprintf("/bookings/%d", booking.ID), 1, nil, &finished))
	assert.Equal(t, models.BookingCompleted, finished.Status)

	assert.Equal(t, http.StatusConflict, ts.device(sess.ID, internalToken, 60).Code)
}

func TestWalkInAndCancelFlow(t *testing.T) {
	ts := newTestServer(t)

	var sess models.Session
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/sessions/walk-in", 5, map[string]interface{}{
		"charging_point_id":          ts.point,
		"guest_battery_capacity_kwh": 60,
		"initial_battery_percentage": 40,
	}, &sess))
	assert.Equal(t, models.SessionInProgress, sess.Status)

	assert.Equal(t, http.StatusConflict, ts.do(http.MethodPost, "/sessions/walk-in", 6, map[string]interface{}{
		"charging_point_id":          ts.point,
		"guest_battery_capacity_kwh": 60,
		"initial_battery_percentage": 10,
	}, nil))

	var cancelled models.Session
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, fmt.Sprintf("/sessions/%d/cancel", sess.ID), 5, nil, &cancelled))
	assert.Equal(t, models.SessionCancelled, cancelled.Status)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, fmt.Sprintf("/sessions/%d/invoice", sess.ID), 5, nil, nil))
	assert.Equal(t, http.StatusConflict, ts.do(http.MethodPost, fmt.Sprintf("/sessions/%d/end", sess.ID), 5, nil, nil))
}

func TestRouterRejections(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		name   string
		method string
		path   string
		user   int64
		body   interface{}
		status int
	}{
		{"anonymous", http.MethodGet, "/invoices/me", 0, nil, http.StatusUnauthorized},
		{"wrong method", http.MethodGet, "/sessions/start", 1, nil, http.StatusMethodNotAllowed},
		{"bad id", http.MethodGet, "/sessions/abc", 1, nil, http.StatusBadRequest},
		{"unknown session", http.MethodGet, "/sessions/999", 1, nil, http.StatusNotFound},
		{"bad limit", http.MethodGet, "/invoices/me?limit=0", 1, nil, http.StatusBadRequest},
		{"booking fields missing", http.MethodPost, "/bookings", 1, map[string]int{"vehicle_id": 1}, http.StatusBadRequest},
		{"window inverted", http.MethodPost, "/bookings", 1, map[string]interface{}{
			"vehicle_id": ts.vehicle, "charging_point_id": ts.point,
			"start_time": t0.Add(2 * time.Hour), "end_time": t0.Add(time.Hour),
		}, http.StatusBadRequest},
		{"foreign vehicle", http.MethodPost, "/bookings", 2, map[string]interface{}{
			"vehicle_id": ts.vehicle, "charging_point_id": ts.point,
			"start_time": t0.Add(time.Hour), "end_time": t0.Add(2 * time.Hour),
		}, http.StatusForbidden},
		{"garbage token", http.MethodPost, "/sessions/start", 1, map[string]interface{}{
			"token": "nope", "initial_battery_percentage": 20,
		}, http.StatusUnauthorized},
		{"bad payment status", http.MethodPost, "/invoices/1/payment", 1, map[string]string{"payment_status": "unpaid"}, http.StatusBadRequest},
		{"walk-in without capacity", http.MethodPost, "/sessions/walk-in", 1, map[string]interface{}{
			"charging_point_id": ts.point, "initial_battery_percentage": 20,
		}, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.status, ts.do(tc.method, tc.path, tc.user, tc.body, nil))
		})
	}
}

func TestForeignUserCannotSeeSession(t *testing.T) {
	ts := newTestServer(t)
	var sess models.Session
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/sessions/walk-in", 1, map[string]interface{}{
		"charging_point_id":          ts.point,
		"vehicle_id":                 ts.vehicle,
		"initial_battery_percentage": 30,
	}, &sess))

	for _, path := range []string{"/sessions/%d", "/sessions/%d/live", "/sessions/%d/events"} {
		assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, fmt.Sprintf(path, sess.ID), 2, nil, nil), path)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	h := NewRouter(RouterDeps{
		Bookings: &handlers.BookingsHandler{},
		Sessions: &handlers.SessionsHandler{},
		Invoices: &handlers.InvoicesHandler{},
		IoT:      &handlers.IoTHandler{},
		Health:   handlers.NewHealthHandler(nil),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("charging_up 1\n"))
		}),
		MetricsPath: "/internal/metrics",
	}, passthrough, passthrough, passthrough)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/internal/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "charging_up")
}

func passthrough(next http.Handler) http.Handler { return next }
