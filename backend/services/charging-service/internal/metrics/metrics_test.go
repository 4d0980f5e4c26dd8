package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepOutcomes(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.ObserveSweep("window", 20*time.Millisecond, nil)
	m.ObserveSweep("window", 20*time.Millisecond, errors.New("boom"))
	m.SweepSkipped("runtime")

	expected := `
# HELP chargehub_sweep_runs_total Scheduler sweeps by outcome
# TYPE chargehub_sweep_runs_total counter
chargehub_sweep_runs_total{result="error",sweep="window"} 1
chargehub_sweep_runs_total{result="ok",sweep="window"} 1
chargehub_sweep_runs_total{result="skipped",sweep="runtime"} 1
`
	assert.NoError(t, testutil.CollectAndCompare(m.sweepRuns, strings.NewReader(expected)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.sweepDuration))
}

func TestInvoiceAndAllocationCounters(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)

	m.InvoiceEmitted("auto", 135000)
	m.InvoiceEmitted("manual", 5000)
	m.Allocation("allocate", "in_use")
	m.SetLiveSessions(3)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.invoices.WithLabelValues("auto")))
	assert.Equal(t, float64(140000), testutil.ToFloat64(m.invoiceAmount))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.allocations.WithLabelValues("allocate", "in_use")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.liveSessions))
}

func TestRegisteringTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := New(reg)
	require.NoError(t, err)
	b, err := New(reg)
	require.NoError(t, err)

	a.BookingTransition("active")
	b.BookingTransition("active")
	assert.Equal(t, float64(2), testutil.ToFloat64(b.bookings.WithLabelValues("active")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveSweep("window", time.Second, nil)
	m.EntitySkipped("runtime", "missing_capacity")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerExposesMetrics(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)
	m.Notification("ws", "delivered")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `chargehub_notifications_total{channel="ws",result="delivered"} 1`)
}
