package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chargehub"

// Metrics holds the charging-service collectors. A nil *Metrics records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	sweepDuration *prometheus.HistogramVec
	sweepRuns     *prometheus.CounterVec
	allocations   *prometheus.CounterVec
	bookings      *prometheus.CounterVec
	invoices      *prometheus.CounterVec
	invoiceAmount prometheus.Counter
	liveSessions  prometheus.Gauge
	skipped       *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

// New registers the collectors on reg. If reg is nil a fresh registry is used.
// Collectors already registered on reg are reused.
func New(reg *prometheus.Registry) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{gatherer: reg}

	var err error
	if m.sweepDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sweep_duration_seconds",
		Help:      "Duration of one scheduler sweep",
		Buckets:   prometheus.DefBuckets,
	}, []string{"sweep"})); err != nil {
		return nil, err
	}
	if m.sweepRuns, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweep_runs_total",
		Help:      "Scheduler sweeps by outcome",
	}, []string{"sweep", "result"})); err != nil {
		return nil, err
	}
	if m.allocations, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "point_allocations_total",
		Help:      "Charging point allocate/release attempts by result",
	}, []string{"op", "result"})); err != nil {
		return nil, err
	}
	if m.bookings, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "booking_transitions_total",
		Help:      "Booking status transitions applied",
	}, []string{"to"})); err != nil {
		return nil, err
	}
	if m.invoices, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "invoices_emitted_total",
		Help:      "Invoices written by trigger",
	}, []string{"trigger"})); err != nil {
		return nil, err
	}
	if m.invoiceAmount, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "invoiced_amount_total",
		Help:      "Sum of invoice totals in the smallest currency unit",
	})); err != nil {
		return nil, err
	}
	if m.liveSessions, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "live_sessions",
		Help:      "In-progress sessions seen by the last runtime sweep",
	})); err != nil {
		return nil, err
	}
	if m.skipped, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "entities_skipped_total",
		Help:      "Entities skipped inside a sweep",
	}, []string{"component", "reason"})); err != nil {
		return nil, err
	}
	if m.notifications, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Notification deliveries by channel and result",
	}, []string{"channel", "result"})); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, err
	}
	return c, nil
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveSweep records one sweep run.
func (m *Metrics) ObserveSweep(sweep string, took time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sweepDuration.WithLabelValues(sweep).Observe(took.Seconds())
	m.sweepRuns.WithLabelValues(sweep, result).Inc()
}

// SweepSkipped records a tick that did not run because another replica holds the lease.
func (m *Metrics) SweepSkipped(sweep string) {
	if m == nil {
		return
	}
	m.sweepRuns.WithLabelValues(sweep, "skipped").Inc()
}

// Allocation records an allocator outcome, e.g. ("allocate", "in_use").
func (m *Metrics) Allocation(op, result string) {
	if m == nil {
		return
	}
	m.allocations.WithLabelValues(op, result).Inc()
}

// BookingTransition records an applied booking status change.
func (m *Metrics) BookingTransition(to string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(to).Inc()
}

// InvoiceEmitted records a written invoice and its total.
func (m *Metrics) InvoiceEmitted(trigger string, total int64) {
	if m == nil {
		return
	}
	m.invoices.WithLabelValues(trigger).Inc()
	m.invoiceAmount.Add(float64(total))
}

// SetLiveSessions sets the live session gauge.
func (m *Metrics) SetLiveSessions(n int) {
	if m == nil {
		return
	}
	m.liveSessions.Set(float64(n))
}

// EntitySkipped records an entity left untouched by a sweep.
func (m *Metrics) EntitySkipped(component, reason string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(component, reason).Inc()
}

// Notification records an event delivery attempt.
func (m *Metrics) Notification(channel, result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(channel, result).Inc()
}
