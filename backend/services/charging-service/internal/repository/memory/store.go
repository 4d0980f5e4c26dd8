// Package memory is an in-process implementation of the repository interfaces used for local runs
// and tests. Every conditional update holds one mutex, so it has the same compare-and-swap semantics
// as the Postgres statements. Transactions are serialized but never rolled back.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"chargehub/backend/services/charging-service/internal/clock"
	"chargehub/backend/services/charging-service/internal/models"
	"chargehub/backend/services/charging-service/internal/repository"
)

// ErrLiveSessionOnPoint mirrors the unique index allowing one in-progress session per point.
var ErrLiveSessionOnPoint = errors.New("memory: point already backs an in-progress session")

type subscription struct {
	vehicleID  int64
	discount   float64
	validFrom  time.Time
	validUntil time.Time
	active     bool
}

// Store keeps every entity in maps guarded by a single mutex.
type Store struct {
	mu    sync.Mutex
	txMu  sync.Mutex
	clock clock.Clock
	seq   int64

	bookings      map[int64]*models.Booking
	points        map[int64]*models.ChargingPoint
	sessions      map[int64]*models.Session
	invoices      map[int64]*models.Invoice
	stations      map[int64]*models.StationProfile
	vehicles      map[int64]*models.VehicleProfile
	subscriptions []subscription
}

// New returns an empty store stamping rows with clk.
func New(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Store{
		clock:    clk,
		bookings: make(map[int64]*models.Booking),
		points:   make(map[int64]*models.ChargingPoint),
		sessions: make(map[int64]*models.Session),
		invoices: make(map[int64]*models.Invoice),
		stations: make(map[int64]*models.StationProfile),
		vehicles: make(map[int64]*models.VehicleProfile),
	}
}

// Repositories exposes the store through the repository interfaces.
func (s *Store) Repositories() *repository.Store {
	return &repository.Store{
		Tx:       txRunner{mu: &s.txMu},
		Bookings: bookingRepo{s},
		Points:   pointRepo{s},
		Sessions: sessionRepo{s},
		Invoices: invoiceRepo{s},
		Catalog:  catalogRepo{s},
	}
}

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

// AddStation seeds a station. A zero ID is assigned.
func (s *Store) AddStation(st models.StationProfile) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.ID == 0 {
		st.ID = s.nextID()
	}
	s.stations[st.ID] = &st
	return st.ID
}

// AddVehicle seeds a vehicle. A zero ID is assigned.
func (s *Store) AddVehicle(v models.VehicleProfile) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.ID == 0 {
		v.ID = s.nextID()
	}
	s.vehicles[v.ID] = &v
	return v.ID
}

// AddPoint seeds a charging point; an empty status means available.
func (s *Store) AddPoint(p models.ChargingPoint) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.nextID()
	}
	if p.Status == "" {
		p.Status = models.PointAvailable
	}
	s.points[p.ID] = clonePoint(&p)
	return p.ID
}

// AddSubscription seeds an active subscription discount for a vehicle.
func (s *Store) AddSubscription(vehicleID int64, discount float64, validFrom, validUntil time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions = append(s.subscriptions, subscription{
		vehicleID:  vehicleID,
		discount:   discount,
		validFrom:  validFrom,
		validUntil: validUntil,
		active:     true,
	})
}

// SetPointStatus forces a point status, e.g. to put it under maintenance.
func (s *Store) SetPointStatus(id int64, status models.PointStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.points[id]; ok {
		p.Status = status
		if status != models.PointInUse {
			p.CurrentSessionID = nil
		}
	}
}

// Invoices returns every stored invoice ordered by id.
func (s *Store) Invoices() []models.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Invoice, 0, len(s.invoices))
	for _, inv := range s.invoices {
		out = append(out, *cloneInvoice(inv))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type txKey struct{}

// txRunner serializes transactions so their writes appear together to other transactions.
// Nested calls run inline.
type txRunner struct {
	mu *sync.Mutex
}

func (r txRunner) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(context.WithValue(ctx, txKey{}, struct{}{}))
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func clonePoint(p *models.ChargingPoint) *models.ChargingPoint {
	c := *p
	c.CurrentSessionID = cloneInt64(p.CurrentSessionID)
	return &c
}

func cloneSession(s *models.Session) *models.Session {
	c := *s
	c.BookingID = cloneInt64(s.BookingID)
	c.VehicleID = cloneInt64(s.VehicleID)
	c.GuestBatteryKWh = cloneFloat(s.GuestBatteryKWh)
	c.StartTime = cloneTime(s.StartTime)
	c.EndTime = cloneTime(s.EndTime)
	c.FinalBattery = cloneFloat(s.FinalBattery)
	return &c
}

func cloneInvoice(inv *models.Invoice) *models.Invoice {
	c := *inv
	c.BookingID = cloneInt64(inv.BookingID)
	c.VehicleID = cloneInt64(inv.VehicleID)
	c.PaidAt = cloneTime(inv.PaidAt)
	return &c
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 500
	}
	return limit
}
