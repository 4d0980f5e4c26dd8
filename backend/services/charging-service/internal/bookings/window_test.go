package bookings

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chargehub/backend/services/charging-service/internal/allocator"
	"chargehub/backend/services/charging-service/internal/clock"
	"chargehub/backend/services/charging-service/internal/models"
	"chargehub/backend/services/charging-service/internal/notify"
	"chargehub/backend/services/charging-service/internal/repository"
	"chargehub/backend/services/charging-service/internal/repository/memory"
)

var t0 = time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	mem      *memory.Store
	repos    *repository.Store
	clock    *clock.Manual
	recorder *notify.Recorder
	window   *WindowManager
	service  *Service
	station  int64
	vehicle  int64
	point    int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewManual(t0)
	mem := memory.New(clk)
	repos := mem.Repositories()
	f := &fixture{mem: mem, repos: repos, clock: clk, recorder: &notify.Recorder{}}
	f.station = mem.AddStation(models.StationProfile{Name: "Central", PowerCapacityKW: 50, PricePerKWh: 3000, BaseFee: 10000})
	f.vehicle = mem.AddVehicle(models.VehicleProfile{UserID: 1, BatteryCapacityKWh: 40})
	f.point = mem.AddPoint(models.ChargingPoint{StationID: f.station, ConnectorType: "CCS2"})
	alloc := allocator.New(repos.Points, nil, zap.NewNop())
	f.window = NewWindowManager(repos, alloc, f.recorder, clk, 100, nil, zap.NewNop())
	f.service = NewService(repos, alloc, f.recorder, clk, nil, zap.NewNop())
	return f
}

func (f *fixture) booking(t *testing.T, start, end time.Time, status models.BookingStatus) *models.Booking {
	t.Helper()
	b := &models.Booking{UserID: 1, StationID: f.station, VehicleID: f.vehicle, ChargingPointID: f.point,
		StartTime: start, EndTime: end, Status: status}
	require.NoError(t, f.repos.Bookings.Create(context.Background(), b))
	return b
}

func (f *fixture) bookingStatus(t *testing.T, id int64) models.BookingStatus {
	t.Helper()
	b, err := f.repos.Bookings.Get(context.Background(), id)
	require.NoError(t, err)
	return b.Status
}

func (f *fixture) pointState(t *testing.T) *models.ChargingPoint {
	t.Helper()
	p, err := f.repos.Points.Get(context.Background(), f.point)
	require.NoError(t, err)
	return p
}

func TestSweepActivatesDueBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.booking(t, t0.Add(-5*time.Minute), t0.Add(time.Hour), models.BookingConfirmed)

	require.NoError(t, f.window.Sweep(ctx))

	assert.Equal(t, models.BookingActive, f.bookingStatus(t, b.ID))
	p := f.pointState(t)
	assert.Equal(t, models.PointInUse, p.Status)

	sess, err := f.repos.Sessions.FindOpenByBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionPending, sess.Status)
	assert.Equal(t, int64(10000), sess.BaseFee)
	assert.Equal(t, int64(3000), sess.PricePerKWh)
	require.NotNil(t, p.CurrentSessionID)
	assert.Equal(t, sess.ID, *p.CurrentSessionID)

	// A second sweep neither duplicates the session nor changes the hold.
	require.NoError(t, f.window.Sweep(ctx))
	again, err := f.repos.Sessions.FindOpenByBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, again.ID)
}

func TestSweepLeavesBookingConfirmedWhenPointInMaintenance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.booking(t, t0.Add(-5*time.Minute), t0.Add(time.Hour), models.BookingConfirmed)
	f.mem.SetPointStatus(f.point, models.PointMaintenance)

	require.NoError(t, f.window.Sweep(ctx))

	assert.Equal(t, models.BookingConfirmed, f.bookingStatus(t, b.ID))
	assert.Equal(t, models.PointMaintenance, f.pointState(t).Status)

	// Once the point is back the next sweep activates it.
	f.mem.SetPointStatus(f.point, models.PointAvailable)
	require.NoError(t, f.window.Sweep(ctx))
	assert.Equal(t, models.BookingActive, f.bookingStatus(t, b.ID))
}

func TestSweepIgnoresFutureAndPendingBookings(t *testing.T) {
	f := newFixture(t)
	future := f.booking(t, t0.Add(time.Hour), t0.Add(2*time.Hour), models.BookingConfirmed)
	pending := f.booking(t, t0.Add(-time.Hour), t0.Add(30*time.Minute), models.BookingPending)

	require.NoError(t, f.window.Sweep(context.Background()))

	assert.Equal(t, models.BookingConfirmed, f.bookingStatus(t, future.ID))
	assert.Equal(t, models.BookingPending, f.bookingStatus(t, pending.ID))
	assert.Equal(t, models.PointAvailable, f.pointState(t).Status)
}

func TestSweepExpiresActiveBookingWithoutCharging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.booking(t, t0, t0.Add(30*time.Minute), models.BookingConfirmed)

	require.NoError(t, f.window.Sweep(ctx))
	require.Equal(t, models.BookingActive, f.bookingStatus(t, b.ID))
	sess, err := f.repos.Sessions.FindOpenByBooking(ctx, b.ID)
	require.NoError(t, err)

	f.clock.Advance(31 * time.Minute)
	require.NoError(t, f.window.Sweep(ctx))

	assert.Equal(t, models.BookingExpired, f.bookingStatus(t, b.ID))
	p := f.pointState(t)
	assert.Equal(t, models.PointAvailable, p.Status)
	assert.Nil(t, p.CurrentSessionID)

	cancelled, err := f.repos.Sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCancelled, cancelled.Status)

	changes := f.recorder.StatusChanges(sess.ID)
	require.Len(t, changes, 1)
	assert.Equal(t, models.SessionCancelled, changes[0].Status)
}

func TestSweepExpiresConfirmedBookingThatNeverActivated(t *testing.T) {
	f := newFixture(t)
	b := f.booking(t, t0.Add(-2*time.Hour), t0.Add(-time.Hour), models.BookingConfirmed)

	require.NoError(t, f.window.Sweep(context.Background()))

	assert.Equal(t, models.BookingExpired, f.bookingStatus(t, b.ID))
	assert.Equal(t, models.PointAvailable, f.pointState(t).Status)
	_, err := f.repos.Sessions.FindOpenByBooking(context.Background(), b.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSweepKeepsBookingWithChargingSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.booking(t, t0, t0.Add(30*time.Minute), models.BookingConfirmed)
	require.NoError(t, f.window.Sweep(ctx))

	sess, err := f.repos.Sessions.FindOpenByBooking(ctx, b.ID)
	require.NoError(t, err)
	ok, err := f.repos.Sessions.Start(ctx, sess.ID, "", models.SessionStart{StartTime: t0, InitialBattery: 20, TargetBattery: 80})
	require.NoError(t, err)
	require.True(t, ok)

	f.clock.Advance(45 * time.Minute)
	require.NoError(t, f.window.Sweep(ctx))

	assert.Equal(t, models.BookingActive, f.bookingStatus(t, b.ID))
	assert.Equal(t, models.PointInUse, f.pointState(t).Status)
	live, err := f.repos.Sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionInProgress, live.Status)
}

func TestCloseSessionLeavesStartedSessionAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.booking(t, t0, t0.Add(30*time.Minute), models.BookingConfirmed)
	require.NoError(t, f.window.Sweep(ctx))

	stale, err := OpenSession(ctx, f.repos, b)
	require.NoError(t, err)
	require.Equal(t, models.SessionPending, stale.Status)
	ok, err := f.repos.Sessions.Start(ctx, stale.ID, "", models.SessionStart{StartTime: t0, InitialBattery: 20, TargetBattery: 80})
	require.NoError(t, err)
	require.True(t, ok)

	alloc := allocator.New(f.repos.Points, nil, zap.NewNop())
	closed, err := CloseSession(ctx, f.repos, alloc, stale, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, closed)

	live, err := f.repos.Sessions.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionInProgress, live.Status)
	assert.Nil(t, live.EndTime)
	p := f.pointState(t)
	assert.Equal(t, models.PointInUse, p.Status)
	require.NotNil(t, p.CurrentSessionID)
	assert.Equal(t, stale.ID, *p.CurrentSessionID)

	f.clock.Advance(31 * time.Minute)
	require.NoError(t, f.window.Sweep(ctx))
	assert.Equal(t, models.BookingActive, f.bookingStatus(t, b.ID))
	assert.Empty(t, f.recorder.StatusChanges(stale.ID))
}

func TestCloseSessionCancelsPendingSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.booking(t, t0, t0.Add(30*time.Minute), models.BookingConfirmed)
	require.NoError(t, f.window.Sweep(ctx))
	sess, err := OpenSession(ctx, f.repos, b)
	require.NoError(t, err)

	alloc := allocator.New(f.repos.Points, nil, zap.NewNop())
	closed, err := CloseSession(ctx, f.repos, alloc, sess, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, closed)
	assert.Equal(t, models.PointAvailable, f.pointState(t).Status)

	closed, err = CloseSession(ctx, f.repos, alloc, sess, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, closed)
}

func TestSweepHandlesMixedBookings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	second := f.mem.AddPoint(models.ChargingPoint{StationID: f.station})
	stale := f.booking(t, t0.Add(-2*time.Hour), t0.Add(-time.Minute), models.BookingConfirmed)
	due := &models.Booking{UserID: 1, StationID: f.station, VehicleID: f.vehicle, ChargingPointID: second,
		StartTime: t0, EndTime: t0.Add(time.Hour), Status: models.BookingConfirmed}
	require.NoError(t, f.repos.Bookings.Create(ctx, due))

	require.NoError(t, f.window.Sweep(ctx))

	assert.Equal(t, models.BookingExpired, f.bookingStatus(t, stale.ID))
	assert.Equal(t, models.BookingActive, f.bookingStatus(t, due.ID))
	assert.Equal(t, models.PointAvailable, f.pointState(t).Status)
}
