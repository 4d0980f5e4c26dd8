package runtime

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chargehub/backend/services/charging-service/internal/billing"
	"chargehub/backend/services/charging-service/internal/clock"
	"chargehub/backend/services/charging-service/internal/invoices"
	"chargehub/backend/services/charging-service/internal/metrics"
	"chargehub/backend/services/charging-service/internal/models"
	"chargehub/backend/services/charging-service/internal/notify"
	"chargehub/backend/services/charging-service/internal/repository"
)

const (
	defaultWorkers   = 8
	defaultBatchSize = 500
)

var (
	// ErrMissingCapacity marks a session with neither vehicle nor guest battery capacity.
	ErrMissingCapacity = errors.New("runtime: battery capacity unknown")
	// ErrDataIntegrity marks a session whose point or station cannot be resolved.
	ErrDataIntegrity = errors.New("runtime: session references missing point or station")
	// ErrNotInProgress rejects readings for sessions that are not charging.
	ErrNotInProgress = errors.New("runtime: session is not in progress")
	// ErrStaleReading rejects a reading below the stored battery level.
	ErrStaleReading = errors.New("runtime: battery reading below current level")
)

// LiveCache stores the latest snapshot of live sessions.
type LiveCache interface {
	Save(ctx context.Context, snap models.LiveSnapshot) error
	Delete(ctx context.Context, sessionID int64) error
}

// Completer ends a session and emits its invoice.
type Completer interface {
	Complete(ctx context.Context, c invoices.Completion) (*models.Invoice, error)
}

// Config tunes the runtime.
type Config struct {
	Efficiency            float64
	OvertimeRatePerMinute int64
	Workers               int
	BatchSize             int
}

// Runtime advances the simulated battery of every in-progress session on each tick.
type Runtime struct {
	store     *repository.Store
	completer Completer
	notifier  notify.Notifier
	cache     LiveCache
	clock     clock.Clock
	cfg       Config
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// New builds runtime. cache may be nil.
func New(store *repository.Store, completer Completer, notifier notify.Notifier, cache LiveCache, clk clock.Clock, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Runtime {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Runtime{
		store:     store,
		completer: completer,
		notifier:  notifier,
		cache:     cache,
		clock:     clk,
		cfg:       cfg,
		metrics:   m,
		logger:    logger.Named("runtime"),
	}
}

// Tick processes every in-progress session once. A failing session never stops the others.
func (r *Runtime) Tick(ctx context.Context) error {
	sessions, err := r.store.Sessions.ListInProgress(ctx, r.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list in-progress sessions: %w", err)
	}
	r.metrics.SetLiveSessions(len(sessions))
	now := r.clock.Now()

	var g errgroup.Group
	g.SetLimit(r.cfg.Workers)
	for i := range sessions {
		sess := sessions[i]
		g.Go(func() error {
			r.advance(ctx, &sess, now)
			return nil
		})
	}
	return g.Wait()
}

func (r *Runtime) advance(ctx context.Context, sess *models.Session, now time.Time) {
	log := r.logger.With(zap.Int64("session_id", sess.ID))
	if sess.BatterySource == models.BatteryReported {
		return
	}

	env, err := r.resolve(ctx, sess)
	switch {
	case errors.Is(err, ErrMissingCapacity):
		r.metrics.EntitySkipped("runtime", "missing_capacity")
		log.Warn("skipping session without battery capacity")
		return
	case errors.Is(err, ErrDataIntegrity):
		r.metrics.EntitySkipped("runtime", "data_integrity")
		log.Error("skipping session with broken references", zap.Error(err))
		return
	case err != nil:
		r.metrics.EntitySkipped("runtime", "error")
		log.Error("resolve session", zap.Error(err))
		return
	}

	proj := env.project(sess, now, r.cfg.Efficiency)
	current := math.Max(proj.Battery, sess.CurrentBattery)
	if _, err := r.settle(ctx, sess, env, current, env.energy(sess, current, proj), models.BatterySimulated, now); err != nil {
		log.Error("advance session", zap.Error(err))
	}
}

// Report applies a battery level measured by the vehicle or charger. From then on the runtime
// stops simulating the session. Readings below the stored level are rejected.
func (r *Runtime) Report(ctx context.Context, sess *models.Session, battery float64) (*models.LiveSnapshot, error) {
	if sess.Status != models.SessionInProgress {
		return nil, ErrNotInProgress
	}
	battery = billing.RoundHalfUp(billing.ClampPercent(battery), 1)
	if battery < sess.CurrentBattery {
		return nil, ErrStaleReading
	}
	env, err := r.resolve(ctx, sess)
	if err != nil && !errors.Is(err, ErrMissingCapacity) {
		return nil, err
	}
	now := r.clock.Now()
	snap, err := r.settle(ctx, sess, env, battery, env.energy(sess, battery, billing.Projection{Battery: battery}), models.BatteryReported, now)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		// Lost the conditional write: the session ended or a higher reading landed first.
		fresh, err := r.store.Sessions.Get(ctx, sess.ID)
		if err != nil {
			return nil, fmt.Errorf("reload session: %w", err)
		}
		if fresh.Status != models.SessionInProgress {
			return nil, ErrNotInProgress
		}
		return nil, ErrStaleReading
	}
	return snap, nil
}

// settle persists the level, completing the session at 100%, and publishes the resulting events.
// A nil snapshot without error means the conditional write lost to another actor.
func (r *Runtime) settle(ctx context.Context, sess *models.Session, env *environment, current, energyKWh float64, source models.BatterySource, now time.Time) (*models.LiveSnapshot, error) {
	log := r.logger.With(zap.Int64("session_id", sess.ID))

	if current >= 100 {
		full := 100.0
		inv, err := r.completer.Complete(ctx, invoices.Completion{
			SessionID:    sess.ID,
			FinalBattery: &full,
			EndTime:      now,
			Trigger:      invoices.TriggerAuto,
		})
		switch {
		case err == nil:
			log.Info("session auto-completed at full battery", zap.String("source", string(source)))
		case errors.Is(err, invoices.ErrAlreadyCompleted):
			log.Debug("session completed by another actor")
		default:
			return nil, fmt.Errorf("auto-complete session: %w", err)
		}
		r.dropSnapshot(ctx, sess.ID)

		done := *sess
		done.Status = models.SessionCompleted
		done.EndTime = &now
		done.FinalBattery = &full
		energy := energyKWh
		if inv != nil {
			energy = inv.EnergyDeliveredKWh
		}
		snap := BuildSnapshot(&done, full, energy, now, env.bookingEnd)
		return &snap, nil
	}

	ok, err := r.store.Sessions.AdvanceBattery(ctx, sess.ID, current, source)
	if err != nil {
		return nil, fmt.Errorf("persist battery: %w", err)
	}
	if !ok {
		// Completed, cancelled or overtaken by a higher reported reading since it was read.
		return nil, nil
	}

	if sess.TargetBattery < 100 && current >= sess.TargetBattery && !sess.TargetNotified {
		r.notifyTargetReached(ctx, sess, now, current)
	}

	moved := *sess
	moved.BatterySource = source
	snap := BuildSnapshot(&moved, current, energyKWh, now, env.bookingEnd)
	update := notify.BatteryUpdate{
		Session:           sess.ID,
		Initial:           snap.InitialBattery,
		Current:           snap.CurrentBattery,
		Target:            snap.TargetBattery,
		Charged:           snap.Charged,
		RemainingToTarget: snap.RemainingToTarget,
		TargetReached:     snap.TargetReached,
		At:                now,
	}
	if snap.OvertimeMinutes > 0 {
		update.OvertimeWarning = overtimeWarning(snap.OvertimeMinutes, r.cfg.OvertimeRatePerMinute)
	}
	r.notifier.Notify(ctx, update)

	if r.cache != nil {
		if err := r.cache.Save(ctx, snap); err != nil {
			log.Warn("cache live snapshot", zap.Error(err))
		}
	}
	return &snap, nil
}

func (r *Runtime) notifyTargetReached(ctx context.Context, sess *models.Session, now time.Time, current float64) {
	ok, err := r.store.Sessions.MarkTargetNotified(ctx, sess.ID)
	if err != nil {
		r.logger.Warn("mark target notified", zap.Int64("session_id", sess.ID), zap.Error(err))
		return
	}
	if !ok {
		return
	}
	r.notifier.Notify(ctx, notify.SessionStatusChange{
		Session: sess.ID,
		Status:  models.SessionInProgress,
		Message: fmt.Sprintf("Target of %.1f%% reached (now %.1f%%), you can stop charging", sess.TargetBattery, current),
		At:      now,
	})
}

func (r *Runtime) dropSnapshot(ctx context.Context, sessionID int64) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Delete(ctx, sessionID); err != nil {
		r.logger.Warn("drop live snapshot", zap.Int64("session_id", sessionID), zap.Error(err))
	}
}

func overtimeWarning(minutes, rate int64) *notify.OvertimeWarning {
	return &notify.OvertimeWarning{
		Minutes:       minutes,
		RatePerMinute: rate,
		ProjectedFee:  minutes * rate,
		Message:       fmt.Sprintf("Booking window exceeded by %d min, overtime is billed at %d per minute", minutes, rate),
	}
}
