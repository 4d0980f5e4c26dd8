package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"chargehub/backend/services/charging-service/internal/metrics"
)

// Sweep is one pass of a periodic job.
type Sweep func(ctx context.Context) error

// Lease guards a sweep across replicas.
type Lease interface {
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name string) error
}

// Loop runs a sweep on a fixed interval. A tick never overlaps the previous one.
type Loop struct {
	name     string
	interval time.Duration
	timeout  time.Duration
	sweep    Sweep
	lease    Lease
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// Option customises a Loop.
type Option func(*Loop)

// WithTimeout bounds a single tick. Defaults to the interval.
func WithTimeout(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithLease makes the tick run only on the replica holding the named lease.
func WithLease(lease Lease) Option {
	return func(l *Loop) { l.lease = lease }
}

// WithMetrics records tick outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// NewLoop builds loop.
func NewLoop(name string, interval time.Duration, sweep Sweep, logger *zap.Logger, opts ...Option) *Loop {
	if interval <= 0 {
		interval = time.Minute
	}
	l := &Loop{
		name:     name,
		interval: interval,
		timeout:  interval,
		sweep:    sweep,
		logger:   logger.Named("scheduler").With(zap.String("sweep", name)),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start runs the first tick immediately and then every interval until ctx is done.
func (l *Loop) Start(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Info("sweep loop started", zap.Duration("interval", l.interval))
	for {
		l.Tick(ctx)
		select {
		case <-ctx.Done():
			l.logger.Info("sweep loop stopped")
			return
		case <-ticker.C:
		}
	}
}

// Tick runs one bounded sweep. Errors are logged, never returned.
func (l *Loop) Tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	tickCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if l.lease != nil {
		held, err := l.lease.TryAcquire(tickCtx, l.name, l.timeout)
		if err != nil {
			l.logger.Warn("lease acquire failed", zap.Error(err))
			l.metrics.ObserveSweep(l.name, 0, err)
			return
		}
		if !held {
			l.metrics.SweepSkipped(l.name)
			return
		}
		defer func() {
			if err := l.lease.Release(context.Background(), l.name); err != nil {
				l.logger.Warn("lease release failed", zap.Error(err))
			}
		}()
	}

	started := time.Now()
	err := l.sweep(tickCtx)
	took := time.Since(started)
	l.metrics.ObserveSweep(l.name, took, err)
	if err != nil {
		l.logger.Error("sweep failed", zap.Duration("took", took), zap.Error(err))
		return
	}
	if took > l.interval {
		l.logger.Warn("sweep slower than interval", zap.Duration("took", took))
	}
}
