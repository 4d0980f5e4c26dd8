package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	libdb "chargehub/backend/libs/db"
	libredis "chargehub/backend/libs/redis"
	"chargehub/backend/services/charging-service/internal/allocator"
	"chargehub/backend/services/charging-service/internal/bookings"
	"chargehub/backend/services/charging-service/internal/clock"
	"chargehub/backend/services/charging-service/internal/config"
	httpserver "chargehub/backend/services/charging-service/internal/http"
	"chargehub/backend/services/charging-service/internal/http/handlers"
	"chargehub/backend/services/charging-service/internal/http/middleware"
	"chargehub/backend/services/charging-service/internal/invoices"
	"chargehub/backend/services/charging-service/internal/metrics"
	"chargehub/backend/services/charging-service/internal/notify"
	redisstore "chargehub/backend/services/charging-service/internal/redis"
	"chargehub/backend/services/charging-service/internal/repository"
	"chargehub/backend/services/charging-service/internal/repository/memory"
	"chargehub/backend/services/charging-service/internal/runtime"
	"chargehub/backend/services/charging-service/internal/scheduler"
	"chargehub/backend/services/charging-service/internal/sessions"
)

// App wires all dependencies for the charging service.
type App struct {
	server *httpserver.Server
	loops  []*scheduler.Loop
	relay  *notify.Relay
	hub    *notify.Hub
	db     *sql.DB
	redis  *goredis.Client
	logger *zap.Logger
}

// New builds the application graph.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{logger: logger}
	clk := clock.Real{}

	m, err := metrics.New(nil)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	store, err := a.openStore(ctx, cfg, clk)
	if err != nil {
		a.Close()
		return nil, err
	}

	var (
		live  *redisstore.LiveStore
		lease *redisstore.Lease
	)
	a.hub = notify.NewHub(cfg.Notify.WriteTimeout, cfg.Notify.PingInterval, m, logger)
	notifiers := notify.Multi{notify.NewLogger(logger)}
	if cfg.Redis.Enabled {
		a.redis, err = libredis.NewClient(ctx, libredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		live = redisstore.NewLiveStore(a.redis, cfg.Redis.LiveTTL)
		lease = redisstore.NewLease(a.redis)
		// Every replica receives events through the relay, including its own.
		a.relay = notify.NewRelay(a.redis, cfg.Redis.Channel, m, logger)
		notifiers = append(notifiers, a.relay)
	} else {
		notifiers = append(notifiers, a.hub)
	}

	alloc := allocator.New(store.Points, m, logger)
	emitter := invoices.NewEmitter(store, alloc, notifiers, clk, invoices.Config{
		Efficiency:            cfg.Billing.Efficiency,
		OvertimeRatePerMinute: cfg.Billing.OvertimeRatePerMinute,
	}, m, logger)

	var cache runtime.LiveCache
	var liveReader sessions.LiveReader
	if live != nil {
		cache, liveReader = live, live
	}
	rt := runtime.New(store, emitter, notifiers, cache, clk, runtime.Config{
		Efficiency:            cfg.Billing.Efficiency,
		OvertimeRatePerMinute: cfg.Billing.OvertimeRatePerMinute,
		Workers:               cfg.Scheduler.RuntimeWorkers,
		BatchSize:             cfg.Scheduler.BatchSize,
	}, m, logger)
	window := bookings.NewWindowManager(store, alloc, notifiers, clk, cfg.Scheduler.BatchSize, m, logger)

	tokens := sessions.NewTokenIssuer(cfg.Auth.ActivationSecret, cfg.Auth.ActivationTTL, cfg.Auth.BcryptCost, clk)
	sessionSvc := sessions.NewService(store, alloc, tokens, emitter, rt, liveReader, notifiers, clk, logger)
	bookingSvc := bookings.NewService(store, alloc, notifiers, clk, m, logger)
	invoiceSvc := invoices.NewService(store.Invoices, clk, logger)

	loopOpts := []scheduler.Option{scheduler.WithTimeout(cfg.Scheduler.SweepTimeout), scheduler.WithMetrics(m)}
	if cfg.Scheduler.LeaseEnabled && lease != nil {
		loopOpts = append(loopOpts, scheduler.WithLease(lease))
	}
	a.loops = []*scheduler.Loop{
		scheduler.NewLoop("booking_window", cfg.Scheduler.WindowInterval, window.Sweep, logger, loopOpts...),
		scheduler.NewLoop("session_runtime", cfg.Scheduler.RuntimeInterval, rt.Tick, logger, loopOpts...),
	}

	checks := map[string]handlers.Pinger{}
	if a.db != nil {
		checks["database"] = a.db.PingContext
	}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
	}
	deps := httpserver.RouterDeps{
		Bookings: handlers.NewBookingsHandler(bookingSvc, sessionSvc, logger),
		Sessions: handlers.NewSessionsHandler(sessionSvc, invoiceSvc, a.hub, logger),
		Invoices: handlers.NewInvoicesHandler(invoiceSvc, logger),
		IoT:      handlers.NewIoTHandler(sessionSvc, logger),
		Health:   handlers.NewHealthHandler(checks),
	}
	if cfg.Metrics.Enabled {
		deps.Metrics = m.Handler()
		deps.MetricsPath = cfg.Metrics.Path
	}
	limiter := middleware.NewKeyedLimiter(cfg.IoT.RatePerSecond, cfg.IoT.Burst, 10*time.Minute)
	router := httpserver.NewRouter(deps,
		middleware.AuthMiddleware(cfg.Auth.JWTSecret),
		middleware.InternalAuth(cfg.Auth.InternalToken),
		middleware.RateLimit(limiter, func(r *http.Request) string { return r.PathValue("id") }),
	)
	a.server = httpserver.NewServer(cfg.HTTPAddress(), router, logger,
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingMiddleware(logger),
	)
	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg *config.Config, clk clock.Clock) (*repository.Store, error) {
	if cfg.Database.Driver == config.DriverMemory {
		mem := memory.New(clk)
		if cfg.Database.SeedFile != "" {
			if err := LoadSeed(cfg.Database.SeedFile, mem); err != nil {
				return nil, err
			}
		}
		a.logger.Warn("using in-memory store, data is lost on restart")
		return mem.Repositories(), nil
	}

	db, err := libdb.NewPostgresDBWithOptions(cfg.Database.DSN, libdb.PoolOptions{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		ConnLifetime: cfg.Database.ConnMaxLife,
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	a.db = db
	if cfg.Database.Migrate {
		if err := repository.Migrate(ctx, db); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return repository.NewPostgresStore(db), nil
}

// Run starts the sweep loops, the event relay and the HTTP server, and blocks until ctx is done
// or the server fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, l := range a.loops {
		l := l
		g.Go(func() error {
			l.Start(ctx)
			return nil
		})
	}
	if a.relay != nil {
		g.Go(func() error {
			for {
				err := a.relay.Run(ctx, a.hub)
				if ctx.Err() != nil {
					return nil
				}
				a.logger.Warn("event relay stopped, resubscribing", zap.Error(err))
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(time.Second):
				}
			}
		})
	}
	g.Go(func() error {
		err := a.server.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	return g.Wait()
}

// Close releases resources.
func (a *App) Close() {
	if a.hub != nil {
		a.hub.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
}
