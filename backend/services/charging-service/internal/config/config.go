package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "chargehub/backend/libs/config"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config defines charging service configuration.
type Config struct {
	HTTP struct {
		Port string `yaml:"port" env:"CHARGING_HTTP_PORT"`
	} `yaml:"http"`
	Database struct {
		Driver       string        `yaml:"driver" env:"CHARGING_DB_DRIVER"`
		DSN          string        `yaml:"dsn" env:"CHARGING_DB_DSN"`
		MaxOpenConns int           `yaml:"maxOpenConns" env:"CHARGING_DB_MAX_OPEN_CONNS"`
		MaxIdleConns int           `yaml:"maxIdleConns" env:"CHARGING_DB_MAX_IDLE_CONNS"`
		ConnMaxLife  time.Duration `yaml:"connMaxLifetime" env:"CHARGING_DB_CONN_MAX_LIFETIME"`
		Migrate      bool          `yaml:"migrate" env:"CHARGING_DB_MIGRATE"`
		SeedFile     string        `yaml:"seedFile" env:"CHARGING_DB_SEED_FILE"`
	} `yaml:"database"`
	Redis struct {
		Enabled  bool          `yaml:"enabled" env:"CHARGING_REDIS_ENABLED"`
		Addr     string        `yaml:"addr" env:"CHARGING_REDIS_ADDR"`
		Password string        `yaml:"password" env:"CHARGING_REDIS_PASSWORD"`
		DB       int           `yaml:"db" env:"CHARGING_REDIS_DB"`
		LiveTTL  time.Duration `yaml:"liveTtl" env:"CHARGING_REDIS_LIVE_TTL"`
		Channel  string        `yaml:"channel" env:"CHARGING_REDIS_EVENTS_CHANNEL"`
	} `yaml:"redis"`
	Auth struct {
		JWTSecret        string        `yaml:"jwtSecret" env:"CHARGING_JWT_SECRET"`
		ActivationSecret string        `yaml:"activationSecret" env:"CHARGING_ACTIVATION_SECRET"`
		ActivationTTL    time.Duration `yaml:"activationTtl" env:"CHARGING_ACTIVATION_TTL"`
		BcryptCost       int           `yaml:"bcryptCost" env:"CHARGING_ACTIVATION_BCRYPT_COST"`
		InternalToken    string        `yaml:"internalToken" env:"CHARGING_INTERNAL_TOKEN"`
	} `yaml:"auth"`
	Scheduler struct {
		WindowInterval  time.Duration `yaml:"windowInterval" env:"CHARGING_WINDOW_INTERVAL"`
		RuntimeInterval time.Duration `yaml:"runtimeInterval" env:"CHARGING_RUNTIME_INTERVAL"`
		SweepTimeout    time.Duration `yaml:"sweepTimeout" env:"CHARGING_SWEEP_TIMEOUT"`
		RuntimeWorkers  int           `yaml:"runtimeWorkers" env:"CHARGING_RUNTIME_WORKERS"`
		BatchSize       int           `yaml:"batchSize" env:"CHARGING_SWEEP_BATCH_SIZE"`
		LeaseEnabled    bool          `yaml:"leaseEnabled" env:"CHARGING_SWEEP_LEASE_ENABLED"`
	} `yaml:"scheduler"`
	Billing struct {
		Efficiency            float64 `yaml:"efficiency" env:"CHARGING_EFFICIENCY"`
		OvertimeRatePerMinute int64   `yaml:"overtimeRatePerMinute" env:"CHARGING_OVERTIME_RATE_PER_MINUTE"`
	} `yaml:"billing"`
	IoT struct {
		RatePerSecond float64 `yaml:"ratePerSecond" env:"CHARGING_IOT_RATE_PER_SECOND"`
		Burst         int     `yaml:"burst" env:"CHARGING_IOT_BURST"`
	} `yaml:"iot"`
	Notify struct {
		WriteTimeout time.Duration `yaml:"writeTimeout" env:"CHARGING_WS_WRITE_TIMEOUT"`
		PingInterval time.Duration `yaml:"pingInterval" env:"CHARGING_WS_PING_INTERVAL"`
	} `yaml:"notify"`
	Log struct {
		Level    string `yaml:"level" env:"LOG_LEVEL"`
		Encoding string `yaml:"encoding" env:"LOG_ENCODING"`
	} `yaml:"log"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" env:"CHARGING_METRICS_ENABLED"`
		Path    string `yaml:"path" env:"CHARGING_METRICS_PATH"`
	} `yaml:"metrics"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	cfg := &Config{}
	cfg.HTTP.Port = "8085"
	cfg.Database.Driver = DriverPostgres
	cfg.Database.MaxOpenConns = 20
	cfg.Database.MaxIdleConns = 10
	cfg.Database.ConnMaxLife = 30 * time.Minute
	cfg.Database.Migrate = true
	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.LiveTTL = 30 * time.Second
	cfg.Redis.Channel = "charging:events"
	cfg.Auth.ActivationTTL = 15 * time.Minute
	cfg.Scheduler.WindowInterval = time.Minute
	cfg.Scheduler.RuntimeInterval = 5 * time.Second
	cfg.Scheduler.SweepTimeout = 30 * time.Second
	cfg.Scheduler.RuntimeWorkers = 8
	cfg.Scheduler.BatchSize = 500
	cfg.Billing.Efficiency = 0.90
	cfg.Billing.OvertimeRatePerMinute = 500
	cfg.IoT.RatePerSecond = 2
	cfg.IoT.Burst = 5
	cfg.Notify.WriteTimeout = 10 * time.Second
	cfg.Notify.PingInterval = 30 * time.Second
	cfg.Log.Level = "info"
	cfg.Metrics.Enabled = true
	cfg.Metrics.Path = "/metrics"
	return cfg
}

// Load configuration via shared helper.
func Load() (*Config, error) {
	return load(nil)
}

func load(lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if err := libconfig.LoadConfigWithLookup(cfg, lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		errs = append(errs, errors.New("config: jwt secret required"))
	}
	if strings.TrimSpace(c.Auth.ActivationSecret) == "" {
		errs = append(errs, errors.New("config: activation token secret required"))
	}
	switch c.Database.Driver {
	case DriverPostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			errs = append(errs, errors.New("config: database dsn required for postgres driver"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("config: unknown database driver %q", c.Database.Driver))
	}
	if c.Scheduler.LeaseEnabled && !c.Redis.Enabled {
		errs = append(errs, errors.New("config: sweep lease requires redis"))
	}
	if c.Billing.Efficiency <= 0 || c.Billing.Efficiency > 1 {
		errs = append(errs, errors.New("config: efficiency must be in (0, 1]"))
	}
	if c.Billing.OvertimeRatePerMinute < 0 {
		errs = append(errs, errors.New("config: overtime rate must not be negative"))
	}
	if c.Scheduler.WindowInterval <= 0 || c.Scheduler.RuntimeInterval <= 0 {
		errs = append(errs, errors.New("config: sweep intervals must be positive"))
	}
	return errors.Join(errs...)
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8085"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}
