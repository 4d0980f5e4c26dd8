package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestLoadDefaultsWithSecrets(t *testing.T) {
	cfg, err := load(env(map[string]string{
		"CHARGING_JWT_SECRET":        "jwt",
		"CHARGING_ACTIVATION_SECRET": "act",
		"CHARGING_DB_DRIVER":         "memory",
	}))
	require.NoError(t, err)
	assert.Equal(t, ":8085", cfg.HTTPAddress())
	assert.Equal(t, time.Minute, cfg.Scheduler.WindowInterval)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.RuntimeInterval)
	assert.Equal(t, 0.90, cfg.Billing.Efficiency)
	assert.Equal(t, int64(500), cfg.Billing.OvertimeRatePerMinute)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoadFileThenEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "charging.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  port: "9000"
database:
  driver: postgres
  dsn: postgres://file
auth:
  jwtSecret: from-file
  activationSecret: act
scheduler:
  runtimeInterval: 2s
billing:
  overtimeRatePerMinute: 700
`), 0o600))

	cfg, err := load(env(map[string]string{
		"CONFIG_FILE":              path,
		"CHARGING_DB_DSN":          "postgres://env",
		"CHARGING_WINDOW_INTERVAL": "90",
		"CHARGING_EFFICIENCY":      "0.85",
		"CHARGING_ACTIVATION_TTL":  "5m",
		"CHARGING_RUNTIME_WORKERS": "3",
		"CHARGING_METRICS_ENABLED": "false",
	}))
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.HTTPAddress())
	assert.Equal(t, "postgres://env", cfg.Database.DSN)
	assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
	assert.Equal(t, 2*time.Second, cfg.Scheduler.RuntimeInterval)
	assert.Equal(t, 90*time.Second, cfg.Scheduler.WindowInterval)
	assert.Equal(t, 0.85, cfg.Billing.Efficiency)
	assert.Equal(t, int64(700), cfg.Billing.OvertimeRatePerMinute)
	assert.Equal(t, 5*time.Minute, cfg.Auth.ActivationTTL)
	assert.Equal(t, 3, cfg.Scheduler.RuntimeWorkers)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid memory", func(c *Config) {}, true},
		{"missing jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }, false},
		{"missing activation secret", func(c *Config) { c.Auth.ActivationSecret = " " }, false},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = DriverPostgres }, false},
		{"unknown driver", func(c *Config) { c.Database.Driver = "sqlite" }, false},
		{"lease without redis", func(c *Config) { c.Scheduler.LeaseEnabled = true }, false},
		{"lease with redis", func(c *Config) { c.Scheduler.LeaseEnabled = true; c.Redis.Enabled = true }, true},
		{"efficiency above one", func(c *Config) { c.Billing.Efficiency = 1.2 }, false},
		{"zero interval", func(c *Config) { c.Scheduler.RuntimeInterval = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Database.Driver = DriverMemory
			cfg.Auth.JWTSecret = "jwt"
			cfg.Auth.ActivationSecret = "act"
			tt.mutate(cfg)
			if tt.ok {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}
