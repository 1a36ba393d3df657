package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/seat-engine/reservation"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "seat-engine", cfg.App.Name)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Equal(t, time.Second, cfg.Outbox.PollInterval)
	assert.Equal(t, 10, cfg.Outbox.MaxAttempts)
	assert.Equal(t, 15*time.Second, cfg.OTel.MetricInterval)
	assert.Equal(t, 30, cfg.Catalog.OpenDays)

	want := reservation.DefaultConfig()
	got := cfg.Engine()
	assert.Equal(t, want.MaxPassengers, got.MaxPassengers)
	assert.Equal(t, want.MaxAttempts, got.MaxAttempts)
	assert.Equal(t, want.RetryBaseDelay, got.RetryBaseDelay)
	assert.Equal(t, want.RetryMaxDelay, got.RetryMaxDelay)
	assert.Equal(t, want.Refund.LateWindow, got.Refund.LateWindow)
	assert.True(t, want.Refund.LateChargePct.Equal(got.Refund.LateChargePct))
	assert.True(t, want.Refund.StandardChargePct.Equal(got.Refund.StandardChargePct))
}

func TestLoad_FileAndEnv(t *testing.T) {
	// GIVEN: A yaml file and env overrides for some of the same keys
	// WHEN: Config is loaded
	// THEN: Env wins over the file, the file wins over defaults

	path := filepath.Join(t.TempDir(), "seat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
database:
  driver: postgres
  dsn: postgres://file
booking:
  max_passengers: 4
refund:
  late_charge_pct: 50
`), 0o600))

	t.Setenv("SEAT_DATABASE_DSN", "postgres://env")
	t.Setenv("SEAT_KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("SEAT_BOOKING_RETRY_BASE_DELAY", "5ms")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://env", cfg.Database.DSN)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)

	eng := cfg.Engine()
	assert.Equal(t, 4, eng.MaxPassengers)
	assert.Equal(t, 5*time.Millisecond, eng.RetryBaseDelay)
	assert.Equal(t, "50", eng.Refund.LateChargePct.String())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"bad driver", func(c *Config) { c.Database.Driver = "oracle" }, "oracle"},
		{"no dsn", func(c *Config) { c.Database.DSN = "" }, "dsn is required"},
		{"no passengers", func(c *Config) { c.Booking.MaxPassengers = 0 }, "max_passengers"},
		{"pct range", func(c *Config) { c.Refund.LateChargePct = 120 }, "late_charge_pct must be within"},
		{"pct order", func(c *Config) { c.Refund.LateChargePct = 5 }, "must not be below"},
		{"batch", func(c *Config) { c.Outbox.BatchSize = 0 }, "batch_size"},
		{"outbox attempts", func(c *Config) { c.Outbox.MaxAttempts = 0 }, "outbox.max_attempts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
