// Package config loads service configuration from an optional file and
// SEAT_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/warp/seat-engine/reservation"
	"github.com/warp/seat-engine/store/sqlstore"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Booking  BookingConfig  `mapstructure:"booking"`
	Refund   RefundConfig   `mapstructure:"refund"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Outbox   OutboxConfig   `mapstructure:"outbox"`
	OTel     OTelConfig     `mapstructure:"otel"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	Debug       bool   `mapstructure:"debug"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // sqlite3, postgres, mysql
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type BookingConfig struct {
	MaxPassengers  int           `mapstructure:"max_passengers"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
	PNRAttempts    int           `mapstructure:"pnr_attempts"`
}

type RefundConfig struct {
	LateWindow        time.Duration `mapstructure:"late_window"`
	LateChargePct     float64       `mapstructure:"late_charge_pct"`
	StandardChargePct float64       `mapstructure:"standard_charge_pct"`
}

// RedisConfig enables idempotent booking requests. Empty Addr disables them.
type RedisConfig struct {
	Addr           string        `mapstructure:"addr"`
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db"`
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
}

// KafkaConfig selects the event publisher. Without brokers events are logged.
type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	ClientID string   `mapstructure:"client_id"`
	Topic    string   `mapstructure:"topic"`
}

type OutboxConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

type OTelConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	ServiceName    string        `mapstructure:"service_name"`
	CollectorAddr  string        `mapstructure:"collector_addr"`
	MetricInterval time.Duration `mapstructure:"metric_interval"`
}

type CatalogConfig struct {
	Path        string `mapstructure:"path"` // empty: embedded default catalog
	SeedOnStart bool   `mapstructure:"seed_on_start"`
	OpenDays    int    `mapstructure:"open_days"` // runs opened ahead at startup
}

// Load reads path (yaml, json, toml or .env; optional) and the environment.
// SEAT_DATABASE_DSN overrides database.dsn.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SEAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to bind config: %w", err)
	}
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "seat-engine")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "./data/seats.db")
	v.SetDefault("database.max_open_conns", 25)

	d := reservation.DefaultConfig()
	v.SetDefault("booking.max_passengers", d.MaxPassengers)
	v.SetDefault("booking.max_attempts", d.MaxAttempts)
	v.SetDefault("booking.retry_base_delay", d.RetryBaseDelay.String())
	v.SetDefault("booking.retry_max_delay", d.RetryMaxDelay.String())
	v.SetDefault("booking.pnr_attempts", d.PNRAttempts)

	v.SetDefault("refund.late_window", d.Refund.LateWindow.String())
	v.SetDefault("refund.late_charge_pct", d.Refund.LateChargePct.InexactFloat64())
	v.SetDefault("refund.standard_charge_pct", d.Refund.StandardChargePct.InexactFloat64())

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.idempotency_ttl", "24h")

	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.client_id", "seat-engine")
	v.SetDefault("kafka.topic", "seat-engine.events")

	v.SetDefault("outbox.poll_interval", "1s")
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.max_attempts", 10)

	v.SetDefault("otel.enabled", false)
	v.SetDefault("otel.service_name", "seat-engine")
	v.SetDefault("otel.collector_addr", "localhost:4317")
	v.SetDefault("otel.metric_interval", "15s")

	v.SetDefault("catalog.path", "")
	v.SetDefault("catalog.seed_on_start", true)
	v.SetDefault("catalog.open_days", 30)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []error
	if c.App.Name == "" {
		errs = append(errs, errors.New("app name is required"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d", c.Server.Port))
	}
	if _, err := sqlstore.ParseDialect(c.Database.Driver); err != nil {
		errs = append(errs, err)
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database dsn is required"))
	}
	if c.Booking.MaxPassengers < 1 {
		errs = append(errs, fmt.Errorf("booking.max_passengers must be at least 1, got %d", c.Booking.MaxPassengers))
	}
	if c.Booking.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("booking.max_attempts must be at least 1, got %d", c.Booking.MaxAttempts))
	}
	for name, pct := range map[string]float64{
		"refund.late_charge_pct":     c.Refund.LateChargePct,
		"refund.standard_charge_pct": c.Refund.StandardChargePct,
	} {
		if pct < 0 || pct > 100 {
			errs = append(errs, fmt.Errorf("%s must be within [0,100], got %v", name, pct))
		}
	}
	if c.Refund.LateChargePct < c.Refund.StandardChargePct {
		errs = append(errs, errors.New("refund.late_charge_pct must not be below refund.standard_charge_pct"))
	}
	if c.Outbox.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("outbox.batch_size must be at least 1, got %d", c.Outbox.BatchSize))
	}
	if c.Outbox.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("outbox.max_attempts must be at least 1, got %d", c.Outbox.MaxAttempts))
	}
	return errors.Join(errs...)
}

// Engine maps the booking and refund sections onto the engine config.
func (c *Config) Engine() reservation.Config {
	return reservation.Config{
		MaxPassengers:  c.Booking.MaxPassengers,
		MaxAttempts:    c.Booking.MaxAttempts,
		RetryBaseDelay: c.Booking.RetryBaseDelay,
		RetryMaxDelay:  c.Booking.RetryMaxDelay,
		PNRAttempts:    c.Booking.PNRAttempts,
		Refund: reservation.RefundPolicy{
			LateWindow:        c.Refund.LateWindow,
			LateChargePct:     decimal.NewFromFloat(c.Refund.LateChargePct),
			StandardChargePct: decimal.NewFromFloat(c.Refund.StandardChargePct),
		},
	}
}

func (c *Config) IsProduction() bool { return c.App.Environment == "production" }

// splitList flattens comma-separated entries, as env vars deliver one string.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
