/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the seat reservation engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (file, SEAT_* env, flags)
  2. Build logger, tracer and meter providers
  3. Open the SQL store (sqlite3, postgres or mysql) and migrate
  4. Seed the catalog and open runs for the coming days
  5. Start the outbox relay (Kafka, or log when no brokers)
  6. Build engine, handler and router (Redis idempotency when configured)
  7. Serve until SIGINT/SIGTERM

COMMAND-LINE FLAGS:
  -config  Config file (yaml, json, toml or .env); optional
  -port    HTTP server port, overrides server.port
  -driver  Database driver, overrides database.driver
  -db      Database DSN or SQLite path, overrides database.dsn
           Use ":memory:" for an in-memory SQLite database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests (server.shutdown_timeout)
  3. Stop the relay after its current cycle
  4. Flush spans and metrics, close Kafka, Redis and the database

EXAMPLES:
  ./server -db=":memory:"
  SEAT_DATABASE_DRIVER=postgres SEAT_DATABASE_DSN=postgres://... ./server
  ./server -config=seat.yaml -port=3000

SEE ALSO:
  - config/config.go: All settings and defaults
  - api/server.go: Router configuration
  - events/relay.go: Outbox relay
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/warp/seat-engine/api"
	"github.com/warp/seat-engine/catalog"
	"github.com/warp/seat-engine/config"
	"github.com/warp/seat-engine/events"
	"github.com/warp/seat-engine/reservation"
	"github.com/warp/seat-engine/store/sqlstore"
	"github.com/warp/seat-engine/telemetry"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seat-engine: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Flags
	configPath := flag.String("config", "", "Config file path")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	driver := flag.String("driver", "", "Database driver: sqlite3, postgres, mysql (overrides config)")
	dsn := flag.String("db", "", "Database DSN or SQLite path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *driver != "" {
		cfg.Database.Driver = *driver
	}
	if *dsn != "" {
		cfg.Database.DSN = *dsn
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := telemetry.NewLogger(cfg.App.Debug)
	if err != nil {
		return err
	}
	defer log.Sync()
	zap.ReplaceGlobals(log)

	ctx := context.Background()

	otelCfg := telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		MetricInterval: cfg.OTel.MetricInterval,
	}
	shutdownTracer, err := telemetry.InitTracer(ctx, otelCfg)
	if err != nil {
		return err
	}
	defer shutdownProvider(log, "tracer", shutdownTracer)
	shutdownMeter, err := telemetry.InitMeter(ctx, otelCfg)
	if err != nil {
		return err
	}
	defer shutdownProvider(log, "meter", shutdownMeter)

	// Initialize store
	store, err := sqlstore.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()
	store.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	log.Info("database ready", zap.String("driver", string(store.Dialect())))

	if err := prepareCatalog(ctx, cfg.Catalog, store, log); err != nil {
		return err
	}

	// Outbox relay
	publisher, err := newPublisher(ctx, cfg.Kafka, log)
	if err != nil {
		return err
	}
	defer publisher.Close()
	relay := events.NewRelay(store, publisher, log.Named("relay"))
	relay.Interval = cfg.Outbox.PollInterval
	relay.BatchSize = cfg.Outbox.BatchSize
	relay.MaxAttempts = cfg.Outbox.MaxAttempts
	relay.Start()
	defer relay.Stop()

	engine := reservation.NewEngine(store,
		reservation.WithConfig(cfg.Engine()),
		reservation.WithLogger(log.Named("engine")),
	)
	handler := api.NewHandler(engine, store, log.Named("http"))

	var opts api.RouterOptions
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		opts.Idempotency = api.NewIdempotency(rdb, cfg.Redis.IdempotencyTTL, log.Named("idempotency"))
		log.Info("idempotent bookings enabled", zap.String("redis", cfg.Redis.Addr))
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(handler, opts),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", server.Addr), zap.String("environment", cfg.App.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("shutting down server", zap.Stringer("signal", sig))
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}

func shutdownProvider(log *zap.Logger, name string, shutdown telemetry.ShutdownFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warn(name+" shutdown failed", zap.Error(err))
	}
}

func prepareCatalog(ctx context.Context, cfg config.CatalogConfig, store catalog.Store, log *zap.Logger) error {
	if !cfg.SeedOnStart {
		return nil
	}
	var (
		c   *catalog.Catalog
		err error
	)
	if cfg.Path != "" {
		c, err = catalog.Load(cfg.Path)
	} else {
		c, err = catalog.Default()
	}
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	if err := catalog.Seed(ctx, store, c); err != nil {
		return fmt.Errorf("failed to seed catalog: %w", err)
	}

	today := reservation.DateOf(time.Now().UTC())
	opened, err := catalog.OpenRuns(ctx, store, today, cfg.OpenDays)
	if err != nil {
		return fmt.Errorf("failed to open runs: %w", err)
	}
	log.Info("catalog ready",
		zap.Int("stations", len(c.Stations)),
		zap.Int("trains", len(c.Trains)),
		zap.Int("runs_opened", opened))
	return nil
}

func newPublisher(ctx context.Context, cfg config.KafkaConfig, log *zap.Logger) (events.Publisher, error) {
	if len(cfg.Brokers) == 0 {
		log.Info("no Kafka brokers configured; events are logged")
		return events.NewLogPublisher(log.Named("events")), nil
	}
	pub, err := events.NewKafkaPublisher(ctx, events.KafkaConfig{
		Brokers:  cfg.Brokers,
		ClientID: cfg.ClientID,
		Topic:    cfg.Topic,
	})
	if err != nil {
		return nil, err
	}
	log.Info("publishing events to Kafka", zap.Strings("brokers", cfg.Brokers), zap.String("topic", cfg.Topic))
	return pub, nil
}
