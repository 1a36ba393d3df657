/*
engine.go - Reservation engine: configuration, retry and instrumentation

PURPOSE:
  Engine is the single entry point for mutations. Book and Cancel each run
  one store transaction keyed by an InventoryKey; the transaction is retried
  from scratch (never on top of stale state) when the store reports
  transient contention.

RETRY:
  Attempt 1 runs immediately. Attempts 2..MaxAttempts wait
  RetryBaseDelay * 2^(attempt-2), capped at RetryMaxDelay, with up to 50%
  jitter. Only IsRetryable errors are retried. When attempts run out the
  conflict is returned wrapped and the HTTP layer reports a generic failure.

OBSERVABILITY:
  Spans:    reservation.Book, reservation.Cancel
  Counters: reservation_bookings_total, reservation_cancellations_total,
            reservation_promotions_total, reservation_conflict_retries_total
  Logs:     conflicts at Warn, invariant violations at Error

SEE ALSO:
  - book.go: Book
  - cancel.go: Cancel and promotion
  - query.go: Read-only façade
*/
package reservation

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/warp/seat-engine/reservation"

// =============================================================================
// CONFIG
// =============================================================================

type Config struct {
	MaxPassengers  int
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	PNRAttempts    int
	Refund         RefundPolicy
}

func DefaultConfig() Config {
	return Config{
		MaxPassengers:  6,
		MaxAttempts:    4,
		RetryBaseDelay: 10 * time.Millisecond,
		RetryMaxDelay:  250 * time.Millisecond,
		PNRAttempts:    8,
		Refund:         DefaultRefundPolicy(),
	}
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store   Store
	fares   FareTable
	pnr     PNRGenerator
	clock   func() time.Time
	cfg     Config
	log     *zap.Logger
	tracer  trace.Tracer
	metrics engineMetrics
}

type Option func(*Engine)

func WithConfig(cfg Config) Option { return func(e *Engine) { e.cfg = cfg } }
func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.log = l } }
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.clock = now } }
func WithPNRGenerator(g PNRGenerator) Option { return func(e *Engine) { e.pnr = g } }
func WithFareTable(f FareTable) Option { return func(e *Engine) { e.fares = f } }
func WithTracer(t trace.Tracer) Option { return func(e *Engine) { e.tracer = t } }
func WithMeter(m metric.Meter) Option { return func(e *Engine) { e.metrics = newEngineMetrics(m) } }

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		fares: StoreFareTable{Store: store},
		pnr:   RandomPNR,
		clock: time.Now,
		cfg:   DefaultConfig(),
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(instrumentationName)
	}
	if e.metrics.bookings == nil {
		e.metrics = newEngineMetrics(otel.Meter(instrumentationName))
	}
	if e.cfg.MaxAttempts < 1 {
		e.cfg.MaxAttempts = 1
	}
	if e.cfg.PNRAttempts < 1 {
		e.cfg.PNRAttempts = 1
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// =============================================================================
// RETRY
// =============================================================================

func opAttr(op string) attribute.KeyValue { return attribute.String("op", op) }

func (e *Engine) retry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if werr := sleepCtx(ctx, e.backoff(attempt)); werr != nil {
				return werr
			}
		}
		err = fn()
		if err == nil || !IsRetryable(err) {
			return err
		}
		e.metrics.conflicts.Add(ctx, 1, metric.WithAttributes(opAttr(op)))
		e.log.Warn("transaction conflict",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", e.cfg.MaxAttempts),
			zap.Error(err))
	}
	return fmt.Errorf("%s: giving up after %d attempts: %w", op, e.cfg.MaxAttempts, err)
}

func (e *Engine) backoff(attempt int) time.Duration {
	d := e.cfg.RetryBaseDelay << (attempt - 2)
	if e.cfg.RetryMaxDelay > 0 && (d > e.cfg.RetryMaxDelay || d <= 0) {
		d = e.cfg.RetryMaxDelay
	}
	if d <= 0 {
		return 0
	}
	return d/2 + time.Duration(rand.Int64N(int64(d/2)+1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// finish records err on the span and logs defects.
func (e *Engine) finish(span trace.Span, op string, err error) {
	defer span.End()
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if errors.Is(err, ErrInvariantViolation) {
		e.log.Error("invariant violation, transaction aborted", zap.String("op", op), zap.Error(err))
	}
}

// =============================================================================
// METRICS
// =============================================================================

type engineMetrics struct {
	bookings      metric.Int64Counter
	cancellations metric.Int64Counter
	promotions    metric.Int64Counter
	conflicts     metric.Int64Counter
}

func newEngineMetrics(m metric.Meter) engineMetrics {
	counter := func(name, desc string) metric.Int64Counter {
		c, err := m.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			return noop.Int64Counter{}
		}
		return c
	}
	return engineMetrics{
		bookings:      counter("reservation_bookings_total", "Bookings committed"),
		cancellations: counter("reservation_cancellations_total", "Bookings cancelled"),
		promotions:    counter("reservation_promotions_total", "RAC and waitlist promotions"),
		conflicts:     counter("reservation_conflict_retries_total", "Transactions retried after contention"),
	}
}
