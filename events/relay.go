/*
relay.go - Outbox relay

PURPOSE:
  The engine appends events to the outbox in the same transaction as the
  booking change. The relay polls unpublished rows and hands them to a
  Publisher, so an event is published if and only if its change committed.

DESIGN:
  - Runs a background goroutine with a configurable poll interval
  - Reads at most BatchSize events per cycle, oldest first
  - Marks delivered events published in one statement per cycle
  - A failed event keeps its row; attempts and last error are recorded
  - After a failure, later events of the same PNR wait for the next cycle
    so consumers see each booking's events in order
  - An event failing MaxAttempts times is parked (dead_at set) and no longer
    polled, so it cannot hold a batch forever; its PNR's later events resume

DELIVERY:
  At least once. A crash between Publish and MarkPublished republishes the
  event; consumers dedupe on the event_id header.

USAGE:
  relay := events.NewRelay(store, publisher, logger)
  relay.Start()
  // ... later
  relay.Stop()
*/
package events

import (
	"context"
	"sync"
	"time"

	"github.com/warp/seat-engine/reservation"
	"go.uber.org/zap"
)

type Relay struct {
	Store       reservation.OutboxStore
	Publisher   Publisher
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int // publish attempts per event before it is parked
	Log         *zap.Logger
	Clock       func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewRelay(store reservation.OutboxStore, pub Publisher, log *zap.Logger) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{
		Store:       store,
		Publisher:   pub,
		Interval:    time.Second,
		BatchSize:   100,
		MaxAttempts: 10,
		Log:         log,
		Clock:       time.Now,
	}
}

// Start begins polling. Calling Start twice is a no-op.
func (r *Relay) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ticker != nil {
		return
	}
	r.ticker = time.NewTicker(r.Interval)
	r.stop = make(chan struct{})
	r.wg.Add(1)

	go r.run()

	r.Log.Info("outbox relay started", zap.Duration("interval", r.Interval), zap.Int("batch_size", r.BatchSize))
}

// Stop waits for the current cycle to finish.
func (r *Relay) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ticker == nil {
		return
	}
	r.ticker.Stop()
	close(r.stop)
	r.wg.Wait()
	r.ticker = nil
	r.Log.Info("outbox relay stopped")
}

func (r *Relay) run() {
	defer r.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-r.stop
		cancel()
	}()

	r.cycle(ctx)
	for {
		select {
		case <-r.ticker.C:
			r.cycle(ctx)
		case <-r.stop:
			return
		}
	}
}

func (r *Relay) cycle(ctx context.Context) {
	published, failed, err := r.Flush(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.Log.Error("outbox relay cycle failed", zap.Error(err))
		}
		return
	}
	if published > 0 || failed > 0 {
		r.Log.Info("outbox relay cycle", zap.Int("published", published), zap.Int("failed", failed))
	}
}

// Flush runs one relay cycle.
func (r *Relay) Flush(ctx context.Context) (published, failed int, err error) {
	pending, err := r.Store.PendingEvents(ctx, r.BatchSize)
	if err != nil {
		return 0, 0, err
	}

	var (
		done    []string
		blocked = make(map[string]bool)
	)
	for _, ev := range pending {
		if blocked[ev.PNR] {
			continue
		}
		if err := r.Publisher.Publish(ctx, ev); err != nil {
			failed++
			if r.MaxAttempts > 0 && ev.Attempts+1 >= r.MaxAttempts {
				r.Log.Error("event parked after repeated publish failures",
					zap.String("event_id", ev.ID),
					zap.String("type", string(ev.Type)),
					zap.String("pnr", ev.PNR),
					zap.Int("attempts", ev.Attempts+1),
					zap.Error(err))
				if err := r.Store.MarkDead(ctx, ev.ID, err.Error(), r.Clock().UTC()); err != nil {
					return len(done), failed, err
				}
				continue
			}
			blocked[ev.PNR] = true
			r.Log.Warn("event publish failed",
				zap.String("event_id", ev.ID),
				zap.String("type", string(ev.Type)),
				zap.String("pnr", ev.PNR),
				zap.Int("attempts", ev.Attempts+1),
				zap.Error(err))
			if err := r.Store.MarkFailed(ctx, ev.ID, err.Error()); err != nil {
				return len(done), failed, err
			}
			continue
		}
		done = append(done, ev.ID)
	}

	if len(done) > 0 {
		if err := r.Store.MarkPublished(ctx, done, r.Clock().UTC()); err != nil {
			return 0, failed, err
		}
	}
	return len(done), failed, nil
}
