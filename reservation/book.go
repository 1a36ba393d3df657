package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// =============================================================================
// BOOK
// =============================================================================

// Book allocates every passenger of req and issues a PNR in one transaction.
// Capacity never fails a booking: passengers beyond seats and RAC are
// waitlisted.
func (e *Engine) Book(ctx context.Context, req BookingRequest) (booking *Booking, err error) {
	ctx, span := e.tracer.Start(ctx, "reservation.Book", trace.WithAttributes(
		attribute.String("train.number", req.TrainNumber),
		attribute.String("run.date", req.Date.String()),
		attribute.String("class", string(req.Class)),
		attribute.Int("passengers", len(req.Passengers)),
	))
	defer func() { e.finish(span, "book", err) }()

	if err := req.Validate(e.cfg.MaxPassengers); err != nil {
		return nil, err
	}
	req.Class, _ = ParseClassType(string(req.Class))
	key := req.Key()

	base, err := e.fares.BaseFare(ctx, req.TrainNumber, req.Class)
	if errors.Is(err, ErrTrainNotFound) {
		return nil, fmt.Errorf("train %s: %w", req.TrainNumber, ErrRunNotFound)
	}
	if err != nil {
		return nil, err
	}

	err = e.retry(ctx, "book", func() error {
		b, err := e.bookOnce(ctx, req, key, base)
		booking = b
		return err
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("pnr", booking.PNR), attribute.String("booking.status", string(booking.Status)))
	e.metrics.bookings.Add(ctx, 1, metric.WithAttributes(
		attribute.String("class", string(key.Class)),
		attribute.String("status", string(booking.Status)),
	))
	e.log.Info("booking created",
		zap.String("pnr", booking.PNR),
		zap.Stringer("inventory", key),
		zap.String("status", string(booking.Status)),
		zap.Int("passengers", len(booking.Passengers)),
		zap.String("total_fare", booking.TotalFare.StringFixed(2)))
	return booking, nil
}

func (e *Engine) bookOnce(ctx context.Context, req BookingRequest, key InventoryKey, base decimal.Decimal) (*Booking, error) {
	var out *Booking
	err := e.store.WithTx(ctx, func(tx Tx) error {
		run, err := tx.Run(ctx, key.TrainNumber, key.Date)
		if err != nil {
			return err
		}
		if !run.DepartureAt.IsZero() && !e.clock().Before(run.DepartureAt) {
			return &ValidationError{Field: "date", Reason: "run departed at " + run.DepartureAt.UTC().Format(time.RFC3339), cause: ErrRunDeparted}
		}
		inv, err := tx.LockInventory(ctx, key)
		if err != nil {
			return err
		}
		seats, err := tx.OccupiedSeats(ctx, key)
		if err != nil {
			return err
		}
		slots, err := tx.OccupiedRACSlots(ctx, key)
		if err != nil {
			return err
		}

		before := inv.Occupancy()
		allocs, err := Allocate(inv, len(req.Passengers), seats, slots)
		if err != nil {
			return err
		}
		if err := inv.Check(); err != nil {
			return err
		}
		if got := inv.Occupancy(); got != before+len(req.Passengers) {
			return &InvariantError{Key: key, Detail: fmt.Sprintf("occupancy moved %d -> %d for %d passengers", before, got, len(req.Passengers))}
		}

		pnr, err := e.issuePNR(ctx, tx)
		if err != nil {
			return err
		}

		now := e.clock().UTC()
		b := &Booking{
			PNR:             pnr,
			Key:             key,
			PaymentMode:     req.PaymentMode,
			ConcessionType:  ParseConcession(string(req.ConcessionType)),
			ConcessionProof: req.ConcessionProof,
			Contact:         req.Contact,
			TotalFare:       decimal.Zero,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		for i, p := range req.Passengers {
			c := PassengerClaim{
				ID:            uuid.NewString(),
				Seq:           i + 1,
				Name:          p.Name,
				Age:           p.Age,
				Gender:        p.Gender,
				IDProofType:   p.IDProofType,
				IDProofNumber: p.IDProofNumber,
				Concession:    req.concessionFor(p),
			}
			c.Fare = ApplyConcession(base, c.Concession)
			allocs[i].Apply(&c)
			b.TotalFare = b.TotalFare.Add(c.Fare)
			b.Passengers = append(b.Passengers, c)
		}
		b.recomputeStatus()

		if err := tx.InsertBooking(ctx, b); err != nil {
			return err
		}
		if err := tx.SaveInventory(ctx, inv); err != nil {
			return err
		}
		ev, err := bookingCreatedEvent(b)
		if err != nil {
			return err
		}
		if err := tx.AppendEvents(ctx, ev); err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

// issuePNR draws candidates until one is free in the ledger. A concurrent
// insert of the same PNR is still caught by InsertBooking.
func (e *Engine) issuePNR(ctx context.Context, tx Tx) (string, error) {
	for i := 0; i < e.cfg.PNRAttempts; i++ {
		pnr, err := e.pnr()
		if err != nil {
			return "", fmt.Errorf("generate pnr: %w", err)
		}
		taken, err := tx.PNRExists(ctx, pnr)
		if err != nil {
			return "", err
		}
		if !taken {
			return pnr, nil
		}
		e.log.Debug("pnr collision, regenerating", zap.String("pnr", pnr), zap.Int("attempt", i+1))
	}
	return "", ErrPNRSpaceExhausted
}
