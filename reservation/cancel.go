/*
cancel.go - Cancellation, inventory release and promotion

PURPOSE:
  Cancel withdraws every live claim of a booking, hands the freed seats and
  RAC slots to the longest-waiting passengers of the same inventory, and
  records the refund. Promotion may rewrite other bookings; all of it is
  one transaction under the inventory lock.

ALGORITHM (one transaction):
  1. Lock the inventory, re-read the booking under the lock
  2. Nothing live to cancel? Return the stored figures, change nothing
  3. Withdraw: every live selected claim -> CANCELLED, counters decremented,
     later waitlist ranks shift down; save the booking
  4. Promote, per released claim in ticket order:
       freed seat     -> RAC head takes the seat (or the waitlist head when
                         the RAC queue is empty), then
       freed RAC slot -> waitlist head takes the slot
     At most two levels per released claim.
  5. Check invariants, save inventory, append outbox events

FIFO:
  Queue heads are chosen by QueueSeq, the order in which claims entered the
  RAC/waitlist queues. A claim promoted from waitlist to RAC keeps its
  sequence and therefore stays behind earlier RAC claims.

SEE ALSO:
  - allocation.go: Forward direction
  - refund.go: Charge computation
*/
package reservation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Promotion records one claim moving up a queue.
type Promotion struct {
	PNR        string
	ClaimID    string
	Name       string
	From       ClaimStatus
	To         ClaimStatus
	Assignment string
}

type CancellationResult struct {
	PNR              string
	Status           BookingStatus
	Charge           decimal.Decimal
	Refund           decimal.Decimal
	CancelledAt      time.Time
	CancelledClaims  int
	AlreadyCancelled bool
	Promotions       []Promotion
}

// Cancel cancels the whole booking. Cancelling an already cancelled booking
// returns the stored figures with AlreadyCancelled set and a nil error.
func (e *Engine) Cancel(ctx context.Context, pnr, reason string) (*CancellationResult, error) {
	return e.cancel(ctx, pnr, reason, nil)
}

// CancelPassengers cancels the claims at the given ticket positions (1-based)
// and leaves the rest of the booking live. Charge and Refund in the result,
// as on the booking, are totals across every cancellation of the PNR.
func (e *Engine) CancelPassengers(ctx context.Context, pnr, reason string, positions []int) (*CancellationResult, error) {
	if len(positions) == 0 {
		return nil, &ValidationError{Field: "passengers", Reason: "at least one position required"}
	}
	return e.cancel(ctx, pnr, reason, positions)
}

func (e *Engine) cancel(ctx context.Context, pnr, reason string, positions []int) (res *CancellationResult, err error) {
	pnr = strings.TrimSpace(pnr)
	ctx, span := e.tracer.Start(ctx, "reservation.Cancel", trace.WithAttributes(
		attribute.String("pnr", pnr),
		attribute.Int("positions", len(positions)),
	))
	defer func() { e.finish(span, "cancel", err) }()

	if pnr == "" {
		return nil, &ValidationError{Field: "pnr", Reason: "required"}
	}
	if strings.TrimSpace(reason) == "" {
		return nil, &ValidationError{Field: "reason", Reason: "required", cause: ErrReasonRequired}
	}

	// The booking's key and the run's departure never change, so they can be
	// resolved before taking the lock.
	var (
		key       InventoryKey
		departure time.Time
	)
	err = e.store.Read(ctx, func(r Reader) error {
		b, err := r.Booking(ctx, pnr)
		if err != nil {
			return err
		}
		for _, pos := range positions {
			if pos < 1 || pos > len(b.Passengers) {
				return &ValidationError{Field: "passengers", Reason: fmt.Sprintf("no passenger at position %d", pos)}
			}
		}
		key = b.Key
		run, err := r.Run(ctx, key.TrainNumber, key.Date)
		if err != nil {
			return err
		}
		departure = run.DepartureAt
		return nil
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("inventory", key.String()))

	err = e.retry(ctx, "cancel", func() error {
		r, err := e.cancelOnce(ctx, pnr, strings.TrimSpace(reason), positions, key, departure)
		res = r
		return err
	})
	if err != nil {
		return nil, err
	}

	if res.AlreadyCancelled {
		e.log.Info("nothing left to cancel", zap.String("pnr", pnr), zap.Ints("positions", positions))
		return res, nil
	}
	e.metrics.cancellations.Add(ctx, 1, metric.WithAttributes(attribute.String("class", string(key.Class))))
	if n := len(res.Promotions); n > 0 {
		e.metrics.promotions.Add(ctx, int64(n), metric.WithAttributes(attribute.String("class", string(key.Class))))
	}
	e.log.Info("booking cancelled",
		zap.String("pnr", pnr),
		zap.Stringer("inventory", key),
		zap.String("status", string(res.Status)),
		zap.Int("claims", res.CancelledClaims),
		zap.Int("promotions", len(res.Promotions)),
		zap.String("charge", res.Charge.StringFixed(2)),
		zap.String("refund", res.Refund.StringFixed(2)))
	return res, nil
}

type released struct {
	status ClaimStatus
	seat   int
	slot   int
}

func (e *Engine) cancelOnce(ctx context.Context, pnr, reason string, positions []int, key InventoryKey, departure time.Time) (*CancellationResult, error) {
	var res *CancellationResult
	err := e.store.WithTx(ctx, func(tx Tx) error {
		inv, err := tx.LockInventory(ctx, key)
		if err != nil {
			return err
		}
		b, err := tx.Booking(ctx, pnr)
		if err != nil {
			return err
		}
		selected := func(*PassengerClaim) bool { return true }
		if len(positions) > 0 {
			want := make(map[int]bool, len(positions))
			for _, pos := range positions {
				want[pos] = true
			}
			selected = func(c *PassengerClaim) bool { return want[c.Seq] }
		}
		live := 0
		for i := range b.Passengers {
			if c := &b.Passengers[i]; c.Status != StatusCancelled && selected(c) {
				live++
			}
		}
		if live == 0 {
			res = priorCancellation(b)
			return nil
		}

		now := e.clock().UTC()
		before := inv.Occupancy()

		// Withdraw.
		var (
			fare      = decimal.Zero
			freed     []released
			leftRanks []int
			withdrawn int
		)
		for i := range b.Passengers {
			c := &b.Passengers[i]
			if c.Status == StatusCancelled || !selected(c) {
				continue
			}
			switch c.Status {
			case StatusConfirmed:
				inv.ConfirmedCount--
				freed = append(freed, released{status: StatusConfirmed, seat: c.SeatNumber})
			case StatusRAC:
				inv.RACCount--
				freed = append(freed, released{status: StatusRAC, slot: c.RACSlot})
			case StatusWaitlisted:
				inv.WaitlistCount--
				leftRanks = append(leftRanks, c.WaitlistRank)
			}
			fare = fare.Add(c.Fare)
			c.clearAssignment()
			c.Status = StatusCancelled
			withdrawn++
		}
		if got := inv.Occupancy(); got != before-withdrawn {
			return &InvariantError{Key: key, Detail: fmt.Sprintf("occupancy moved %d -> %d withdrawing %d claims", before, got, withdrawn)}
		}

		refund := e.cfg.Refund.Compute(fare, now, departure)
		if b.Cancellation == nil {
			b.Cancellation = &Cancellation{Charge: decimal.Zero, Refund: decimal.Zero}
		}
		b.Cancellation.Reason = reason
		b.Cancellation.Charge = b.Cancellation.Charge.Add(refund.Charge)
		b.Cancellation.Refund = b.Cancellation.Refund.Add(refund.Amount)
		b.Cancellation.CancelledAt = now
		b.UpdatedAt = now
		b.recomputeStatus()
		if err := tx.SaveBooking(ctx, b); err != nil {
			return err
		}

		// Highest rank first keeps the remaining ranks valid between shifts.
		sort.Sort(sort.Reverse(sort.IntSlice(leftRanks)))
		for _, rank := range leftRanks {
			if err := tx.ShiftWaitlist(ctx, key, rank); err != nil {
				return err
			}
		}

		// Promote.
		p := &promoter{tx: tx, inv: inv, key: key, now: now}
		for _, r := range freed {
			switch r.status {
			case StatusConfirmed:
				slot, err := p.fillSeat(ctx, r.seat)
				if err != nil {
					return err
				}
				if slot > 0 {
					if err := p.fillRACSlot(ctx, slot); err != nil {
						return err
					}
				}
			case StatusRAC:
				if err := p.fillRACSlot(ctx, r.slot); err != nil {
					return err
				}
			}
		}

		if err := inv.Check(); err != nil {
			return err
		}
		if err := tx.SaveInventory(ctx, inv); err != nil {
			return err
		}

		// Promotion may have rewritten this booking's remaining claims.
		final, err := tx.Booking(ctx, pnr)
		if err != nil {
			return err
		}

		events := make([]Event, 0, len(p.promotions)+1)
		ev, err := newEvent(EventBookingCancelled, pnr, bookingCancelledPayload{
			PNR: pnr, Reason: reason, Status: final.Status, Passengers: withdrawn,
			Charge: refund.Charge, Refund: refund.Amount,
		}, now)
		if err != nil {
			return err
		}
		events = append(events, ev)
		for _, pr := range p.promotions {
			ev, err := newEvent(EventPassengerPromoted, pr.PNR, passengerPromotedPayload{
				PNR: pr.PNR, ClaimID: pr.ClaimID, Name: pr.Name,
				From: pr.From, To: pr.To, Assignment: pr.Assignment, CausedBy: pnr,
			}, now)
			if err != nil {
				return err
			}
			events = append(events, ev)
		}
		if err := tx.AppendEvents(ctx, events...); err != nil {
			return err
		}

		res = &CancellationResult{
			PNR:             pnr,
			Status:          final.Status,
			Charge:          final.Cancellation.Charge,
			Refund:          final.Cancellation.Refund,
			CancelledAt:     now,
			CancelledClaims: withdrawn,
			Promotions:      p.promotions,
		}
		return nil
	})
	return res, err
}

func priorCancellation(b *Booking) *CancellationResult {
	res := &CancellationResult{
		PNR:              b.PNR,
		Status:           b.Status,
		Charge:           decimal.Zero,
		Refund:           decimal.Zero,
		AlreadyCancelled: true,
	}
	if c := b.Cancellation; c != nil {
		res.Charge, res.Refund, res.CancelledAt = c.Charge, c.Refund, c.CancelledAt
	}
	return res
}

// =============================================================================
// PROMOTION
// =============================================================================

type promoter struct {
	tx         Tx
	inv        *ClassInventory
	key        InventoryKey
	now        time.Time
	promotions []Promotion
}

// fillSeat gives seat to the RAC head, or to the waitlist head when no one
// holds RAC. It returns the RAC slot vacated by the promotion, or 0.
func (p *promoter) fillSeat(ctx context.Context, seat int) (int, error) {
	head, err := p.tx.QueueHead(ctx, p.key, StatusRAC)
	if err != nil {
		return 0, err
	}
	if head != nil {
		var slot int
		err := p.promote(ctx, head, StatusRAC, func(c *PassengerClaim) {
			slot = c.RACSlot
			p.inv.RACCount--
			p.inv.ConfirmedCount++
			c.clearAssignment()
			c.Status = StatusConfirmed
			s := p.inv.SeatFor(seat)
			c.SeatNumber, c.Coach, c.Berth = s.Number, s.Coach, s.Berth
		})
		return slot, err
	}

	head, err = p.tx.QueueHead(ctx, p.key, StatusWaitlisted)
	if err != nil || head == nil {
		return 0, err
	}
	var rank int
	err = p.promote(ctx, head, StatusWaitlisted, func(c *PassengerClaim) {
		rank = c.WaitlistRank
		p.inv.WaitlistCount--
		p.inv.ConfirmedCount++
		c.clearAssignment()
		c.Status = StatusConfirmed
		s := p.inv.SeatFor(seat)
		c.SeatNumber, c.Coach, c.Berth = s.Number, s.Coach, s.Berth
	})
	if err != nil {
		return 0, err
	}
	return 0, p.tx.ShiftWaitlist(ctx, p.key, rank)
}

// fillRACSlot gives slot to the waitlist head.
func (p *promoter) fillRACSlot(ctx context.Context, slot int) error {
	head, err := p.tx.QueueHead(ctx, p.key, StatusWaitlisted)
	if err != nil || head == nil {
		return err
	}
	var rank int
	err = p.promote(ctx, head, StatusWaitlisted, func(c *PassengerClaim) {
		rank = c.WaitlistRank
		p.inv.WaitlistCount--
		p.inv.RACCount++
		c.clearAssignment()
		c.Status = StatusRAC
		c.RACSlot = slot
	})
	if err != nil {
		return err
	}
	return p.tx.ShiftWaitlist(ctx, p.key, rank)
}

func (p *promoter) promote(ctx context.Context, head *QueueEntry, from ClaimStatus, move func(*PassengerClaim)) error {
	b, err := p.tx.Booking(ctx, head.PNR)
	if err != nil {
		return err
	}
	c := b.Claim(head.ClaimID)
	if c == nil || c.Status != from {
		return &InvariantError{Key: p.key, Detail: fmt.Sprintf("queue head %s/%s is not %s", head.PNR, head.ClaimID, from)}
	}
	move(c)
	b.recomputeStatus()
	b.UpdatedAt = p.now
	if err := p.tx.SaveBooking(ctx, b); err != nil {
		return err
	}
	p.promotions = append(p.promotions, Promotion{
		PNR:        b.PNR,
		ClaimID:    c.ID,
		Name:       c.Name,
		From:       from,
		To:         c.Status,
		Assignment: c.Assignment(),
	})
	return nil
}
