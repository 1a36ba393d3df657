package store

import (
	"context"

	"github.com/warp/seat-engine/reservation"
)

// =============================================================================
// MEMORY TRANSACTION - Write set over committed state
// =============================================================================

type memTx struct {
	m    *Memory
	held map[reservation.InventoryKey]chan struct{}

	inventory map[reservation.InventoryKey]reservation.ClassInventory
	bookings  map[string]*reservation.Booking // inserted or rewritten
	inserted  []string
	events    []reservation.Event
}

func (tx *memTx) release() {
	for _, ch := range tx.held {
		<-ch
	}
	tx.held = nil
}

func (tx *memTx) read(fn func(committed) error) error {
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	return fn(committed{tx.m})
}

// -----------------------------------------------------------------------------
// Reader
// -----------------------------------------------------------------------------

func (tx *memTx) Station(ctx context.Context, code string) (s *reservation.Station, err error) {
	err = tx.read(func(c committed) error { s, err = c.Station(ctx, code); return err })
	return s, err
}

func (tx *memTx) Stations(ctx context.Context) (out []reservation.Station, err error) {
	err = tx.read(func(c committed) error { out, err = c.Stations(ctx); return err })
	return out, err
}

func (tx *memTx) Train(ctx context.Context, number string) (t *reservation.Train, err error) {
	err = tx.read(func(c committed) error { t, err = c.Train(ctx, number); return err })
	return t, err
}

func (tx *memTx) Trains(ctx context.Context) (out []reservation.Train, err error) {
	err = tx.read(func(c committed) error { out, err = c.Trains(ctx); return err })
	return out, err
}

func (tx *memTx) Run(ctx context.Context, train string, date reservation.Date) (r *reservation.Run, err error) {
	err = tx.read(func(c committed) error { r, err = c.Run(ctx, train, date); return err })
	return r, err
}

func (tx *memTx) Inventory(ctx context.Context, key reservation.InventoryKey) (*reservation.ClassInventory, error) {
	if inv, ok := tx.inventory[key]; ok {
		return &inv, nil
	}
	var inv *reservation.ClassInventory
	err := tx.read(func(c committed) error {
		var err error
		inv, err = c.Inventory(ctx, key)
		return err
	})
	return inv, err
}

func (tx *memTx) Inventories(ctx context.Context, train string, date reservation.Date) ([]reservation.ClassInventory, error) {
	var out []reservation.ClassInventory
	err := tx.read(func(c committed) error {
		var err error
		out, err = c.Inventories(ctx, train, date)
		return err
	})
	for i := range out {
		if inv, ok := tx.inventory[out[i].Key]; ok {
			out[i] = inv
		}
	}
	return out, err
}

func (tx *memTx) Booking(ctx context.Context, pnr string) (*reservation.Booking, error) {
	if b, ok := tx.bookings[pnr]; ok {
		return b.Clone(), nil
	}
	var b *reservation.Booking
	err := tx.read(func(c committed) error {
		var err error
		b, err = c.Booking(ctx, pnr)
		return err
	})
	return b, err
}

// -----------------------------------------------------------------------------
// Tx
// -----------------------------------------------------------------------------

func (tx *memTx) LockInventory(ctx context.Context, key reservation.InventoryKey) (*reservation.ClassInventory, error) {
	if _, ok := tx.held[key]; !ok {
		ch := tx.m.keyLock(key)
		select {
		case ch <- struct{}{}:
			tx.held[key] = ch
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return tx.Inventory(ctx, key)
}

func (tx *memTx) SaveInventory(ctx context.Context, inv *reservation.ClassInventory) error {
	if _, ok := tx.held[inv.Key]; !ok {
		return reservation.ErrConflict
	}
	if _, err := tx.Inventory(ctx, inv.Key); err != nil {
		return err
	}
	next := *inv
	next.Version++
	tx.inventory[inv.Key] = next
	*inv = next
	return nil
}

// pnrsFor lists committed and newly inserted bookings of key.
func (tx *memTx) pnrsFor(key reservation.InventoryKey) []string {
	tx.m.mu.RLock()
	pnrs := append([]string(nil), tx.m.byKey[key]...)
	tx.m.mu.RUnlock()
	for _, pnr := range tx.inserted {
		if tx.bookings[pnr].Key == key {
			pnrs = append(pnrs, pnr)
		}
	}
	return pnrs
}

// claims calls fn for every claim of key as seen by this transaction.
func (tx *memTx) claims(ctx context.Context, key reservation.InventoryKey, fn func(b *reservation.Booking, c *reservation.PassengerClaim)) error {
	for _, pnr := range tx.pnrsFor(key) {
		b, err := tx.Booking(ctx, pnr)
		if err != nil {
			return err
		}
		for i := range b.Passengers {
			fn(b, &b.Passengers[i])
		}
	}
	return nil
}

func (tx *memTx) QueueHead(ctx context.Context, key reservation.InventoryKey, status reservation.ClaimStatus) (*reservation.QueueEntry, error) {
	var head *reservation.QueueEntry
	err := tx.claims(ctx, key, func(b *reservation.Booking, c *reservation.PassengerClaim) {
		if c.Status != status {
			return
		}
		if head == nil || c.QueueSeq < head.QueueSeq {
			head = &reservation.QueueEntry{PNR: b.PNR, ClaimID: c.ID, QueueSeq: c.QueueSeq}
		}
	})
	return head, err
}

func (tx *memTx) OccupiedSeats(ctx context.Context, key reservation.InventoryKey) ([]int, error) {
	var out []int
	err := tx.claims(ctx, key, func(_ *reservation.Booking, c *reservation.PassengerClaim) {
		if c.Status == reservation.StatusConfirmed {
			out = append(out, c.SeatNumber)
		}
	})
	return out, err
}

func (tx *memTx) OccupiedRACSlots(ctx context.Context, key reservation.InventoryKey) ([]int, error) {
	var out []int
	err := tx.claims(ctx, key, func(_ *reservation.Booking, c *reservation.PassengerClaim) {
		if c.Status == reservation.StatusRAC {
			out = append(out, c.RACSlot)
		}
	})
	return out, err
}

func (tx *memTx) ShiftWaitlist(ctx context.Context, key reservation.InventoryKey, after int) error {
	for _, pnr := range tx.pnrsFor(key) {
		b, err := tx.Booking(ctx, pnr)
		if err != nil {
			return err
		}
		changed := false
		for i := range b.Passengers {
			c := &b.Passengers[i]
			if c.Status == reservation.StatusWaitlisted && c.WaitlistRank > after {
				c.WaitlistRank--
				changed = true
			}
		}
		if changed {
			tx.bookings[pnr] = b
		}
	}
	return nil
}

func (tx *memTx) PNRExists(_ context.Context, pnr string) (bool, error) {
	if _, ok := tx.bookings[pnr]; ok {
		return true, nil
	}
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	_, ok := tx.m.bookings[pnr]
	return ok, nil
}

func (tx *memTx) InsertBooking(ctx context.Context, b *reservation.Booking) error {
	taken, err := tx.PNRExists(ctx, b.PNR)
	if err != nil {
		return err
	}
	if taken {
		return reservation.ErrDuplicatePNR
	}
	tx.bookings[b.PNR] = b.Clone()
	tx.inserted = append(tx.inserted, b.PNR)
	return nil
}

func (tx *memTx) SaveBooking(ctx context.Context, b *reservation.Booking) error {
	if _, err := tx.Booking(ctx, b.PNR); err != nil {
		return err
	}
	tx.bookings[b.PNR] = b.Clone()
	return nil
}

func (tx *memTx) AppendEvents(_ context.Context, events ...reservation.Event) error {
	tx.events = append(tx.events, events...)
	return nil
}
