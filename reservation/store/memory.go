// Package store provides an in-memory reservation.Store.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/seat-engine/reservation"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps committed state behind one RWMutex and serializes writers per
// inventory key with a channel-based lock. Transactions buffer their writes
// and apply them at commit, so an aborted transaction leaves no trace.
type Memory struct {
	mu        sync.RWMutex
	stations  map[string]reservation.Station
	trains    map[string]reservation.Train
	runs      map[runKey]reservation.Run
	inventory map[reservation.InventoryKey]reservation.ClassInventory
	bookings  map[string]*reservation.Booking
	byKey     map[reservation.InventoryKey][]string // PNRs in insertion order
	outbox    []reservation.Event

	locksMu sync.Mutex
	locks   map[reservation.InventoryKey]chan struct{}
}

type runKey struct {
	train string
	date  reservation.Date
}

func NewMemory() *Memory {
	return &Memory{
		stations:  make(map[string]reservation.Station),
		trains:    make(map[string]reservation.Train),
		runs:      make(map[runKey]reservation.Run),
		inventory: make(map[reservation.InventoryKey]reservation.ClassInventory),
		bookings:  make(map[string]*reservation.Booking),
		byKey:     make(map[reservation.InventoryKey][]string),
		locks:     make(map[reservation.InventoryKey]chan struct{}),
	}
}

// Read runs fn against committed state. Commits wait until fn returns.
func (m *Memory) Read(_ context.Context, fn func(reservation.Reader) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(committed{m})
}

// WithTx executes fn within a transaction.
// Writes are buffered in the transaction and applied atomically on success.
func (m *Memory) WithTx(ctx context.Context, fn func(reservation.Tx) error) error {
	tx := &memTx{
		m:         m,
		held:      make(map[reservation.InventoryKey]chan struct{}),
		inventory: make(map[reservation.InventoryKey]reservation.ClassInventory),
		bookings:  make(map[string]*reservation.Booking),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.commit(tx)
}

func (m *Memory) commit(tx *memTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, pnr := range tx.inserted {
		if _, taken := m.bookings[pnr]; taken {
			return reservation.ErrDuplicatePNR
		}
	}
	for k, inv := range tx.inventory {
		m.inventory[k] = inv
	}
	for _, pnr := range tx.inserted {
		b := tx.bookings[pnr]
		m.byKey[b.Key] = append(m.byKey[b.Key], pnr)
	}
	for pnr, b := range tx.bookings {
		m.bookings[pnr] = b
	}
	m.outbox = append(m.outbox, tx.events...)
	return nil
}

func (m *Memory) keyLock(key reservation.InventoryKey) chan struct{} {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	ch, ok := m.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		m.locks[key] = ch
	}
	return ch
}

// =============================================================================
// CATALOG WRITER
// =============================================================================

func (m *Memory) SaveStation(_ context.Context, s reservation.Station) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stations[s.Code] = s
	return nil
}

func (m *Memory) SaveTrain(_ context.Context, t reservation.Train) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trains[t.Number] = cloneTrain(t)
	return nil
}

func (m *Memory) OpenRun(_ context.Context, run reservation.Run, invs []reservation.ClassInventory) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rk := runKey{train: run.TrainNumber, date: run.Date}
	if _, ok := m.runs[rk]; ok {
		return false, nil
	}
	m.runs[rk] = run
	for _, inv := range invs {
		m.inventory[inv.Key] = inv
	}
	return true, nil
}

// =============================================================================
// OUTBOX
// =============================================================================

func (m *Memory) PendingEvents(_ context.Context, limit int) ([]reservation.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []reservation.Event
	for _, ev := range m.outbox {
		if ev.PublishedAt != nil || ev.DeadAt != nil {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) MarkPublished(_ context.Context, ids []string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	for i := range m.outbox {
		if want[m.outbox[i].ID] {
			t := at
			m.outbox[i].PublishedAt = &t
		}
	}
	return nil
}

func (m *Memory) MarkFailed(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.outbox {
		if m.outbox[i].ID == id {
			m.outbox[i].Attempts++
			m.outbox[i].LastError = reason
		}
	}
	return nil
}

func (m *Memory) MarkDead(_ context.Context, id, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.outbox {
		if m.outbox[i].ID == id {
			t := at
			m.outbox[i].Attempts++
			m.outbox[i].LastError = reason
			m.outbox[i].DeadAt = &t
		}
	}
	return nil
}

// =============================================================================
// COMMITTED VIEW - Caller holds m.mu
// =============================================================================

type committed struct{ m *Memory }

func (c committed) Station(_ context.Context, code string) (*reservation.Station, error) {
	s, ok := c.m.stations[code]
	if !ok {
		return nil, reservation.ErrStationNotFound
	}
	return &s, nil
}

func (c committed) Stations(_ context.Context) ([]reservation.Station, error) {
	out := make([]reservation.Station, 0, len(c.m.stations))
	for _, s := range c.m.stations {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (c committed) Train(_ context.Context, number string) (*reservation.Train, error) {
	t, ok := c.m.trains[number]
	if !ok {
		return nil, reservation.ErrTrainNotFound
	}
	t = cloneTrain(t)
	return &t, nil
}

func (c committed) Trains(_ context.Context) ([]reservation.Train, error) {
	out := make([]reservation.Train, 0, len(c.m.trains))
	for _, t := range c.m.trains {
		out = append(out, cloneTrain(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (c committed) Run(_ context.Context, train string, date reservation.Date) (*reservation.Run, error) {
	r, ok := c.m.runs[runKey{train: train, date: date}]
	if !ok {
		return nil, reservation.ErrRunNotFound
	}
	return &r, nil
}

func (c committed) Inventory(_ context.Context, key reservation.InventoryKey) (*reservation.ClassInventory, error) {
	inv, ok := c.m.inventory[key]
	if !ok {
		return nil, reservation.ErrClassNotFound
	}
	return &inv, nil
}

func (c committed) Inventories(_ context.Context, train string, date reservation.Date) ([]reservation.ClassInventory, error) {
	var out []reservation.ClassInventory
	for _, class := range reservation.ClassTypes() {
		if inv, ok := c.m.inventory[reservation.InventoryKey{TrainNumber: train, Date: date, Class: class}]; ok {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (c committed) Booking(_ context.Context, pnr string) (*reservation.Booking, error) {
	b, ok := c.m.bookings[pnr]
	if !ok {
		return nil, reservation.ErrPNRNotFound
	}
	return b.Clone(), nil
}

func cloneTrain(t reservation.Train) reservation.Train {
	t.RunsOn = append([]time.Weekday(nil), t.RunsOn...)
	t.Stops = append([]reservation.Stop(nil), t.Stops...)
	t.Classes = append([]reservation.TrainClass(nil), t.Classes...)
	return t
}
