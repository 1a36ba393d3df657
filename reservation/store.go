/*
store.go - Persistence interfaces for inventory, bookings and reference data

PURPOSE:
  Defines the interface between the engine and the database. The engine
  owns the algorithms; the store is a row store plus a locking primitive.

KEY INTERFACES:
  Reader:        Consistent reads (catalog, runs, inventory, bookings)
  Tx:            Reader + the per-key lock and the writes of one transaction
  Store:         Transaction boundaries (WithTx for writes, Read for snapshots)
  CatalogWriter: Reference data loading (stations, trains, runs)
  OutboxStore:   Event relay bookkeeping

LOCKING CONTRACT:
  Tx.LockInventory(key) must block other transactions that lock the same
  key until this transaction ends, and must not block other keys. Every
  mutating engine operation locks the key before reading anything else
  that it will write. SQL stores implement it with SELECT ... FOR UPDATE
  (or a database-wide write lock for SQLite); the memory store uses a
  per-key mutex.

ERRORS:
  Reads of missing rows return the matching ErrXxxNotFound sentinel.
  Lock timeouts, deadlocks and serialization failures surface as
  ErrConflict. A PNR unique violation surfaces as ErrDuplicatePNR.

IMPLEMENTATIONS:
  - reservation/store/memory.go: In-memory for tests and dev
  - store/sqlstore: SQLite, PostgreSQL (pgx) and MySQL

SEE ALSO:
  - engine.go: Retries the whole transaction on ErrConflict
*/
package reservation

import (
	"context"
	"time"
)

// Reader is the read side shared by snapshots and write transactions.
type Reader interface {
	Station(ctx context.Context, code string) (*Station, error)
	Stations(ctx context.Context) ([]Station, error)
	Train(ctx context.Context, number string) (*Train, error)
	Trains(ctx context.Context) ([]Train, error)
	Run(ctx context.Context, trainNumber string, date Date) (*Run, error)
	Inventory(ctx context.Context, key InventoryKey) (*ClassInventory, error)
	Inventories(ctx context.Context, trainNumber string, date Date) ([]ClassInventory, error)
	Booking(ctx context.Context, pnr string) (*Booking, error)
}

// QueueEntry points at the claim at the head of the RAC or waitlist queue.
type QueueEntry struct {
	PNR      string
	ClaimID  string
	QueueSeq int64
}

// Tx is one write transaction.
type Tx interface {
	Reader

	// LockInventory takes the per-key lock and returns the current row.
	LockInventory(ctx context.Context, key InventoryKey) (*ClassInventory, error)
	SaveInventory(ctx context.Context, inv *ClassInventory) error

	// QueueHead returns the claim with the lowest queue sequence in the given
	// status (RAC or WAITLISTED), or nil when the queue is empty.
	QueueHead(ctx context.Context, key InventoryKey, status ClaimStatus) (*QueueEntry, error)
	OccupiedSeats(ctx context.Context, key InventoryKey) ([]int, error)
	OccupiedRACSlots(ctx context.Context, key InventoryKey) ([]int, error)
	// ShiftWaitlist decrements the rank of every waitlisted claim of key
	// ranked after rank.
	ShiftWaitlist(ctx context.Context, key InventoryKey, after int) error

	PNRExists(ctx context.Context, pnr string) (bool, error)
	// InsertBooking persists a new booking and its claims. A taken PNR
	// yields ErrDuplicatePNR.
	InsertBooking(ctx context.Context, b *Booking) error
	// SaveBooking rewrites the booking header and every claim.
	SaveBooking(ctx context.Context, b *Booking) error

	AppendEvents(ctx context.Context, events ...Event) error
}

type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Read(ctx context.Context, fn func(r Reader) error) error
}

// CatalogWriter loads reference data. SaveStation and SaveTrain upsert.
// OpenRun is a no-op when the run already exists.
type CatalogWriter interface {
	SaveStation(ctx context.Context, s Station) error
	SaveTrain(ctx context.Context, t Train) error
	OpenRun(ctx context.Context, run Run, inventories []ClassInventory) (created bool, err error)
}

// OutboxStore is consumed by the event relay.
type OutboxStore interface {
	PendingEvents(ctx context.Context, limit int) ([]Event, error)
	MarkPublished(ctx context.Context, ids []string, at time.Time) error
	MarkFailed(ctx context.Context, id string, reason string) error
	// MarkDead records a final failed attempt and parks the event. Parked
	// events are no longer returned by PendingEvents.
	MarkDead(ctx context.Context, id string, reason string, at time.Time) error
}
