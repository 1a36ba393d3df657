/*
Package sqlstore provides a database/sql implementation of the reservation
store interfaces for SQLite, PostgreSQL and MySQL.

PURPOSE:
  Persists the catalog, run inventories, bookings, passenger claims and the
  event outbox. The engine owns the allocation rules; this package only
  provides rows, the per-key lock and transaction boundaries.

INTERFACES IMPLEMENTED:
  reservation.Store:         WithTx / Read
  reservation.Tx:            Reads and writes of one transaction
  reservation.CatalogWriter: Stations, trains, run opening
  reservation.OutboxStore:   Event relay bookkeeping

LOCKING:
  PostgreSQL and MySQL: LockInventory is SELECT ... FOR UPDATE on the
  class_inventory row, under READ COMMITTED. Bookings of other keys proceed
  in parallel.
  SQLite: one open connection and BEGIN IMMEDIATE (_txlock=immediate), so
  write transactions are serialized database-wide.

  SaveInventory additionally checks the row version, so a lost lock shows up
  as ErrConflict instead of a silent overwrite.

ERROR MAPPING:
  SQLITE_BUSY/LOCKED, SQLSTATE 40001/40P01/55P03, MySQL 1205/1213 -> ErrConflict
  Unique violation on bookings.pnr                                -> ErrDuplicatePNR

USAGE:
  store, err := sqlstore.Open("sqlite3", "./data/seats.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := reservation.NewEngine(store)

MIGRATION:
  Schema is auto-migrated on Open(). New() leaves migration to the caller.

SEE ALSO:
  - reservation/store.go: Interface definitions
  - reservation/store/memory.go: In-memory implementation for testing
*/
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/warp/seat-engine/reservation"
)

// Store implements the reservation store interfaces on a *sql.DB.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open connects with the given driver ("sqlite3", "postgres" or "mysql") and
// migrates the schema. For SQLite, dsn is a file path or ":memory:".
func Open(driver, dsn string) (*Store, error) {
	d, err := ParseDialect(driver)
	if err != nil {
		return nil, err
	}
	if d == SQLite {
		dsn = sqliteDSN(dsn)
	}

	db, err := sql.Open(d.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if d == SQLite {
		// Single writer; also keeps a ":memory:" database alive.
		db.SetMaxOpenConns(1)
	}

	store := New(db, d)
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// New wraps an open database. It does not migrate.
func New(db *sql.DB, d Dialect) *Store {
	return &Store{db: db, dialect: d}
}

func (s *Store) Dialect() Dialect { return s.dialect }

// SetMaxOpenConns is a no-op for SQLite, which is pinned to one connection.
func (s *Store) SetMaxOpenConns(n int) {
	if s.dialect != SQLite && n > 0 {
		s.db.SetMaxOpenConns(n)
	}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range tables {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	for _, ix := range indexes {
		if _, err := s.db.ExecContext(ctx, s.dialect.createIndex(ix)); err != nil && !isDuplicateIndex(err) {
			return fmt.Errorf("index %s: %w", ix.name, err)
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONS (reservation.Store)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(reservation.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, s.dialect.writeOptions())
	if err != nil {
		return wrap("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&tx{reader: reader{q: sqlTx, d: s.dialect}}); err != nil {
		return err
	}
	return wrap("commit", sqlTx.Commit())
}

// Read runs fn in a read-only transaction so multi-row reads are consistent.
func (s *Store) Read(ctx context.Context, fn func(reservation.Reader) error) error {
	sqlTx, err := s.db.BeginTx(ctx, s.dialect.readOptions())
	if err != nil {
		return wrap("begin read", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&reader{q: sqlTx, d: s.dialect}); err != nil {
		return err
	}
	return wrap("commit read", sqlTx.Commit())
}

// =============================================================================
// CATALOG WRITER
// =============================================================================

// SaveStation upserts a station.
func (s *Store) SaveStation(ctx context.Context, st reservation.Station) error {
	return s.write(ctx, "save station", func(q querier) error {
		if _, err := q.ExecContext(ctx, s.dialect.rebind(`DELETE FROM stations WHERE code = ?`), st.Code); err != nil {
			return err
		}
		_, err := q.ExecContext(ctx, s.dialect.rebind(`
			INSERT INTO stations (code, name, city, state) VALUES (?, ?, ?, ?)
		`), st.Code, st.Name, st.City, st.State)
		return err
	})
}

// SaveTrain upserts a train with its stops and classes.
func (s *Store) SaveTrain(ctx context.Context, t reservation.Train) error {
	return s.write(ctx, "save train", func(q querier) error {
		for _, stmt := range []string{
			`DELETE FROM train_stops WHERE train_number = ?`,
			`DELETE FROM train_classes WHERE train_number = ?`,
			`DELETE FROM trains WHERE number = ?`,
		} {
			if _, err := q.ExecContext(ctx, s.dialect.rebind(stmt), t.Number); err != nil {
				return err
			}
		}

		if _, err := q.ExecContext(ctx, s.dialect.rebind(`
			INSERT INTO trains (number, name, train_type, runs_on) VALUES (?, ?, ?, ?)
		`), t.Number, t.Name, t.Type, formatWeekdays(t.RunsOn)); err != nil {
			return err
		}

		for _, st := range t.Stops {
			if _, err := q.ExecContext(ctx, s.dialect.rebind(`
				INSERT INTO train_stops
				(train_number, seq, station_code, arrival, departure, day_offset, distance_km, platform)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`), t.Number, st.Seq, st.StationCode, st.Arrival, st.Departure, st.DayOffset, st.DistanceKm, st.Platform); err != nil {
				return err
			}
		}

		for _, c := range t.Classes {
			if _, err := q.ExecContext(ctx, s.dialect.rebind(`
				INSERT INTO train_classes
				(train_number, class_type, base_fare, total_seats, rac_capacity, seats_per_coach, coach_prefix)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`), t.Number, string(c.Class), c.BaseFare.String(), c.TotalSeats, c.RACCapacity, c.SeatsPerCoach, c.CoachPrefix); err != nil {
				return err
			}
		}
		return nil
	})
}

// OpenRun inserts a run and its inventories unless the run already exists.
func (s *Store) OpenRun(ctx context.Context, run reservation.Run, invs []reservation.ClassInventory) (bool, error) {
	created := false
	err := s.write(ctx, "open run", func(q querier) error {
		var n int
		if err := q.QueryRowContext(ctx, s.dialect.rebind(`
			SELECT COUNT(*) FROM runs WHERE train_number = ? AND service_date = ?
		`), run.TrainNumber, run.Date.String()).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return nil
		}

		if _, err := q.ExecContext(ctx, s.dialect.rebind(`
			INSERT INTO runs (train_number, service_date, departure_at) VALUES (?, ?, ?)
		`), run.TrainNumber, run.Date.String(), formatTime(run.DepartureAt)); err != nil {
			return err
		}
		for _, inv := range invs {
			if _, err := q.ExecContext(ctx, s.dialect.rebind(`
				INSERT INTO class_inventory
				(train_number, service_date, class_type, total_seats, confirmed_count, rac_capacity,
				 rac_count, waitlist_count, seats_per_coach, coach_prefix, next_queue_seq, version)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`),
				inv.Key.TrainNumber, inv.Key.Date.String(), string(inv.Key.Class),
				inv.TotalSeats, inv.ConfirmedCount, inv.RACCapacity,
				inv.RACCount, inv.WaitlistCount, inv.SeatsPerCoach, inv.CoachPrefix,
				inv.NextQueueSeq, inv.Version,
			); err != nil {
				return err
			}
		}
		created = true
		return nil
	})
	if err != nil && isUnique(err) {
		// Opened concurrently by someone else.
		return false, nil
	}
	return created, err
}

// write runs fn in its own write transaction.
func (s *Store) write(ctx context.Context, op string, fn func(q querier) error) error {
	sqlTx, err := s.db.BeginTx(ctx, s.dialect.writeOptions())
	if err != nil {
		return wrap(op, err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return wrap(op, err)
	}
	return wrap(op, sqlTx.Commit())
}

// =============================================================================
// OUTBOX
// =============================================================================

// PendingEvents returns unpublished events that are not parked, oldest first.
func (s *Store) PendingEvents(ctx context.Context, limit int) ([]reservation.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT id, event_type, pnr, payload, created_at, published_at, attempts, last_error
		FROM outbox_events
		WHERE published_at IS NULL AND dead_at IS NULL
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, wrap("pending events", err)
	}
	defer rows.Close()

	var out []reservation.Event
	for rows.Next() {
		var (
			ev          reservation.Event
			typ         string
			payload     string
			createdAt   string
			publishedAt sql.NullString
			lastError   sql.NullString
		)
		if err := rows.Scan(&ev.ID, &typ, &ev.PNR, &payload, &createdAt, &publishedAt, &ev.Attempts, &lastError); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = reservation.EventType(typ)
		ev.Payload = []byte(payload)
		ev.CreatedAt = parseTime(createdAt)
		if publishedAt.Valid {
			t := parseTime(publishedAt.String)
			ev.PublishedAt = &t
		}
		ev.LastError = lastError.String
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) MarkPublished(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, formatTime(at))
	for _, id := range ids {
		args = append(args, id)
	}
	query := `UPDATE outbox_events SET published_at = ? WHERE id IN (` +
		strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ") + `)`
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(query), args...)
	return wrap("mark published", err)
}

func (s *Store) MarkFailed(ctx context.Context, id, reason string) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		UPDATE outbox_events SET attempts = attempts + 1, last_error = ? WHERE id = ?
	`), reason, id)
	return wrap("mark failed", err)
}

func (s *Store) MarkDead(ctx context.Context, id, reason string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		UPDATE outbox_events SET attempts = attempts + 1, last_error = ?, dead_at = ? WHERE id = ?
	`), reason, formatTime(at), id)
	return wrap("mark dead", err)
}
