package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/warp/seat-engine/reservation"
)

// =============================================================================
// DIALECTS
// =============================================================================

// Dialect selects the driver and the SQL differences between databases.
type Dialect string

const (
	SQLite   Dialect = "sqlite3"
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
)

func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "mysql":
		return MySQL, nil
	}
	return "", fmt.Errorf("unknown database driver %q", s)
}

// driverName is the database/sql driver registered for the dialect.
func (d Dialect) driverName() string {
	switch d {
	case Postgres:
		return "pgx"
	case MySQL:
		return "mysql"
	default:
		return "sqlite3"
	}
}

// rebind rewrites ? placeholders to $1..$n for PostgreSQL.
func (d Dialect) rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// forUpdate is appended to the inventory read that takes the per-key lock.
// SQLite has no row locks; BEGIN IMMEDIATE already holds the database write
// lock for the whole transaction.
func (d Dialect) forUpdate() string {
	if d == SQLite {
		return ""
	}
	return " FOR UPDATE"
}

func (d Dialect) writeOptions() *sql.TxOptions {
	if d == SQLite {
		return nil
	}
	return &sql.TxOptions{Isolation: sql.LevelReadCommitted}
}

func (d Dialect) readOptions() *sql.TxOptions {
	if d == SQLite {
		return nil
	}
	return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
}

// sqliteDSN adds the connection parameters every SQLite database needs:
// foreign keys, a busy timeout and write-locking transactions.
func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

type errKind int

const (
	errOther errKind = iota
	errConflict
	errUnique
)

func classify(err error) errKind {
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch {
		case se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked:
			return errConflict
		case se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return errUnique
		}
		return errOther
	}

	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		switch pe.Code {
		case "40001", "40P01", "55P03": // serialization_failure, deadlock_detected, lock_not_available
			return errConflict
		case "23505": // unique_violation
			return errUnique
		}
		return errOther
	}

	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case 1205, 1213: // lock wait timeout, deadlock
			return errConflict
		case 1062: // duplicate entry
			return errUnique
		}
	}
	return errOther
}

// wrap maps lock and serialization failures to reservation.ErrConflict and
// adds context to everything else.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if classify(err) == errConflict {
		return fmt.Errorf("%s: %w: %v", op, reservation.ErrConflict, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUnique(err error) bool { return classify(err) == errUnique }

// isDuplicateIndex reports MySQL's "Duplicate key name", returned when
// CREATE INDEX runs against an existing index.
func isDuplicateIndex(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1061
}
