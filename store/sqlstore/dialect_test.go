package sqlstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/seat-engine/reservation"
)

var testKey = reservation.InventoryKey{
	TrainNumber: "12951",
	Date:        reservation.NewDate(2026, time.November, 2),
	Class:       reservation.Class3A,
}

func inventoryRow() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"train_number", "service_date", "class_type", "total_seats", "confirmed_count", "rac_capacity",
		"rac_count", "waitlist_count", "seats_per_coach", "coach_prefix", "next_queue_seq", "version",
	}).AddRow("12951", "2026-11-02", "3A", 64, 10, 8, 0, 0, 64, "B", 1, 7)
}

func TestRebind(t *testing.T) {
	q := `SELECT a FROM t WHERE x = ? AND y = ?`
	assert.Equal(t, `SELECT a FROM t WHERE x = $1 AND y = $2`, Postgres.rebind(q))
	assert.Equal(t, q, MySQL.rebind(q))
	assert.Equal(t, q, SQLite.rebind(q))
}

func TestParseDialect(t *testing.T) {
	for in, want := range map[string]Dialect{"": SQLite, "sqlite": SQLite, "PostgreSQL": Postgres, "pgx": Postgres, "mysql": MySQL} {
		got, err := ParseDialect(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDialect("oracle")
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	cases := map[string]struct {
		err  error
		want errKind
	}{
		"sqlite busy":        {sqlite3.Error{Code: sqlite3.ErrBusy}, errConflict},
		"sqlite unique":      {sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintPrimaryKey}, errUnique},
		"postgres deadlock":  {&pgconn.PgError{Code: "40P01"}, errConflict},
		"postgres serialize": {&pgconn.PgError{Code: "40001"}, errConflict},
		"postgres unique":    {&pgconn.PgError{Code: "23505"}, errUnique},
		"postgres other":     {&pgconn.PgError{Code: "42P01"}, errOther},
		"mysql deadlock":     {&mysql.MySQLError{Number: 1213}, errConflict},
		"mysql lock wait":    {&mysql.MySQLError{Number: 1205}, errConflict},
		"mysql duplicate":    {&mysql.MySQLError{Number: 1062}, errUnique},
		"plain":              {errors.New("boom"), errOther},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, classify(tc.err))
		})
	}
}

func TestPostgres_LockInventory_UsesForUpdate(t *testing.T) {
	// GIVEN: A postgres store on a mocked connection
	// WHEN: A transaction locks an inventory key
	// THEN: The row is read with SELECT ... FOR UPDATE and $n placeholders

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := New(db, Postgres)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM class_inventory WHERE train_number = \$1 AND service_date = \$2 AND class_type = \$3 FOR UPDATE`).
		WithArgs("12951", "2026-11-02", "3A").
		WillReturnRows(inventoryRow())
	mock.ExpectCommit()

	err = s.WithTx(context.Background(), func(tx reservation.Tx) error {
		inv, err := tx.LockInventory(context.Background(), testKey)
		require.NoError(t, err)
		assert.Equal(t, testKey, inv.Key)
		assert.Equal(t, int64(7), inv.Version)
		assert.Equal(t, 54, inv.AvailableSeats())
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQL_LockInventory_DeadlockIsConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := New(db, MySQL)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM class_inventory WHERE train_number = \? .* FOR UPDATE`).
		WillReturnError(&mysql.MySQLError{Number: 1213, Message: "Deadlock found"})
	mock.ExpectRollback()

	err = s.WithTx(context.Background(), func(tx reservation.Tx) error {
		_, err := tx.LockInventory(context.Background(), testKey)
		return err
	})
	assert.ErrorIs(t, err, reservation.ErrConflict)
	assert.True(t, reservation.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveInventory_StaleVersionIsConflict(t *testing.T) {
	// GIVEN: The row's version moved since it was read
	// WHEN: SaveInventory runs
	// THEN: No row matches and the error is ErrConflict

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := New(db, Postgres)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE class_inventory SET .* WHERE .* AND version = \$8`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	inv := reservation.ClassInventory{Key: testKey, TotalSeats: 64, ConfirmedCount: 11, Version: 7}
	err = s.WithTx(context.Background(), func(tx reservation.Tx) error {
		return tx.SaveInventory(context.Background(), &inv)
	})
	assert.ErrorIs(t, err, reservation.ErrConflict)
	assert.Equal(t, int64(7), inv.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertBooking_UniqueViolationIsDuplicatePNR(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := New(db, Postgres)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO bookings`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "bookings_pkey"})
	mock.ExpectRollback()

	err = s.WithTx(context.Background(), func(tx reservation.Tx) error {
		return tx.InsertBooking(context.Background(), &reservation.Booking{PNR: "4000000001", Key: testKey})
	})
	assert.ErrorIs(t, err, reservation.ErrDuplicatePNR)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_MySQLIgnoresExistingIndexes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := New(db, MySQL)

	for range tables {
		mock.ExpectExec(`CREATE TABLE IF NOT EXISTS`).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	for range indexes {
		mock.ExpectExec(`CREATE INDEX idx_`).WillReturnError(&mysql.MySQLError{Number: 1061, Message: "Duplicate key name"})
	}

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
