package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/seat-engine/reservation"
)

// =============================================================================
// READER - reservation.Reader over one transaction
// =============================================================================

type reader struct {
	q querier
	d Dialect
}

func (r *reader) Station(ctx context.Context, code string) (*reservation.Station, error) {
	var s reservation.Station
	err := r.q.QueryRowContext(ctx, r.d.rebind(`
		SELECT code, name, city, state FROM stations WHERE code = ?
	`), code).Scan(&s.Code, &s.Name, &s.City, &s.State)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, reservation.ErrStationNotFound
	}
	if err != nil {
		return nil, wrap("get station", err)
	}
	return &s, nil
}

func (r *reader) Stations(ctx context.Context) ([]reservation.Station, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT code, name, city, state FROM stations ORDER BY code`)
	if err != nil {
		return nil, wrap("list stations", err)
	}
	defer rows.Close()

	var out []reservation.Station
	for rows.Next() {
		var s reservation.Station
		if err := rows.Scan(&s.Code, &s.Name, &s.City, &s.State); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *reader) Train(ctx context.Context, number string) (*reservation.Train, error) {
	var (
		t      reservation.Train
		runsOn string
	)
	err := r.q.QueryRowContext(ctx, r.d.rebind(`
		SELECT number, name, train_type, runs_on FROM trains WHERE number = ?
	`), number).Scan(&t.Number, &t.Name, &t.Type, &runsOn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, reservation.ErrTrainNotFound
	}
	if err != nil {
		return nil, wrap("get train", err)
	}
	if t.RunsOn, err = parseWeekdays(runsOn); err != nil {
		return nil, fmt.Errorf("train %s: %w", number, err)
	}
	if t.Stops, err = r.stops(ctx, number); err != nil {
		return nil, err
	}
	if t.Classes, err = r.classes(ctx, number); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *reader) stops(ctx context.Context, number string) ([]reservation.Stop, error) {
	rows, err := r.q.QueryContext(ctx, r.d.rebind(`
		SELECT seq, station_code, arrival, departure, day_offset, distance_km, platform
		FROM train_stops WHERE train_number = ? ORDER BY seq
	`), number)
	if err != nil {
		return nil, wrap("list stops", err)
	}
	defer rows.Close()

	var out []reservation.Stop
	for rows.Next() {
		var s reservation.Stop
		if err := rows.Scan(&s.Seq, &s.StationCode, &s.Arrival, &s.Departure, &s.DayOffset, &s.DistanceKm, &s.Platform); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *reader) classes(ctx context.Context, number string) ([]reservation.TrainClass, error) {
	rows, err := r.q.QueryContext(ctx, r.d.rebind(`
		SELECT class_type, base_fare, total_seats, rac_capacity, seats_per_coach, coach_prefix
		FROM train_classes WHERE train_number = ?
	`), number)
	if err != nil {
		return nil, wrap("list classes", err)
	}
	defer rows.Close()

	var out []reservation.TrainClass
	for rows.Next() {
		var (
			c     reservation.TrainClass
			class string
			fare  string
		)
		if err := rows.Scan(&class, &fare, &c.TotalSeats, &c.RACCapacity, &c.SeatsPerCoach, &c.CoachPrefix); err != nil {
			return nil, err
		}
		c.Class = reservation.ClassType(class)
		if c.BaseFare, err = decimal.NewFromString(fare); err != nil {
			return nil, fmt.Errorf("train %s class %s fare: %w", number, class, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return classRank(out[i].Class) < classRank(out[j].Class) })
	return out, nil
}

func (r *reader) Trains(ctx context.Context) ([]reservation.Train, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT number FROM trains ORDER BY number`)
	if err != nil {
		return nil, wrap("list trains", err)
	}
	var numbers []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return nil, err
		}
		numbers = append(numbers, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]reservation.Train, 0, len(numbers))
	for _, n := range numbers {
		t, err := r.Train(ctx, n)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, nil
}

func (r *reader) Run(ctx context.Context, trainNumber string, date reservation.Date) (*reservation.Run, error) {
	var departure string
	err := r.q.QueryRowContext(ctx, r.d.rebind(`
		SELECT departure_at FROM runs WHERE train_number = ? AND service_date = ?
	`), trainNumber, date.String()).Scan(&departure)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, reservation.ErrRunNotFound
	}
	if err != nil {
		return nil, wrap("get run", err)
	}
	return &reservation.Run{TrainNumber: trainNumber, Date: date, DepartureAt: parseTime(departure)}, nil
}

const inventoryColumns = `train_number, service_date, class_type, total_seats, confirmed_count, rac_capacity,
	rac_count, waitlist_count, seats_per_coach, coach_prefix, next_queue_seq, version`

type scanner interface {
	Scan(dest ...any) error
}

func scanInventory(s scanner) (*reservation.ClassInventory, error) {
	var (
		inv   reservation.ClassInventory
		date  string
		class string
	)
	if err := s.Scan(&inv.Key.TrainNumber, &date, &class, &inv.TotalSeats, &inv.ConfirmedCount, &inv.RACCapacity,
		&inv.RACCount, &inv.WaitlistCount, &inv.SeatsPerCoach, &inv.CoachPrefix, &inv.NextQueueSeq, &inv.Version); err != nil {
		return nil, err
	}
	d, err := reservation.ParseDate(date)
	if err != nil {
		return nil, err
	}
	inv.Key.Date = d
	inv.Key.Class = reservation.ClassType(class)
	return &inv, nil
}

func (r *reader) inventory(ctx context.Context, key reservation.InventoryKey, lock string) (*reservation.ClassInventory, error) {
	row := r.q.QueryRowContext(ctx, r.d.rebind(`
		SELECT `+inventoryColumns+`
		FROM class_inventory
		WHERE train_number = ? AND service_date = ? AND class_type = ?`+lock),
		key.TrainNumber, key.Date.String(), string(key.Class))
	inv, err := scanInventory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, reservation.ErrClassNotFound
	}
	if err != nil {
		return nil, wrap("get inventory "+key.String(), err)
	}
	return inv, nil
}

func (r *reader) Inventory(ctx context.Context, key reservation.InventoryKey) (*reservation.ClassInventory, error) {
	return r.inventory(ctx, key, "")
}

func (r *reader) Inventories(ctx context.Context, trainNumber string, date reservation.Date) ([]reservation.ClassInventory, error) {
	rows, err := r.q.QueryContext(ctx, r.d.rebind(`
		SELECT `+inventoryColumns+`
		FROM class_inventory
		WHERE train_number = ? AND service_date = ?
	`), trainNumber, date.String())
	if err != nil {
		return nil, wrap("list inventories", err)
	}
	defer rows.Close()

	var out []reservation.ClassInventory
	for rows.Next() {
		inv, err := scanInventory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return classRank(out[i].Key.Class) < classRank(out[j].Key.Class) })
	return out, nil
}

func (r *reader) Booking(ctx context.Context, pnr string) (*reservation.Booking, error) {
	var (
		b                             reservation.Booking
		date, class, fare, createdAt  string
		updatedAt, mode, concession   string
		status                        string
		reason, charge, refund, endAt sql.NullString
	)
	err := r.q.QueryRowContext(ctx, r.d.rebind(`
		SELECT pnr, train_number, service_date, class_type, total_fare, payment_mode,
		       concession_type, concession_proof, contact_name, contact_email, contact_phone,
		       contact_address, status, cancel_reason, cancel_charge, cancel_refund, cancelled_at,
		       created_at, updated_at
		FROM bookings WHERE pnr = ?
	`), pnr).Scan(
		&b.PNR, &b.Key.TrainNumber, &date, &class, &fare, &mode,
		&concession, &b.ConcessionProof, &b.Contact.Name, &b.Contact.Email, &b.Contact.Phone,
		&b.Contact.Address, &status, &reason, &charge, &refund, &endAt,
		&createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, reservation.ErrPNRNotFound
	}
	if err != nil {
		return nil, wrap("get booking", err)
	}

	if b.Key.Date, err = reservation.ParseDate(date); err != nil {
		return nil, err
	}
	b.Key.Class = reservation.ClassType(class)
	b.TotalFare = parseDecimal(fare)
	b.PaymentMode = reservation.PaymentMode(mode)
	b.ConcessionType = reservation.ConcessionType(concession)
	b.Status = reservation.BookingStatus(status)
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	if endAt.Valid {
		b.Cancellation = &reservation.Cancellation{
			Reason:      reason.String,
			Charge:      parseDecimal(charge.String),
			Refund:      parseDecimal(refund.String),
			CancelledAt: parseTime(endAt.String),
		}
	}

	if b.Passengers, err = r.claims(ctx, pnr); err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *reader) claims(ctx context.Context, pnr string) ([]reservation.PassengerClaim, error) {
	rows, err := r.q.QueryContext(ctx, r.d.rebind(`
		SELECT id, passenger_seq, name, age, gender, id_proof_type, id_proof_number, concession,
		       fare, status, seat_number, coach, berth, rac_slot, waitlist_rank, queue_seq
		FROM passenger_claims WHERE pnr = ? ORDER BY passenger_seq
	`), pnr)
	if err != nil {
		return nil, wrap("list claims", err)
	}
	defer rows.Close()

	var out []reservation.PassengerClaim
	for rows.Next() {
		var (
			c                                reservation.PassengerClaim
			gender, concession, fare, status string
		)
		if err := rows.Scan(&c.ID, &c.Seq, &c.Name, &c.Age, &gender, &c.IDProofType, &c.IDProofNumber, &concession,
			&fare, &status, &c.SeatNumber, &c.Coach, &c.Berth, &c.RACSlot, &c.WaitlistRank, &c.QueueSeq); err != nil {
			return nil, err
		}
		c.Gender = reservation.Gender(gender)
		c.Concession = reservation.ConcessionType(concession)
		c.Fare = parseDecimal(fare)
		c.Status = reservation.ClaimStatus(status)
		out = append(out, c)
	}
	return out, rows.Err()
}

// =============================================================================
// TX - reservation.Tx
// =============================================================================

type tx struct {
	reader
}

func (t *tx) LockInventory(ctx context.Context, key reservation.InventoryKey) (*reservation.ClassInventory, error) {
	return t.inventory(ctx, key, t.d.forUpdate())
}

// SaveInventory writes the counters if the row still has inv.Version.
func (t *tx) SaveInventory(ctx context.Context, inv *reservation.ClassInventory) error {
	res, err := t.q.ExecContext(ctx, t.d.rebind(`
		UPDATE class_inventory
		SET confirmed_count = ?, rac_count = ?, waitlist_count = ?, next_queue_seq = ?, version = version + 1
		WHERE train_number = ? AND service_date = ? AND class_type = ? AND version = ?
	`),
		inv.ConfirmedCount, inv.RACCount, inv.WaitlistCount, inv.NextQueueSeq,
		inv.Key.TrainNumber, inv.Key.Date.String(), string(inv.Key.Class), inv.Version,
	)
	if err != nil {
		return wrap("save inventory", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("save inventory", err)
	}
	if n == 0 {
		return fmt.Errorf("save inventory %s: %w", inv.Key, reservation.ErrConflict)
	}
	inv.Version++
	return nil
}

func (t *tx) QueueHead(ctx context.Context, key reservation.InventoryKey, status reservation.ClaimStatus) (*reservation.QueueEntry, error) {
	var e reservation.QueueEntry
	err := t.q.QueryRowContext(ctx, t.d.rebind(`
		SELECT pnr, id, queue_seq FROM passenger_claims
		WHERE train_number = ? AND service_date = ? AND class_type = ? AND status = ?
		ORDER BY queue_seq ASC
		LIMIT 1
	`), key.TrainNumber, key.Date.String(), string(key.Class), string(status)).Scan(&e.PNR, &e.ClaimID, &e.QueueSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("queue head", err)
	}
	return &e, nil
}

func (t *tx) OccupiedSeats(ctx context.Context, key reservation.InventoryKey) ([]int, error) {
	return t.occupied(ctx, key, "seat_number", reservation.StatusConfirmed)
}

func (t *tx) OccupiedRACSlots(ctx context.Context, key reservation.InventoryKey) ([]int, error) {
	return t.occupied(ctx, key, "rac_slot", reservation.StatusRAC)
}

func (t *tx) occupied(ctx context.Context, key reservation.InventoryKey, column string, status reservation.ClaimStatus) ([]int, error) {
	rows, err := t.q.QueryContext(ctx, t.d.rebind(`
		SELECT `+column+` FROM passenger_claims
		WHERE train_number = ? AND service_date = ? AND class_type = ? AND status = ?
	`), key.TrainNumber, key.Date.String(), string(key.Class), string(status))
	if err != nil {
		return nil, wrap("occupied "+column, err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (t *tx) ShiftWaitlist(ctx context.Context, key reservation.InventoryKey, after int) error {
	_, err := t.q.ExecContext(ctx, t.d.rebind(`
		UPDATE passenger_claims SET waitlist_rank = waitlist_rank - 1
		WHERE train_number = ? AND service_date = ? AND class_type = ? AND status = ? AND waitlist_rank > ?
	`), key.TrainNumber, key.Date.String(), string(key.Class), string(reservation.StatusWaitlisted), after)
	return wrap("shift waitlist", err)
}

func (t *tx) PNRExists(ctx context.Context, pnr string) (bool, error) {
	var n int
	err := t.q.QueryRowContext(ctx, t.d.rebind(`SELECT COUNT(*) FROM bookings WHERE pnr = ?`), pnr).Scan(&n)
	if err != nil {
		return false, wrap("pnr exists", err)
	}
	return n > 0, nil
}

func (t *tx) InsertBooking(ctx context.Context, b *reservation.Booking) error {
	reason, charge, refund, endAt := cancellationColumns(b.Cancellation)
	_, err := t.q.ExecContext(ctx, t.d.rebind(`
		INSERT INTO bookings
		(pnr, train_number, service_date, class_type, total_fare, payment_mode,
		 concession_type, concession_proof, contact_name, contact_email, contact_phone,
		 contact_address, status, cancel_reason, cancel_charge, cancel_refund, cancelled_at,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		b.PNR, b.Key.TrainNumber, b.Key.Date.String(), string(b.Key.Class), b.TotalFare.String(), string(b.PaymentMode),
		string(b.ConcessionType), b.ConcessionProof, b.Contact.Name, b.Contact.Email, b.Contact.Phone,
		b.Contact.Address, string(b.Status), reason, charge, refund, endAt,
		formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
	)
	if err != nil {
		if isUnique(err) {
			return reservation.ErrDuplicatePNR
		}
		return wrap("insert booking", err)
	}

	for _, c := range b.Passengers {
		if _, err := t.q.ExecContext(ctx, t.d.rebind(`
			INSERT INTO passenger_claims
			(id, pnr, passenger_seq, train_number, service_date, class_type, name, age, gender,
			 id_proof_type, id_proof_number, concession, fare, status, seat_number, coach, berth,
			 rac_slot, waitlist_rank, queue_seq)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`),
			c.ID, b.PNR, c.Seq, b.Key.TrainNumber, b.Key.Date.String(), string(b.Key.Class), c.Name, c.Age, string(c.Gender),
			c.IDProofType, c.IDProofNumber, string(c.Concession), c.Fare.String(), string(c.Status), c.SeatNumber, c.Coach, c.Berth,
			c.RACSlot, c.WaitlistRank, c.QueueSeq,
		); err != nil {
			return wrap("insert claim", err)
		}
	}
	return nil
}

func (t *tx) SaveBooking(ctx context.Context, b *reservation.Booking) error {
	exists, err := t.PNRExists(ctx, b.PNR)
	if err != nil {
		return err
	}
	if !exists {
		return reservation.ErrPNRNotFound
	}

	reason, charge, refund, endAt := cancellationColumns(b.Cancellation)
	if _, err := t.q.ExecContext(ctx, t.d.rebind(`
		UPDATE bookings
		SET status = ?, cancel_reason = ?, cancel_charge = ?, cancel_refund = ?, cancelled_at = ?, updated_at = ?
		WHERE pnr = ?
	`), string(b.Status), reason, charge, refund, endAt, formatTime(b.UpdatedAt), b.PNR); err != nil {
		return wrap("save booking", err)
	}

	for _, c := range b.Passengers {
		if _, err := t.q.ExecContext(ctx, t.d.rebind(`
			UPDATE passenger_claims
			SET status = ?, seat_number = ?, coach = ?, berth = ?, rac_slot = ?, waitlist_rank = ?, queue_seq = ?
			WHERE id = ?
		`), string(c.Status), c.SeatNumber, c.Coach, c.Berth, c.RACSlot, c.WaitlistRank, c.QueueSeq, c.ID); err != nil {
			return wrap("save claim", err)
		}
	}
	return nil
}

func (t *tx) AppendEvents(ctx context.Context, events ...reservation.Event) error {
	for _, ev := range events {
		if _, err := t.q.ExecContext(ctx, t.d.rebind(`
			INSERT INTO outbox_events (id, event_type, pnr, payload, created_at, attempts)
			VALUES (?, ?, ?, ?, ?, 0)
		`), ev.ID, string(ev.Type), ev.PNR, string(ev.Payload), formatTime(ev.CreatedAt)); err != nil {
			return wrap("append event", err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

const timeLayout = "2006-01-02T15:04:05.000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func cancellationColumns(c *reservation.Cancellation) (reason, charge, refund, at sql.NullString) {
	if c == nil {
		return
	}
	return sql.NullString{String: c.Reason, Valid: true},
		sql.NullString{String: c.Charge.String(), Valid: true},
		sql.NullString{String: c.Refund.String(), Valid: true},
		sql.NullString{String: formatTime(c.CancelledAt), Valid: true}
}

// formatWeekdays stores running days as "1,3,5" (time.Weekday numbers).
func formatWeekdays(days []time.Weekday) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(int(d))
	}
	return strings.Join(parts, ",")
}

func parseWeekdays(s string) ([]time.Weekday, error) {
	if s == "" {
		return nil, nil
	}
	var out []time.Weekday
	for _, p := range strings.Split(s, ",") {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 6 {
			return nil, fmt.Errorf("bad running day %q", p)
		}
		out = append(out, time.Weekday(n))
	}
	return out, nil
}

func classRank(c reservation.ClassType) int {
	for i, known := range reservation.ClassTypes() {
		if known == c {
			return i
		}
	}
	return len(reservation.ClassTypes())
}
