package sqlstore_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/seat-engine/reservation"
	"github.com/warp/seat-engine/store/sqlstore"
)

var (
	serviceDate = reservation.NewDate(2026, time.November, 2)
	bookedAt    = time.Date(2026, time.October, 20, 10, 0, 0, 0, time.UTC)
)

func openStore(t *testing.T, seats, rac int) (*sqlstore.Store, reservation.InventoryKey) {
	t.Helper()
	ctx := context.Background()

	s, err := sqlstore.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	for _, st := range []reservation.Station{
		{Code: "NDLS", Name: "New Delhi", City: "Delhi", State: "Delhi"},
		{Code: "BCT", Name: "Mumbai Central", City: "Mumbai", State: "Maharashtra"},
	} {
		require.NoError(t, s.SaveStation(ctx, st))
	}

	train := reservation.Train{
		Number: "12951",
		Name:   "Mumbai Rajdhani",
		Type:   "Rajdhani",
		RunsOn: []time.Weekday{time.Monday, time.Thursday},
		Stops: []reservation.Stop{
			{Seq: 1, StationCode: "NDLS", Departure: "16:55", Platform: "3"},
			{Seq: 2, StationCode: "BCT", Arrival: "08:35", DayOffset: 1, DistanceKm: 1386},
		},
		Classes: []reservation.TrainClass{{
			Class: reservation.Class3A, BaseFare: decimal.RequireFromString("1000.50"),
			TotalSeats: seats, RACCapacity: rac, SeatsPerCoach: 2, CoachPrefix: "B",
		}},
	}
	require.NoError(t, s.SaveTrain(ctx, train))

	dep, err := train.DepartureAt(serviceDate)
	require.NoError(t, err)
	key := reservation.InventoryKey{TrainNumber: train.Number, Date: serviceDate, Class: reservation.Class3A}
	created, err := s.OpenRun(ctx, reservation.Run{TrainNumber: train.Number, Date: serviceDate, DepartureAt: dep},
		[]reservation.ClassInventory{reservation.NewInventory(key, train.Classes[0])})
	require.NoError(t, err)
	require.True(t, created)
	return s, key
}

func request(key reservation.InventoryKey, names ...string) reservation.BookingRequest {
	req := reservation.BookingRequest{
		TrainNumber: key.TrainNumber,
		Date:        key.Date,
		Class:       key.Class,
		PaymentMode: reservation.PaymentOnline,
		Contact:     reservation.Contact{Name: "Asha", Email: "asha@example.com"},
	}
	for _, n := range names {
		req.Passengers = append(req.Passengers, reservation.PassengerInput{Name: n, Age: 34, Gender: reservation.GenderFemale})
	}
	return req
}

func inventory(t *testing.T, s *sqlstore.Store, key reservation.InventoryKey) reservation.ClassInventory {
	t.Helper()
	var inv *reservation.ClassInventory
	require.NoError(t, s.Read(context.Background(), func(r reservation.Reader) error {
		var err error
		inv, err = r.Inventory(context.Background(), key)
		return err
	}))
	return *inv
}

func TestSQLite_CatalogRoundTrip(t *testing.T) {
	s, key := openStore(t, 4, 2)
	ctx := context.Background()

	require.NoError(t, s.Read(ctx, func(r reservation.Reader) error {
		train, err := r.Train(ctx, "12951")
		require.NoError(t, err)
		assert.Equal(t, "Mumbai Rajdhani", train.Name)
		assert.Equal(t, []time.Weekday{time.Monday, time.Thursday}, train.RunsOn)
		require.Len(t, train.Stops, 2)
		assert.Equal(t, 1, train.Stops[1].DayOffset)
		require.Len(t, train.Classes, 1)
		assert.Equal(t, "1000.5", train.Classes[0].BaseFare.String())

		run, err := r.Run(ctx, "12951", serviceDate)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, time.November, 2, 16, 55, 0, 0, time.UTC), run.DepartureAt)

		invs, err := r.Inventories(ctx, "12951", serviceDate)
		require.NoError(t, err)
		require.Len(t, invs, 1)
		assert.Equal(t, key, invs[0].Key)
		assert.Equal(t, int64(1), invs[0].NextQueueSeq)

		stations, err := r.Stations(ctx)
		require.NoError(t, err)
		assert.Len(t, stations, 2)

		_, err = r.Run(ctx, "12951", serviceDate.AddDays(1))
		assert.ErrorIs(t, err, reservation.ErrRunNotFound)
		_, err = r.Train(ctx, "99999")
		assert.ErrorIs(t, err, reservation.ErrTrainNotFound)
		_, err = r.Booking(ctx, "1234567890")
		assert.ErrorIs(t, err, reservation.ErrPNRNotFound)
		return nil
	}))

	created, err := s.OpenRun(ctx, reservation.Run{TrainNumber: "12951", Date: serviceDate}, nil)
	require.NoError(t, err)
	assert.False(t, created, "opening an existing run is a no-op")
}

func TestSQLite_BookCancelPromote(t *testing.T) {
	// GIVEN: 2 seats and 1 RAC slot; bookings {A,B}, {C}, {D}
	// WHEN: The first booking is cancelled
	// THEN: C moves RAC -> seat 1, D moves WL -> RAC -> seat 2, and the outbox holds every event

	s, key := openStore(t, 2, 1)
	ctx := context.Background()
	engine := reservation.NewEngine(s, reservation.WithClock(func() time.Time { return bookedAt }))

	b1, err := engine.Book(ctx, request(key, "A", "B"))
	require.NoError(t, err)
	b2, err := engine.Book(ctx, request(key, "C"))
	require.NoError(t, err)
	b3, err := engine.Book(ctx, request(key, "D"))
	require.NoError(t, err)

	assert.Equal(t, reservation.BookingConfirmed, b1.Status)
	assert.Equal(t, reservation.BookingPartiallyConfirmed, b2.Status)
	assert.Equal(t, reservation.BookingWaiting, b3.Status)
	assert.Equal(t, "WL 1", b3.Passengers[0].Assignment())

	res, err := engine.Cancel(ctx, b1.PNR, "plans changed")
	require.NoError(t, err)
	assert.Equal(t, reservation.BookingCancelled, res.Status)
	assert.Len(t, res.Promotions, 3)
	// 10% of 2001.00
	assert.Equal(t, "200.1", res.Charge.String())
	assert.Equal(t, "1800.9", res.Refund.String())

	require.NoError(t, s.Read(ctx, func(r reservation.Reader) error {
		got2, err := r.Booking(ctx, b2.PNR)
		require.NoError(t, err)
		assert.Equal(t, reservation.BookingConfirmed, got2.Status)
		assert.Equal(t, "B1/1", got2.Passengers[0].Assignment())

		got3, err := r.Booking(ctx, b3.PNR)
		require.NoError(t, err)
		assert.Equal(t, reservation.BookingConfirmed, got3.Status)
		assert.Equal(t, "B1/2", got3.Passengers[0].Assignment())

		got1, err := r.Booking(ctx, b1.PNR)
		require.NoError(t, err)
		require.NotNil(t, got1.Cancellation)
		assert.Equal(t, "plans changed", got1.Cancellation.Reason)
		assert.Equal(t, bookedAt, got1.Cancellation.CancelledAt)
		assert.Equal(t, "asha@example.com", got1.Contact.Email)
		return nil
	}))

	inv := inventory(t, s, key)
	assert.Equal(t, 2, inv.ConfirmedCount)
	assert.Equal(t, 0, inv.RACCount)
	assert.Equal(t, 0, inv.WaitlistCount)

	pending, err := s.PendingEvents(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, pending, 7, "3 created, 1 cancelled, 3 promoted")

	again, err := engine.Cancel(ctx, b1.PNR, "again")
	require.NoError(t, err)
	assert.True(t, again.AlreadyCancelled)
	assert.Equal(t, res.Refund.String(), again.Refund.String())
}

func TestSQLite_ConcurrentBookingsNeverOversell(t *testing.T) {
	s, key := openStore(t, 5, 2)
	ctx := context.Background()
	engine := reservation.NewEngine(s)

	var wg sync.WaitGroup
	errs := make(chan error, 12)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Book(ctx, request(key, "P"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	inv := inventory(t, s, key)
	assert.Equal(t, 5, inv.ConfirmedCount)
	assert.Equal(t, 2, inv.RACCount)
	assert.Equal(t, 5, inv.WaitlistCount)
	assert.NoError(t, inv.Check())
}

func TestSQLite_Outbox(t *testing.T) {
	s, _ := openStore(t, 2, 0)
	ctx := context.Background()
	at := bookedAt

	require.NoError(t, s.WithTx(ctx, func(tx reservation.Tx) error {
		return tx.AppendEvents(ctx,
			reservation.Event{ID: "e1", Type: reservation.EventBookingCreated, PNR: "4000000001", Payload: []byte(`{}`), CreatedAt: at},
			reservation.Event{ID: "e2", Type: reservation.EventBookingCancelled, PNR: "4000000001", Payload: []byte(`{}`), CreatedAt: at.Add(time.Second)},
		)
	}))

	require.NoError(t, s.MarkFailed(ctx, "e1", "broker down"))
	require.NoError(t, s.MarkPublished(ctx, []string{"e2"}, at))

	pending, err := s.PendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "e1", pending[0].ID)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "broker down", pending[0].LastError)
	assert.Equal(t, at, pending[0].CreatedAt)

	require.NoError(t, s.MarkDead(ctx, "e1", "still down", at))
	pending, err = s.PendingEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "parked events are not polled")
}

func TestSQLite_InsertBooking_DuplicatePNR(t *testing.T) {
	s, key := openStore(t, 2, 0)
	ctx := context.Background()
	b := &reservation.Booking{
		PNR: "4000000001", Key: key, TotalFare: decimal.NewFromInt(10),
		PaymentMode: reservation.PaymentOffline, Status: reservation.BookingWaiting,
		CreatedAt: bookedAt, UpdatedAt: bookedAt,
	}

	require.NoError(t, s.WithTx(ctx, func(tx reservation.Tx) error { return tx.InsertBooking(ctx, b) }))
	err := s.WithTx(ctx, func(tx reservation.Tx) error { return tx.InsertBooking(ctx, b) })
	assert.ErrorIs(t, err, reservation.ErrDuplicatePNR)
}
