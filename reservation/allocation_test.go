package reservation_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/seat-engine/reservation"
)

func testInventory(seats, rac int) reservation.ClassInventory {
	key := reservation.InventoryKey{TrainNumber: "12951", Date: serviceDate, Class: reservation.ClassSL}
	return reservation.NewInventory(key, reservation.TrainClass{
		Class: reservation.ClassSL, TotalSeats: seats, RACCapacity: rac, SeatsPerCoach: 72, CoachPrefix: "S",
	})
}

// =============================================================================
// ALLOCATE
// =============================================================================

func TestAllocate_FillsSeatsThenRACThenWaitlist(t *testing.T) {
	inv := testInventory(2, 1)

	allocs, err := reservation.Allocate(&inv, 5, nil, nil)
	require.NoError(t, err)

	statuses := make([]reservation.ClaimStatus, len(allocs))
	for i, a := range allocs {
		statuses[i] = a.Status
	}
	assert.Equal(t, []reservation.ClaimStatus{
		reservation.StatusConfirmed,
		reservation.StatusConfirmed,
		reservation.StatusRAC,
		reservation.StatusWaitlisted,
		reservation.StatusWaitlisted,
	}, statuses)
	assert.Equal(t, 1, allocs[0].Seat.Number)
	assert.Equal(t, 2, allocs[1].Seat.Number)
	assert.Equal(t, 1, allocs[2].RACSlot)
	assert.Equal(t, 1, allocs[3].WaitlistRank)
	assert.Equal(t, 2, allocs[4].WaitlistRank)
	assert.Less(t, allocs[2].QueueSeq, allocs[3].QueueSeq)
	assert.Less(t, allocs[3].QueueSeq, allocs[4].QueueSeq)

	assert.Equal(t, 2, inv.ConfirmedCount)
	assert.Equal(t, 1, inv.RACCount)
	assert.Equal(t, 2, inv.WaitlistCount)
	assert.NoError(t, inv.Check())
}

func TestAllocate_TakesLowestFreeNumbers(t *testing.T) {
	// GIVEN: Seats 1 and 3 taken out of 4, RAC slot 2 taken out of 2
	// WHEN: Three passengers are allocated
	// THEN: They get seats 2 and 4, then RAC slot 1

	inv := testInventory(4, 2)
	inv.ConfirmedCount = 2
	inv.RACCount = 1

	allocs, err := reservation.Allocate(&inv, 3, []int{3, 1}, []int{2})
	require.NoError(t, err)
	assert.Equal(t, 2, allocs[0].Seat.Number)
	assert.Equal(t, 4, allocs[1].Seat.Number)
	assert.Equal(t, reservation.StatusRAC, allocs[2].Status)
	assert.Equal(t, 1, allocs[2].RACSlot)
}

func TestAllocate_RejectsCounterDrift(t *testing.T) {
	inv := testInventory(4, 0)
	inv.ConfirmedCount = 1

	_, err := reservation.Allocate(&inv, 1, nil, nil)
	assert.ErrorIs(t, err, reservation.ErrInvariantViolation)
}

func TestAllocate_ConservesOccupancy(t *testing.T) {
	for _, n := range []int{1, 2, 3, 6} {
		inv := testInventory(3, 2)
		before := inv.Occupancy()
		_, err := reservation.Allocate(&inv, n, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, before+n, inv.Occupancy())
	}
}

// =============================================================================
// INVENTORY / STATUS HELPERS
// =============================================================================

func TestClassInventory_SeatFor(t *testing.T) {
	inv := testInventory(144, 0)
	assert.Equal(t, reservation.Seat{Number: 1, Coach: "S1", Berth: 1}, inv.SeatFor(1))
	assert.Equal(t, reservation.Seat{Number: 72, Coach: "S1", Berth: 72}, inv.SeatFor(72))
	assert.Equal(t, reservation.Seat{Number: 73, Coach: "S2", Berth: 1}, inv.SeatFor(73))
}

func TestClassInventory_Check(t *testing.T) {
	inv := testInventory(1, 1)
	inv.WaitlistCount = 1
	assert.ErrorIs(t, inv.Check(), reservation.ErrInvariantViolation, "waitlist while seats free")

	inv = testInventory(1, 1)
	inv.ConfirmedCount = 2
	assert.ErrorIs(t, inv.Check(), reservation.ErrInvariantViolation)

	inv = testInventory(1, 1)
	inv.RACCount = -1
	assert.ErrorIs(t, inv.Check(), reservation.ErrInvariantViolation)
}

func TestDeriveStatus(t *testing.T) {
	c := func(s reservation.ClaimStatus) reservation.PassengerClaim { return reservation.PassengerClaim{Status: s} }
	cases := []struct {
		claims []reservation.PassengerClaim
		want   reservation.BookingStatus
	}{
		{[]reservation.PassengerClaim{c(reservation.StatusConfirmed), c(reservation.StatusConfirmed)}, reservation.BookingConfirmed},
		{[]reservation.PassengerClaim{c(reservation.StatusConfirmed), c(reservation.StatusWaitlisted)}, reservation.BookingWaiting},
		{[]reservation.PassengerClaim{c(reservation.StatusConfirmed), c(reservation.StatusRAC)}, reservation.BookingPartiallyConfirmed},
		{[]reservation.PassengerClaim{c(reservation.StatusRAC)}, reservation.BookingPartiallyConfirmed},
		{[]reservation.PassengerClaim{c(reservation.StatusCancelled), c(reservation.StatusConfirmed)}, reservation.BookingConfirmed},
		{[]reservation.PassengerClaim{c(reservation.StatusCancelled), c(reservation.StatusCancelled)}, reservation.BookingCancelled},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, reservation.DeriveStatus(tc.claims))
	}
}

// =============================================================================
// REFUND / FARES / PNR
// =============================================================================

func TestRefundPolicy_MonotonicTowardsDeparture(t *testing.T) {
	// GIVEN: A fixed fare
	// WHEN: Cancellation time moves from 10 days out to after departure
	// THEN: The refund never increases

	p := reservation.DefaultRefundPolicy()
	fare := decimal.RequireFromString("1234.50")
	dep := time.Date(2026, time.November, 2, 16, 55, 0, 0, time.UTC)

	prev := fare
	for at := dep.Add(-240 * time.Hour); at.Before(dep.Add(48 * time.Hour)); at = at.Add(30 * time.Minute) {
		r := p.Compute(fare, at, dep)
		assert.False(t, r.Amount.GreaterThan(prev), "refund rose at %s", at)
		assert.False(t, r.Amount.IsNegative())
		assert.True(t, r.Charge.Add(r.Amount).Equal(fare))
		prev = r.Amount
	}
	assert.True(t, prev.IsZero(), "nothing is refunded after departure")
}

func TestRefundPolicy_Boundaries(t *testing.T) {
	p := reservation.DefaultRefundPolicy()
	dep := time.Date(2026, time.November, 2, 16, 55, 0, 0, time.UTC)

	assert.Equal(t, "10", p.ChargePct(dep.Add(-24*time.Hour), dep).String())
	assert.Equal(t, "25", p.ChargePct(dep.Add(-24*time.Hour+time.Second), dep).String())
	assert.Equal(t, "100", p.ChargePct(dep, dep).String())
}

func TestConcessions(t *testing.T) {
	base := decimal.NewFromInt(1000)
	assert.Equal(t, "600", reservation.ApplyConcession(base, reservation.ConcessionSenior).String())
	assert.Equal(t, "750", reservation.ApplyConcession(base, reservation.ConcessionStudent).String())
	assert.Equal(t, "500", reservation.ApplyConcession(base, reservation.ConcessionMilitary).String())
	assert.Equal(t, "250", reservation.ApplyConcession(base, reservation.ConcessionDisabled).String())
	assert.Equal(t, "1000", reservation.ApplyConcession(base, reservation.ParseConcession("Loyalty")).String())
	assert.Equal(t, reservation.ConcessionSenior, reservation.ParseConcession("senior citizen"))
}

func TestRandomPNR_Shape(t *testing.T) {
	for i := 0; i < 200; i++ {
		pnr, err := reservation.RandomPNR()
		require.NoError(t, err)
		assert.True(t, reservation.ValidPNR(pnr), pnr)
	}
	assert.False(t, reservation.ValidPNR("0123456789"))
	assert.False(t, reservation.ValidPNR("12345"))
}

func TestParseDate(t *testing.T) {
	d, err := reservation.ParseDate("2026-11-02")
	require.NoError(t, err)
	assert.Equal(t, serviceDate, d)
	assert.Equal(t, time.Monday, d.Weekday())
	assert.Equal(t, reservation.NewDate(2026, time.December, 1), reservation.NewDate(2026, time.November, 31))

	_, err = reservation.ParseDate("02/11/2026")
	assert.ErrorIs(t, err, reservation.ErrValidation)
}
