/*
allocation.go - Seat, RAC and waitlist decisions for a new booking

PURPOSE:
  Allocate is the pure core of Book. Given the locked inventory row and the
  seats/RAC slots already in use, it decides each passenger's outcome in
  request order and advances the counters. It performs no I/O, so the same
  function serves every store.

ORDER OF FILL:
  1. Confirmed seats while TotalSeats - ConfirmedCount > 0, lowest free
     seat number first
  2. RAC while RACCapacity - RACCount > 0, lowest free slot first
  3. Waitlist tail, rank = current waitlist length + 1

  RAC and waitlisted claims draw a queue sequence from NextQueueSeq; that
  sequence is the FIFO order used by promotion.

EXAMPLE:
  inv := {TotalSeats: 1, RACCapacity: 1}
  Allocate(&inv, 3, nil, nil)
  -> [CONFIRMED seat 1, RAC slot 1, WAITLISTED rank 1]

SEE ALSO:
  - book.go: Calls Allocate inside the store transaction
  - cancel.go: The reverse direction (release and promote)
*/
package reservation

import "fmt"

// Allocation is the outcome for one passenger.
type Allocation struct {
	Status       ClaimStatus
	Seat         Seat
	RACSlot      int
	WaitlistRank int
	QueueSeq     int64
}

// Allocate mutates inv and returns one allocation per passenger.
func Allocate(inv *ClassInventory, passengers int, occupiedSeats, occupiedRAC []int) ([]Allocation, error) {
	if passengers <= 0 {
		return nil, fmt.Errorf("allocate %d passengers: %w", passengers, ErrValidation)
	}
	if len(occupiedSeats) != inv.ConfirmedCount {
		return nil, &InvariantError{Key: inv.Key, Detail: fmt.Sprintf("%d seats occupied but confirmed count is %d", len(occupiedSeats), inv.ConfirmedCount)}
	}
	if len(occupiedRAC) != inv.RACCount {
		return nil, &InvariantError{Key: inv.Key, Detail: fmt.Sprintf("%d RAC slots occupied but RAC count is %d", len(occupiedRAC), inv.RACCount)}
	}

	seats := newFreeList(inv.TotalSeats, occupiedSeats)
	slots := newFreeList(inv.RACCapacity, occupiedRAC)

	out := make([]Allocation, 0, passengers)
	for i := 0; i < passengers; i++ {
		switch {
		case inv.AvailableSeats() > 0:
			n, ok := seats.take()
			if !ok {
				return nil, &InvariantError{Key: inv.Key, Detail: "seat counter shows space but no seat number is free"}
			}
			inv.ConfirmedCount++
			out = append(out, Allocation{Status: StatusConfirmed, Seat: inv.SeatFor(n)})

		case inv.FreeRAC() > 0:
			n, ok := slots.take()
			if !ok {
				return nil, &InvariantError{Key: inv.Key, Detail: "RAC counter shows space but no slot is free"}
			}
			inv.RACCount++
			out = append(out, Allocation{Status: StatusRAC, RACSlot: n, QueueSeq: inv.nextSeq()})

		default:
			inv.WaitlistCount++
			out = append(out, Allocation{Status: StatusWaitlisted, WaitlistRank: inv.WaitlistCount, QueueSeq: inv.nextSeq()})
		}
	}
	return out, nil
}

func (inv *ClassInventory) nextSeq() int64 {
	if inv.NextQueueSeq <= 0 {
		inv.NextQueueSeq = 1
	}
	s := inv.NextQueueSeq
	inv.NextQueueSeq++
	return s
}

// Apply copies the allocation onto a claim.
func (a Allocation) Apply(c *PassengerClaim) {
	c.clearAssignment()
	c.Status = a.Status
	c.QueueSeq = a.QueueSeq
	switch a.Status {
	case StatusConfirmed:
		c.SeatNumber, c.Coach, c.Berth = a.Seat.Number, a.Seat.Coach, a.Seat.Berth
	case StatusRAC:
		c.RACSlot = a.RACSlot
	case StatusWaitlisted:
		c.WaitlistRank = a.WaitlistRank
	}
}

// =============================================================================
// FREE LIST - Lowest unused number in 1..n
// =============================================================================

type freeList struct {
	used map[int]bool
	n    int
	next int
}

func newFreeList(n int, occupied []int) *freeList {
	used := make(map[int]bool, len(occupied))
	for _, o := range occupied {
		used[o] = true
	}
	return &freeList{used: used, n: n, next: 1}
}

func (f *freeList) take() (int, bool) {
	for ; f.next <= f.n; f.next++ {
		if !f.used[f.next] {
			f.used[f.next] = true
			return f.next, true
		}
	}
	return 0, false
}
