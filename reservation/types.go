/*
Package reservation provides the seat inventory and reservation engine.

PURPOSE:
  Given a booking or cancellation request, the engine reads the seat/RAC/
  waitlist counters of one (train, service date, class) inventory, decides
  each passenger's outcome, and persists the decision together with the
  booking record (PNR) in a single store transaction.

KEY CONCEPTS IN THIS FILE (types.go):
  - InventoryKey:   (train number, service date, class), the unit of contention
  - ClassInventory: capacity and counters for one key
  - PassengerClaim: one passenger of one booking, with status and assignment
  - Booking:        the PNR aggregate root owning its claims

STATUS MODEL:
  Claim:   CONFIRMED | RAC | WAITLISTED | CANCELLED
  Booking: CONFIRMED | PARTIALLY_CONFIRMED | WAITING | CANCELLED (derived)

DESIGN PRINCIPLES:
  1. Counters live only in the store; the engine never caches them between requests
  2. Money uses decimal.Decimal, never float64
  3. Bookings are never deleted; cancellation is a status transition

SEE ALSO:
  - allocation.go: Seat/RAC/waitlist decisions for a new booking
  - cancel.go: Cancellation and promotion
  - store.go: Persistence interfaces
*/
package reservation

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CLASS TYPES
// =============================================================================

type ClassType string

const (
	Class1A ClassType = "1A" // first class AC
	Class2A ClassType = "2A" // two-tier AC
	Class3A ClassType = "3A" // three-tier AC
	ClassSL ClassType = "SL" // sleeper
	ClassCC ClassType = "CC" // AC chair car
	Class2S ClassType = "2S" // second sitting
)

var classTypes = []ClassType{Class1A, Class2A, Class3A, ClassSL, ClassCC, Class2S}

// ClassTypes returns all known travel classes, highest first.
func ClassTypes() []ClassType {
	out := make([]ClassType, len(classTypes))
	copy(out, classTypes)
	return out
}

// ParseClassType accepts a class code in any letter case.
func ParseClassType(s string) (ClassType, error) {
	c := ClassType(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range classTypes {
		if c == known {
			return c, nil
		}
	}
	return "", &ValidationError{Field: "classType", Reason: fmt.Sprintf("unknown class %q", s)}
}

// =============================================================================
// STATUSES
// =============================================================================

type ClaimStatus string

const (
	StatusConfirmed  ClaimStatus = "CONFIRMED"
	StatusRAC        ClaimStatus = "RAC"
	StatusWaitlisted ClaimStatus = "WAITLISTED"
	StatusCancelled  ClaimStatus = "CANCELLED"
)

type BookingStatus string

const (
	BookingConfirmed          BookingStatus = "CONFIRMED"
	BookingPartiallyConfirmed BookingStatus = "PARTIALLY_CONFIRMED"
	BookingWaiting            BookingStatus = "WAITING"
	BookingCancelled          BookingStatus = "CANCELLED"
)

// DeriveStatus computes a booking status from its claims.
//
// All cancelled wins, then all confirmed, then any waitlisted. Everything
// else (RAC only, or confirmed mixed with RAC) is partially confirmed.
// Cancelled claims are ignored once at least one claim is still live.
func DeriveStatus(claims []PassengerClaim) BookingStatus {
	var live, confirmed, waitlisted int
	for _, c := range claims {
		switch c.Status {
		case StatusCancelled:
			continue
		case StatusConfirmed:
			confirmed++
		case StatusWaitlisted:
			waitlisted++
		}
		live++
	}
	switch {
	case live == 0:
		return BookingCancelled
	case confirmed == live:
		return BookingConfirmed
	case waitlisted > 0:
		return BookingWaiting
	default:
		return BookingPartiallyConfirmed
	}
}

// =============================================================================
// PAYMENT / IDENTITY
// =============================================================================

// PaymentMode is recorded on the booking; nothing is settled here.
type PaymentMode string

const (
	PaymentOnline  PaymentMode = "Online"
	PaymentOffline PaymentMode = "Offline"
)

func (p PaymentMode) Valid() bool { return p == PaymentOnline || p == PaymentOffline }

type Gender string

const (
	GenderMale   Gender = "Male"
	GenderFemale Gender = "Female"
	GenderOther  Gender = "Other"
)

func (g Gender) Valid() bool { return g == GenderMale || g == GenderFemale || g == GenderOther }

var idProofTypes = map[string]bool{
	"Aadhar":          true,
	"PAN":             true,
	"Passport":        true,
	"Voter ID":        true,
	"Driving License": true,
}

// Contact is the person who made the booking. All fields are optional.
type Contact struct {
	Name    string
	Email   string
	Phone   string
	Address string
}

// =============================================================================
// INVENTORY
// =============================================================================

// InventoryKey identifies one ClassInventory row.
type InventoryKey struct {
	TrainNumber string
	Date        Date
	Class       ClassType
}

func (k InventoryKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.TrainNumber, k.Date, k.Class)
}

// ClassInventory holds the capacity and counters of one (run, class).
type ClassInventory struct {
	Key            InventoryKey
	TotalSeats     int
	ConfirmedCount int
	RACCapacity    int
	RACCount       int
	WaitlistCount  int
	SeatsPerCoach  int
	CoachPrefix    string
	// NextQueueSeq orders RAC and waitlist claims; it only grows.
	NextQueueSeq int64
	Version      int64
}

func (inv ClassInventory) AvailableSeats() int { return inv.TotalSeats - inv.ConfirmedCount }
func (inv ClassInventory) FreeRAC() int        { return inv.RACCapacity - inv.RACCount }

// Check verifies the counter invariants. A failure is a defect, never a
// client error.
func (inv ClassInventory) Check() error {
	switch {
	case inv.ConfirmedCount < 0 || inv.ConfirmedCount > inv.TotalSeats:
		return &InvariantError{Key: inv.Key, Detail: fmt.Sprintf("confirmed %d outside [0,%d]", inv.ConfirmedCount, inv.TotalSeats)}
	case inv.RACCount < 0 || inv.RACCount > inv.RACCapacity:
		return &InvariantError{Key: inv.Key, Detail: fmt.Sprintf("rac %d outside [0,%d]", inv.RACCount, inv.RACCapacity)}
	case inv.WaitlistCount < 0:
		return &InvariantError{Key: inv.Key, Detail: fmt.Sprintf("waitlist %d negative", inv.WaitlistCount)}
	case inv.WaitlistCount > 0 && (inv.FreeRAC() > 0 || inv.AvailableSeats() > 0):
		return &InvariantError{Key: inv.Key, Detail: "waitlist not empty while seats or RAC are free"}
	}
	return nil
}

// Occupancy is confirmed + RAC + waitlisted claims for the key.
func (inv ClassInventory) Occupancy() int {
	return inv.ConfirmedCount + inv.RACCount + inv.WaitlistCount
}

// Seat is a physical berth derived from a seat number.
type Seat struct {
	Number int    // 1..TotalSeats across the whole class
	Coach  string // e.g. "S2"
	Berth  int    // 1..SeatsPerCoach within the coach
}

// SeatFor maps seat number n (1-based) onto coach and berth.
func (inv ClassInventory) SeatFor(n int) Seat {
	per := inv.SeatsPerCoach
	if per <= 0 {
		per = inv.TotalSeats
	}
	if per <= 0 {
		per = 1
	}
	return Seat{
		Number: n,
		Coach:  fmt.Sprintf("%s%d", inv.CoachPrefix, (n-1)/per+1),
		Berth:  (n-1)%per + 1,
	}
}

// =============================================================================
// BOOKING AGGREGATE
// =============================================================================

// PassengerClaim is one passenger of one booking.
type PassengerClaim struct {
	ID            string
	Seq           int // position on the ticket, 1-based
	Name          string
	Age           int
	Gender        Gender
	IDProofType   string
	IDProofNumber string
	Concession    ConcessionType
	Fare          decimal.Decimal

	Status       ClaimStatus
	SeatNumber   int // 0 unless confirmed
	Coach        string
	Berth        int
	RACSlot      int   // 0 unless RAC
	WaitlistRank int   // 0 unless waitlisted, 1-based
	QueueSeq     int64 // FIFO order among RAC and waitlisted claims
}

// Assignment renders the claim's current placement, e.g. "S1/7", "RAC 2", "WL 3".
func (c PassengerClaim) Assignment() string {
	switch c.Status {
	case StatusConfirmed:
		return fmt.Sprintf("%s/%d", c.Coach, c.Berth)
	case StatusRAC:
		return fmt.Sprintf("RAC %d", c.RACSlot)
	case StatusWaitlisted:
		return fmt.Sprintf("WL %d", c.WaitlistRank)
	default:
		return string(c.Status)
	}
}

func (c *PassengerClaim) clearAssignment() {
	c.SeatNumber, c.Coach, c.Berth = 0, "", 0
	c.RACSlot = 0
	c.WaitlistRank = 0
}

// Cancellation records the outcome of cancelling a booking.
type Cancellation struct {
	Reason      string
	Charge      decimal.Decimal
	Refund      decimal.Decimal
	CancelledAt time.Time
}

// Booking is the PNR record.
type Booking struct {
	PNR             string
	Key             InventoryKey
	Passengers      []PassengerClaim
	TotalFare       decimal.Decimal
	PaymentMode     PaymentMode
	ConcessionType  ConcessionType
	ConcessionProof string
	Contact         Contact
	Status          BookingStatus
	Cancellation    *Cancellation
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Clone returns a deep copy.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	out := *b
	out.Passengers = make([]PassengerClaim, len(b.Passengers))
	copy(out.Passengers, b.Passengers)
	if b.Cancellation != nil {
		c := *b.Cancellation
		out.Cancellation = &c
	}
	return &out
}

// Claim returns a pointer into Passengers for the given claim ID.
func (b *Booking) Claim(id string) *PassengerClaim {
	for i := range b.Passengers {
		if b.Passengers[i].ID == id {
			return &b.Passengers[i]
		}
	}
	return nil
}

func (b *Booking) recomputeStatus() {
	b.Status = DeriveStatus(b.Passengers)
}
