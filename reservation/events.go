package reservation

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// OUTBOX EVENTS - Written in the same transaction as the state change
// =============================================================================

type EventType string

const (
	EventBookingCreated    EventType = "booking.created"
	EventBookingCancelled  EventType = "booking.cancelled"
	EventPassengerPromoted EventType = "passenger.promoted"
)

// Event is one outbox row. Payload is JSON.
type Event struct {
	ID          string
	Type        EventType
	PNR         string
	Payload     []byte
	CreatedAt   time.Time
	PublishedAt *time.Time
	DeadAt      *time.Time
	Attempts    int
	LastError   string
}

type bookingCreatedPayload struct {
	PNR         string            `json:"pnr"`
	TrainNumber string            `json:"train_number"`
	Date        string            `json:"date"`
	Class       ClassType         `json:"class_type"`
	Status      BookingStatus     `json:"status"`
	TotalFare   decimal.Decimal   `json:"total_fare"`
	Passengers  []passengerStatus `json:"passengers"`
}

type passengerStatus struct {
	Name       string      `json:"name"`
	Status     ClaimStatus `json:"status"`
	Assignment string      `json:"assignment"`
}

type bookingCancelledPayload struct {
	PNR        string          `json:"pnr"`
	Reason     string          `json:"reason"`
	Status     BookingStatus   `json:"status"`
	Passengers int             `json:"passengers"`
	Charge     decimal.Decimal `json:"cancellation_charge"`
	Refund     decimal.Decimal `json:"refund_amount"`
}

type passengerPromotedPayload struct {
	PNR        string      `json:"pnr"`
	ClaimID    string      `json:"claim_id"`
	Name       string      `json:"name"`
	From       ClaimStatus `json:"from"`
	To         ClaimStatus `json:"to"`
	Assignment string      `json:"assignment"`
	CausedBy   string      `json:"caused_by"`
}

func newEvent(typ EventType, pnr string, payload any, at time.Time) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		PNR:       pnr,
		Payload:   body,
		CreatedAt: at,
	}, nil
}

func bookingCreatedEvent(b *Booking) (Event, error) {
	p := bookingCreatedPayload{
		PNR:         b.PNR,
		TrainNumber: b.Key.TrainNumber,
		Date:        b.Key.Date.String(),
		Class:       b.Key.Class,
		Status:      b.Status,
		TotalFare:   b.TotalFare,
	}
	for _, c := range b.Passengers {
		p.Passengers = append(p.Passengers, passengerStatus{Name: c.Name, Status: c.Status, Assignment: c.Assignment()})
	}
	return newEvent(EventBookingCreated, b.PNR, p, b.CreatedAt)
}
