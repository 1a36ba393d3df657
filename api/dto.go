/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the reservation domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Operation results

MONEY:
  Amounts are strings with two decimal places ("2045.00") so clients never
  round-trip fares through floating point.

TIMES:
  Dates are YYYY-MM-DD, instants are RFC 3339 in UTC.

SEE ALSO:
  - handlers.go: Uses these types
  - reservation/types.go: Domain model
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/seat-engine/reservation"
)

// =============================================================================
// BOOKING
// =============================================================================

type PassengerRequest struct {
	Name           string `json:"name"`
	Age            int    `json:"age"`
	Gender         string `json:"gender"`
	IDProofType    string `json:"idProofType,omitempty"`
	IDProofNumber  string `json:"idProofNumber,omitempty"`
	ConcessionType string `json:"concessionType,omitempty"`
}

type ContactDTO struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

// BookingRequest is the body of POST /api/bookings.
type BookingRequest struct {
	TrainNumber      string             `json:"trainNumber"`
	Date             string             `json:"date"`
	ClassType        string             `json:"classType"`
	PassengerDetails []PassengerRequest `json:"passengerDetails"`
	PaymentMode      string             `json:"paymentMode"`
	ConcessionType   string             `json:"concessionType,omitempty"`
	ConcessionProof  string             `json:"concessionProof,omitempty"`
	Contact          *ContactDTO        `json:"contact,omitempty"`
}

// toDomain converts the body. Shape errors are left to BookingRequest.Validate.
func (r BookingRequest) toDomain() (reservation.BookingRequest, error) {
	out := reservation.BookingRequest{
		TrainNumber:     r.TrainNumber,
		Class:           reservation.ClassType(r.ClassType),
		PaymentMode:     reservation.PaymentMode(r.PaymentMode),
		ConcessionType:  reservation.ParseConcession(r.ConcessionType),
		ConcessionProof: r.ConcessionProof,
	}
	if r.Date != "" {
		d, err := reservation.ParseDate(r.Date)
		if err != nil {
			return out, err
		}
		out.Date = d
	}
	if r.Contact != nil {
		out.Contact = reservation.Contact{
			Name:    r.Contact.Name,
			Email:   r.Contact.Email,
			Phone:   r.Contact.Phone,
			Address: r.Contact.Address,
		}
	}
	for _, p := range r.PassengerDetails {
		out.Passengers = append(out.Passengers, reservation.PassengerInput{
			Name:          p.Name,
			Age:           p.Age,
			Gender:        reservation.Gender(p.Gender),
			IDProofType:   p.IDProofType,
			IDProofNumber: p.IDProofNumber,
			Concession:    reservation.ParseConcession(p.ConcessionType),
		})
	}
	return out, nil
}

// PassengerStatusDTO is one passenger's outcome.
type PassengerStatusDTO struct {
	Name           string `json:"name"`
	Status         string `json:"status"`
	SeatNumber     int    `json:"seatNumber,omitempty"`
	CoachNumber    string `json:"coachNumber,omitempty"`
	RACNumber      int    `json:"racNumber,omitempty"`
	WaitlistNumber int    `json:"waitlistNumber,omitempty"`
	Fare           string `json:"fare"`
}

type BookingResponse struct {
	Success    bool                 `json:"success"`
	PNR        string               `json:"pnr"`
	Status     string               `json:"status"`
	Passengers []PassengerStatusDTO `json:"passengers"`
	TotalFare  string               `json:"totalFare"`
}

func toBookingResponse(b *reservation.Booking) BookingResponse {
	resp := BookingResponse{
		Success:    true,
		PNR:        b.PNR,
		Status:     string(b.Status),
		Passengers: make([]PassengerStatusDTO, len(b.Passengers)),
		TotalFare:  money(b.TotalFare),
	}
	for i, c := range b.Passengers {
		resp.Passengers[i] = PassengerStatusDTO{
			Name:           c.Name,
			Status:         string(c.Status),
			SeatNumber:     c.Berth,
			CoachNumber:    c.Coach,
			RACNumber:      c.RACSlot,
			WaitlistNumber: c.WaitlistRank,
			Fare:           money(c.Fare),
		}
	}
	return resp
}

// =============================================================================
// CANCELLATION
// =============================================================================

// CancellationRequest cancels the whole booking, or only the listed
// passenger positions (1-based, as printed on the ticket).
type CancellationRequest struct {
	PNR        string `json:"pnr"`
	Reason     string `json:"reason"`
	Passengers []int  `json:"passengers,omitempty"`
}

type PromotionDTO struct {
	PNR        string `json:"pnr"`
	Name       string `json:"name"`
	From       string `json:"from"`
	To         string `json:"to"`
	Assignment string `json:"assignment"`
}

type CancellationResponse struct {
	Success            bool           `json:"success"`
	PNR                string         `json:"pnr"`
	Status             string         `json:"status"`
	CancellationCharge string         `json:"cancellationCharge"`
	RefundAmount       string         `json:"refundAmount"`
	Message            string         `json:"message"`
	CancelledAt        string         `json:"cancelledAt,omitempty"`
	Promotions         []PromotionDTO `json:"promotions,omitempty"`
}

func toCancellationResponse(res *reservation.CancellationResult) CancellationResponse {
	msg := "Booking cancelled successfully"
	switch {
	case res.AlreadyCancelled:
		msg = "Booking was already cancelled"
	case res.Status != reservation.BookingCancelled:
		msg = "Passengers cancelled successfully"
	}
	resp := CancellationResponse{
		Success:            true,
		PNR:                res.PNR,
		Status:             string(res.Status),
		CancellationCharge: money(res.Charge),
		RefundAmount:       money(res.Refund),
		Message:            msg,
		CancelledAt:        instant(res.CancelledAt),
	}
	for _, p := range res.Promotions {
		resp.Promotions = append(resp.Promotions, PromotionDTO{
			PNR:        p.PNR,
			Name:       p.Name,
			From:       string(p.From),
			To:         string(p.To),
			Assignment: p.Assignment,
		})
	}
	return resp
}

// =============================================================================
// BOOKING LOOKUP
// =============================================================================

type StationDTO struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	City  string `json:"city,omitempty"`
	State string `json:"state,omitempty"`
}

func toStationDTO(s reservation.Station) StationDTO {
	return StationDTO{Code: s.Code, Name: s.Name, City: s.City, State: s.State}
}

type PassengerDTO struct {
	Position       int    `json:"position"`
	Name           string `json:"name"`
	Age            int    `json:"age"`
	Gender         string `json:"gender"`
	IDProofType    string `json:"idProofType,omitempty"`
	ConcessionType string `json:"concessionType,omitempty"`
	Status         string `json:"status"`
	Assignment     string `json:"assignment"`
	SeatNumber     int    `json:"seatNumber,omitempty"`
	CoachNumber    string `json:"coachNumber,omitempty"`
	RACNumber      int    `json:"racNumber,omitempty"`
	WaitlistNumber int    `json:"waitlistNumber,omitempty"`
	Fare           string `json:"fare"`
}

type CancellationDTO struct {
	Reason      string `json:"reason"`
	Charge      string `json:"cancellationCharge"`
	Refund      string `json:"refundAmount"`
	CancelledAt string `json:"cancelledAt"`
}

// BookingDTO is the full projection returned by GET /api/bookings/{pnr}.
type BookingDTO struct {
	PNR            string           `json:"pnr"`
	Status         string           `json:"status"`
	TrainNumber    string           `json:"trainNumber"`
	TrainName      string           `json:"trainName"`
	Date           string           `json:"date"`
	ClassType      string           `json:"classType"`
	From           StationDTO       `json:"from"`
	To             StationDTO       `json:"to"`
	DepartsAt      string           `json:"departsAt"`
	ArrivesAt      string           `json:"arrivesAt,omitempty"`
	Passengers     []PassengerDTO   `json:"passengers"`
	TotalFare      string           `json:"totalFare"`
	PaymentMode    string           `json:"paymentMode"`
	ConcessionType string           `json:"concessionType,omitempty"`
	Contact        *ContactDTO      `json:"contact,omitempty"`
	Cancellation   *CancellationDTO `json:"cancellation,omitempty"`
	CreatedAt      string           `json:"createdAt"`
	UpdatedAt      string           `json:"updatedAt"`
}

func toBookingDTO(v *reservation.BookingView) BookingDTO {
	b := v.Booking
	dto := BookingDTO{
		PNR:            b.PNR,
		Status:         string(b.Status),
		TrainNumber:    b.Key.TrainNumber,
		Date:           b.Key.Date.String(),
		ClassType:      string(b.Key.Class),
		From:           toStationDTO(v.Origin),
		To:             toStationDTO(v.Destination),
		ArrivesAt:      instant(v.ArrivesAt),
		Passengers:     make([]PassengerDTO, len(b.Passengers)),
		TotalFare:      money(b.TotalFare),
		PaymentMode:    string(b.PaymentMode),
		ConcessionType: string(b.ConcessionType),
		CreatedAt:      instant(b.CreatedAt),
		UpdatedAt:      instant(b.UpdatedAt),
	}
	if v.Train != nil {
		dto.TrainName = v.Train.Name
	}
	if v.Run != nil {
		dto.DepartsAt = instant(v.Run.DepartureAt)
	}
	if b.Contact != (reservation.Contact{}) {
		dto.Contact = &ContactDTO{Name: b.Contact.Name, Email: b.Contact.Email, Phone: b.Contact.Phone, Address: b.Contact.Address}
	}
	if c := b.Cancellation; c != nil {
		dto.Cancellation = &CancellationDTO{
			Reason:      c.Reason,
			Charge:      money(c.Charge),
			Refund:      money(c.Refund),
			CancelledAt: instant(c.CancelledAt),
		}
	}
	for i, c := range b.Passengers {
		dto.Passengers[i] = PassengerDTO{
			Position:       c.Seq,
			Name:           c.Name,
			Age:            c.Age,
			Gender:         string(c.Gender),
			IDProofType:    c.IDProofType,
			ConcessionType: string(c.Concession),
			Status:         string(c.Status),
			Assignment:     c.Assignment(),
			SeatNumber:     c.Berth,
			CoachNumber:    c.Coach,
			RACNumber:      c.RACSlot,
			WaitlistNumber: c.WaitlistRank,
			Fare:           money(c.Fare),
		}
	}
	return dto
}

// =============================================================================
// TRAINS / SEARCH
// =============================================================================

type StopDTO struct {
	Station    string `json:"station"`
	Arrival    string `json:"arrival,omitempty"`
	Departure  string `json:"departure,omitempty"`
	Day        int    `json:"day"` // days after the service date
	DistanceKm int    `json:"distanceKm"`
	Platform   string `json:"platform,omitempty"`
}

type TrainClassDTO struct {
	ClassType   string `json:"classType"`
	BaseFare    string `json:"baseFare"`
	TotalSeats  int    `json:"totalSeats"`
	RACCapacity int    `json:"racCapacity"`
}

type TrainDTO struct {
	Number  string          `json:"number"`
	Name    string          `json:"name"`
	Type    string          `json:"type,omitempty"`
	RunsOn  []string        `json:"runsOn"`
	Stops   []StopDTO       `json:"stops"`
	Classes []TrainClassDTO `json:"classes"`
}

func toTrainDTO(t *reservation.Train) TrainDTO {
	dto := TrainDTO{
		Number:  t.Number,
		Name:    t.Name,
		Type:    t.Type,
		RunsOn:  []string{},
		Stops:   make([]StopDTO, len(t.Stops)),
		Classes: make([]TrainClassDTO, len(t.Classes)),
	}
	if len(t.RunsOn) == 0 {
		dto.RunsOn = append(dto.RunsOn, "Daily")
	}
	for _, wd := range t.RunsOn {
		dto.RunsOn = append(dto.RunsOn, wd.String()[:3])
	}
	for i, s := range t.Stops {
		dto.Stops[i] = StopDTO{
			Station:    s.StationCode,
			Arrival:    s.Arrival,
			Departure:  s.Departure,
			Day:        s.DayOffset,
			DistanceKm: s.DistanceKm,
			Platform:   s.Platform,
		}
	}
	for i, c := range t.Classes {
		dto.Classes[i] = TrainClassDTO{
			ClassType:   string(c.Class),
			BaseFare:    money(c.BaseFare),
			TotalSeats:  c.TotalSeats,
			RACCapacity: c.RACCapacity,
		}
	}
	return dto
}

type ClassAvailabilityDTO struct {
	ClassType      string `json:"classType"`
	Fare           string `json:"fare"`
	AvailableSeats int    `json:"availableSeats"`
	RACSeats       int    `json:"racSeats"`
	WaitlistCount  int    `json:"waitlistCount"`
}

type RunDTO struct {
	TrainNumber string                 `json:"trainNumber"`
	TrainName   string                 `json:"trainName"`
	ServiceDate string                 `json:"serviceDate"`
	From        string                 `json:"from"`
	To          string                 `json:"to"`
	DepartsAt   string                 `json:"departsAt"`
	ArrivesAt   string                 `json:"arrivesAt"`
	Duration    string                 `json:"duration"`
	DistanceKm  int                    `json:"distanceKm"`
	Classes     []ClassAvailabilityDTO `json:"classes"`
}

func toRunDTO(ra reservation.RunAvailability) RunDTO {
	dto := RunDTO{
		TrainNumber: ra.Run.TrainNumber,
		ServiceDate: ra.Run.Date.String(),
		From:        ra.From.StationCode,
		To:          ra.To.StationCode,
		DepartsAt:   instant(ra.DepartsAt),
		ArrivesAt:   instant(ra.ArrivesAt),
		Duration:    ra.Duration().String(),
		DistanceKm:  ra.DistanceKm,
		Classes:     make([]ClassAvailabilityDTO, len(ra.Classes)),
	}
	if ra.Train != nil {
		dto.TrainName = ra.Train.Name
	}
	for i, c := range ra.Classes {
		dto.Classes[i] = ClassAvailabilityDTO{
			ClassType:      string(c.Class),
			Fare:           money(c.Fare),
			AvailableSeats: c.AvailableSeats,
			RACSeats:       c.RACSeats,
			WaitlistCount:  c.WaitlistCount,
		}
	}
	return dto
}

// =============================================================================
// ADMIN
// =============================================================================

type OpenRunRequest struct {
	TrainNumber string `json:"trainNumber"`
	Date        string `json:"date"`
}

type OpenRunResponse struct {
	TrainNumber string `json:"trainNumber"`
	Date        string `json:"date"`
	Created     bool   `json:"created"`
}

// =============================================================================
// COMMON
// =============================================================================

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func instant(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
