package reservation

import (
	"fmt"
	"strings"
)

// =============================================================================
// BOOKING REQUEST
// =============================================================================

type PassengerInput struct {
	Name          string
	Age           int
	Gender        Gender
	IDProofType   string
	IDProofNumber string
	// Concession overrides the request-level concession for this passenger.
	Concession ConcessionType
}

type BookingRequest struct {
	TrainNumber     string
	Date            Date
	Class           ClassType
	Passengers      []PassengerInput
	PaymentMode     PaymentMode
	ConcessionType  ConcessionType
	ConcessionProof string
	Contact         Contact
}

// Key returns the inventory the request targets.
func (r BookingRequest) Key() InventoryKey {
	return InventoryKey{TrainNumber: r.TrainNumber, Date: r.Date, Class: r.Class}
}

// Validate checks the request shape. It never touches a store.
func (r BookingRequest) Validate(maxPassengers int) error {
	if strings.TrimSpace(r.TrainNumber) == "" {
		return &ValidationError{Field: "trainNumber", Reason: "required"}
	}
	if r.Date.IsZero() {
		return &ValidationError{Field: "date", Reason: "required"}
	}
	if _, err := ParseClassType(string(r.Class)); err != nil {
		return err
	}
	if !r.PaymentMode.Valid() {
		return &ValidationError{Field: "paymentMode", Reason: fmt.Sprintf("%q is not Online or Offline", r.PaymentMode)}
	}
	if len(r.Passengers) == 0 {
		return &ValidationError{Field: "passengerDetails", Reason: "at least one passenger required"}
	}
	if maxPassengers > 0 && len(r.Passengers) > maxPassengers {
		return &ValidationError{Field: "passengerDetails", Reason: fmt.Sprintf("at most %d passengers per booking", maxPassengers)}
	}
	for i, p := range r.Passengers {
		if err := p.validate(); err != nil {
			err.Field = fmt.Sprintf("passengerDetails[%d].%s", i, err.Field)
			return err
		}
	}
	return nil
}

func (p PassengerInput) validate() *ValidationError {
	if strings.TrimSpace(p.Name) == "" {
		return &ValidationError{Field: "name", Reason: "required"}
	}
	if p.Age < 1 || p.Age > 125 {
		return &ValidationError{Field: "age", Reason: fmt.Sprintf("%d outside 1..125", p.Age)}
	}
	if !p.Gender.Valid() {
		return &ValidationError{Field: "gender", Reason: fmt.Sprintf("%q is not Male, Female or Other", p.Gender)}
	}
	if p.IDProofType != "" {
		if !idProofTypes[p.IDProofType] {
			return &ValidationError{Field: "idProofType", Reason: fmt.Sprintf("unknown id proof %q", p.IDProofType)}
		}
		if strings.TrimSpace(p.IDProofNumber) == "" {
			return &ValidationError{Field: "idProofNumber", Reason: "required with idProofType"}
		}
	}
	return nil
}

// concessionFor resolves the concession applied to passenger p.
func (r BookingRequest) concessionFor(p PassengerInput) ConcessionType {
	if c := ParseConcession(string(p.Concession)); c != ConcessionNone {
		return c
	}
	return ParseConcession(string(r.ConcessionType))
}
