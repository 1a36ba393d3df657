/*
fare.go - Fare Table lookup and concession discounts

PURPOSE:
  The fare of a claim is the stored base fare of (train, class) times the
  passenger's concession multiplier. There is no tariff computation beyond
  that; distance and quota pricing are out of scope.

CONCESSIONS:
  Senior Citizen  40% off
  Student         25% off
  Military        50% off
  Disabled        75% off

  Concession is optional metadata. An unrecognized type is treated as no
  concession and never fails a booking.

SEE ALSO:
  - train.go: TrainClass.BaseFare
  - book.go: Fare applied per claim
*/
package reservation

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type ConcessionType string

const (
	ConcessionNone     ConcessionType = ""
	ConcessionSenior   ConcessionType = "Senior Citizen"
	ConcessionStudent  ConcessionType = "Student"
	ConcessionMilitary ConcessionType = "Military"
	ConcessionDisabled ConcessionType = "Disabled"
)

var concessionDiscountPct = map[ConcessionType]int64{
	ConcessionSenior:   40,
	ConcessionStudent:  25,
	ConcessionMilitary: 50,
	ConcessionDisabled: 75,
}

var hundred = decimal.NewFromInt(100)

// ParseConcession maps free text onto a known concession, or ConcessionNone.
func ParseConcession(s string) ConcessionType {
	s = strings.TrimSpace(s)
	for c := range concessionDiscountPct {
		if strings.EqualFold(string(c), s) {
			return c
		}
	}
	return ConcessionNone
}

// Multiplier is the share of the base fare the passenger pays.
func (c ConcessionType) Multiplier() decimal.Decimal {
	pct, ok := concessionDiscountPct[c]
	if !ok {
		return decimal.NewFromInt(1)
	}
	return hundred.Sub(decimal.NewFromInt(pct)).Div(hundred)
}

// ApplyConcession returns base × multiplier rounded to paise.
func ApplyConcession(base decimal.Decimal, c ConcessionType) decimal.Decimal {
	return base.Mul(c.Multiplier()).Round(2)
}

// =============================================================================
// FARE TABLE
// =============================================================================

// FareTable looks up the base fare for (train, class).
type FareTable interface {
	BaseFare(ctx context.Context, trainNumber string, class ClassType) (decimal.Decimal, error)
}

// StoreFareTable reads fares from the train catalog held by a Store.
type StoreFareTable struct {
	Store Store
}

func (f StoreFareTable) BaseFare(ctx context.Context, trainNumber string, class ClassType) (decimal.Decimal, error) {
	var fare decimal.Decimal
	err := f.Store.Read(ctx, func(r Reader) error {
		train, err := r.Train(ctx, trainNumber)
		if err != nil {
			return err
		}
		tc, ok := train.Class(class)
		if !ok {
			return fmt.Errorf("train %s class %s: %w", trainNumber, class, ErrClassNotFound)
		}
		fare = tc.BaseFare
		return nil
	})
	return fare, err
}
