package reservation

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// REFUND POLICY - Pure function of (fare, time to departure)
// =============================================================================

// RefundPolicy charges a share of the fare depending on how close to
// departure the cancellation happens:
//
//	at or after departure     100%
//	within LateWindow         LateChargePct
//	earlier                   StandardChargePct
type RefundPolicy struct {
	LateWindow        time.Duration
	LateChargePct     decimal.Decimal
	StandardChargePct decimal.Decimal
}

func DefaultRefundPolicy() RefundPolicy {
	return RefundPolicy{
		LateWindow:        24 * time.Hour,
		LateChargePct:     decimal.NewFromInt(25),
		StandardChargePct: decimal.NewFromInt(10),
	}
}

type Refund struct {
	Charge decimal.Decimal
	Amount decimal.Decimal
}

// ChargePct returns the percentage of fare retained at time now.
func (p RefundPolicy) ChargePct(now, departure time.Time) decimal.Decimal {
	switch remaining := departure.Sub(now); {
	case remaining <= 0:
		return hundred
	case remaining < p.LateWindow:
		return p.LateChargePct
	default:
		return p.StandardChargePct
	}
}

// Compute splits fare into charge and refund. Refund is floored at zero.
func (p RefundPolicy) Compute(fare decimal.Decimal, now, departure time.Time) Refund {
	charge := fare.Mul(p.ChargePct(now, departure)).Div(hundred).Round(2)
	if charge.GreaterThan(fare) {
		charge = fare
	}
	amount := fare.Sub(charge)
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	return Refund{Charge: charge, Amount: amount}
}
