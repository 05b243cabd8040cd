// Package ledger holds the pure position arithmetic. All functions are
// stateless and keep full decimal precision; rounding happens once at
// persistence time, not here.
package ledger

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/venue-simulator/internal/models"
)

var (
	// ErrZeroQuantity is returned when a weighted average is requested over a
	// zero total quantity.
	ErrZeroQuantity = errors.New("ledger: total quantity is zero")
)

// PersistencePrecision is the number of fractional digits kept when a
// monetary value is written out. Rounding uses banker's rounding.
const PersistencePrecision = 8

var hundred = decimal.NewFromInt(100)

// WeightedAverage computes the quantity-weighted average entry price after
// adding addQty units at addPrice to an existing oldQty units at oldAvg.
// Callers must never invoke it with both quantities zero.
func WeightedAverage(oldQty, oldAvg, addQty, addPrice decimal.Decimal) (decimal.Decimal, error) {
	totalQty := oldQty.Add(addQty)
	if totalQty.IsZero() {
		return decimal.Zero, ErrZeroQuantity
	}
	totalCost := oldQty.Mul(oldAvg).Add(addQty.Mul(addPrice))
	return totalCost.Div(totalQty), nil
}

// RealizedPnL computes the profit or loss booked by closing quantity units
// entered at entryPrice and exited at exitPrice.
func RealizedPnL(direction models.Direction, entryPrice, exitPrice, quantity decimal.Decimal) decimal.Decimal {
	pnl := exitPrice.Sub(entryPrice).Mul(quantity)
	if direction == models.DirectionShort {
		return pnl.Neg()
	}
	return pnl
}

// UnrealizedPnL computes the mark-to-market profit or loss on the still-open
// remainder of a position.
func UnrealizedPnL(direction models.Direction, entryPrice, markPrice, remainingQuantity decimal.Decimal) decimal.Decimal {
	return RealizedPnL(direction, entryPrice, markPrice, remainingQuantity)
}

// PnLPercentage returns pnl as a percentage of invested, or zero when nothing
// is invested.
func PnLPercentage(pnl, invested decimal.Decimal) decimal.Decimal {
	if invested.IsZero() {
		return decimal.Zero
	}
	return pnl.Div(invested).Mul(hundred)
}

// IntrinsicValue returns the at-expiry value of an option contract:
// max(mark-strike, 0) for calls, max(strike-mark, 0) for puts.
func IntrinsicValue(optionType models.OptionType, markPrice, strikePrice decimal.Decimal) decimal.Decimal {
	var intrinsic decimal.Decimal
	switch optionType {
	case models.OptionTypePut:
		intrinsic = strikePrice.Sub(markPrice)
	default:
		intrinsic = markPrice.Sub(strikePrice)
	}
	if intrinsic.IsNegative() {
		return decimal.Zero
	}
	return intrinsic
}

// RoundMoney applies the persistence rounding rule (round-half-even at 8
// fractional digits).
func RoundMoney(v decimal.Decimal) decimal.Decimal {
	return v.RoundBank(PersistencePrecision)
}

// FitsPrecision reports whether v has at most PersistencePrecision fractional
// digits.
func FitsPrecision(v decimal.Decimal) bool {
	return v.Equal(v.Truncate(PersistencePrecision))
}
