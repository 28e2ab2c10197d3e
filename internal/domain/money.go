package domain

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Amount is a monetary value in minor units (cents for cash, hundredths of a
// coin for play money).
type Amount int64

const minorUnitPlaces = 2

// ParseAmount parses a decimal string such as "25.00" into minor units.
// More than two fractional digits is rejected rather than rounded.
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return AmountFromDecimal(d)
}

// AmountFromDecimal converts a decimal major-unit value to minor units.
func AmountFromDecimal(d decimal.Decimal) (Amount, error) {
	scaled := d.Shift(minorUnitPlaces)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than %d decimal places", d.String(), minorUnitPlaces)
	}
	return Amount(scaled.IntPart()), nil
}

// Decimal returns the amount in major units.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -minorUnitPlaces)
}

// String formats a with two decimal places, e.g. "25.00".
func (a Amount) String() string {
	return a.Decimal().StringFixed(minorUnitPlaces)
}

// MarshalJSON renders the amount as a fixed two-place decimal string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts either a decimal string or a JSON number in major
// units.
func (a *Amount) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("amount: %w", err)
		}
		s = n.String()
	}
	v, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// SumAmounts adds up a slice of amounts.
func SumAmounts(xs []Amount) Amount {
	var total Amount
	for _, x := range xs {
		total += x
	}
	return total
}
