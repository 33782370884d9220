/*
Package generic provides the domain-agnostic building blocks of the payout engine.

PURPOSE:
  Money arithmetic, calendar-date math, settlement periods, identifiers and
  the shared error taxonomy live here. Nothing in this package knows about
  writers, orders or batches; the payout package composes these pieces.

KEY CONCEPTS IN THIS FILE (money.go):
  - Money: fixed-point decimal amount, always compared and stored at scale 2
  - Quantize: the single place where rounding happens (banker's rounding)

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere, never float64
  2. Round once: intermediate sums keep full precision, only line items
     are quantized, so a total built from quantized lines is exact
  3. Signed values: fines are negative amounts, the sign carries meaning

USAGE:
  fee := generic.MustMoney("100.005").Quantize() // 100.00 (banker's)
  total := fee.Add(generic.MustMoney("50"))

SEE ALSO:
  - dates.go: calendar helpers used for anchors and windows
  - period.go: settlement windows
  - errors.go: sentinel and structured errors
*/
package generic

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places money is quantized to.
const MoneyScale int32 = 2

// =============================================================================
// MONEY - Fixed-point monetary amount
// =============================================================================

// Money is a signed monetary amount. The zero value is 0.
type Money struct {
	Value decimal.Decimal
}

// ZeroMoney returns 0.00.
func ZeroMoney() Money { return Money{Value: decimal.Zero} }

// NewMoney builds an amount from an integer number of cents.
func NewMoney(cents int64) Money {
	return Money{Value: decimal.New(cents, -MoneyScale)}
}

// ParseMoney parses a decimal string such as "130.00" or "-20".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("parse money %q: %w", s, err)
	}
	return Money{Value: d}, nil
}

// MustMoney is ParseMoney for literals; it panics on malformed input.
func MustMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Add(o Money) Money  { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money  { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) Neg() Money         { return Money{Value: m.Value.Neg()} }
func (m Money) Abs() Money         { return Money{Value: m.Value.Abs()} }
func (m Money) IsZero() bool       { return m.Value.IsZero() }
func (m Money) IsNegative() bool   { return m.Value.IsNegative() }
func (m Money) IsPositive() bool   { return m.Value.IsPositive() }
func (m Money) Equal(o Money) bool { return m.Value.Equal(o.Value) }

// Quantize rounds to MoneyScale using banker's rounding (half to even).
func (m Money) Quantize() Money {
	return Money{Value: m.Value.RoundBank(MoneyScale)}
}

// FloorZero returns m, or 0.00 when m is negative.
func (m Money) FloorZero() Money {
	if m.IsNegative() {
		return ZeroMoney()
	}
	return m
}

// String renders the amount with exactly two decimals.
func (m Money) String() string { return m.Value.StringFixed(MoneyScale) }

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Accept bare numbers too.
		return m.Value.UnmarshalJSON(data)
	}
	parsed, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// SumMoney adds amounts without intermediate rounding.
func SumMoney(amounts ...Money) Money {
	total := ZeroMoney()
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
