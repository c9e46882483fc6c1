// Package types provides common types used across Charter.
package types

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money represents an exact decimal amount of the wallet ledger's unit.
// Arithmetic and comparison are exact and never use floating point. Charter never
// converts currencies, so Money carries no currency code.
//
// Examples:
//   - MustMoney("10.00")
//   - MoneyFromInt(25)
type Money struct {
	d decimal.Decimal
}

// NewMoney parses a decimal string such as "10.00".
func NewMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Money{}, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return Money{d: d}, nil
}

// MustMoney is like NewMoney but panics on error. Use for hardcoded values.
func MustMoney(s string) Money {
	m, err := NewMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// MoneyFromInt creates a whole-unit Money value.
func MoneyFromInt(v int64) Money { return Money{d: decimal.NewFromInt(v)} }

// MoneyFromDecimal wraps a decimal.Decimal.
func MoneyFromDecimal(d decimal.Decimal) Money { return Money{d: d} }

// Zero returns a zero Money value.
func Zero() Money { return Money{} }

// Decimal returns the underlying decimal value.
func (m Money) Decimal() decimal.Decimal { return m.d }

// Arithmetic operations

// Add adds two Money values.
func (m Money) Add(other Money) Money { return Money{d: m.d.Add(other.d)} }

// Subtract subtracts another Money value.
func (m Money) Subtract(other Money) Money { return Money{d: m.d.Sub(other.d)} }

// Multiply multiplies the Money by a quantity.
func (m Money) Multiply(qty int64) Money { return Money{d: m.d.Mul(decimal.NewFromInt(qty))} }

// Negate returns the negative of the Money value.
func (m Money) Negate() Money { return Money{d: m.d.Neg()} }

// Comparison methods

// IsZero returns true if the amount is zero.
func (m Money) IsZero() bool { return m.d.IsZero() }

// IsPositive returns true if the amount is greater than zero.
func (m Money) IsPositive() bool { return m.d.IsPositive() }

// IsNegative returns true if the amount is less than zero.
func (m Money) IsNegative() bool { return m.d.IsNegative() }

// Equal reports numeric equality, so "10" equals "10.00".
func (m Money) Equal(other Money) bool { return m.d.Equal(other.d) }

// Cmp compares two values: -1 if m < other, 0 if equal, +1 if m > other.
func (m Money) Cmp(other Money) int { return m.d.Cmp(other.d) }

// LessThan returns true if this Money is less than other.
func (m Money) LessThan(other Money) bool { return m.d.LessThan(other.d) }

// GreaterThan returns true if this Money is greater than other.
func (m Money) GreaterThan(other Money) bool { return m.d.GreaterThan(other.d) }

// Formatting methods

// String returns the canonical decimal representation ("10", "10.5").
func (m Money) String() string { return m.d.String() }

// StringFixed returns the amount rounded to the given number of places.
func (m Money) StringFixed(places int32) string { return m.d.StringFixed(places) }

// MarshalJSON encodes Money as a JSON string to preserve precision.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.d.String())
}

// UnmarshalJSON accepts both JSON strings and numbers.
func (m *Money) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		s = string(data)
	}
	parsed, err := NewMoney(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Sum calculates the sum of multiple Money values.
func Sum(values ...Money) Money {
	result := Zero()
	for _, v := range values {
		result = result.Add(v)
	}
	return result
}
