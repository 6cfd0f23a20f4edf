// Package money provides integer-cent amounts for imported transactions.
// Amounts are parsed with shopspring/decimal and displayed through go-money.
package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Common currency codes (ISO-4217)
const (
	USD = "USD"
	EUR = "EUR"
	GBP = "GBP"
)

var (
	ErrEmptyAmount   = errors.New("empty amount")
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrAmountOutOfRange is returned when an amount does not fit in int64 cents.
	ErrAmountOutOfRange = errors.New("amount out of range")
)

var (
	hundred  = decimal.NewFromInt(100)
	maxCents = decimal.NewFromInt(math.MaxInt64)
	minCents = decimal.NewFromInt(math.MinInt64)
)

// Money is a cent amount with a currency.
type Money struct {
	m *money.Money
}

// New creates Money from minor units.
func New(amountCents int64, currencyCode string) *Money {
	return &Money{m: money.New(amountCents, currencyCode)}
}

// Amount returns the amount in minor units.
func (m *Money) Amount() int64 {
	if m == nil || m.m == nil {
		return 0
	}
	return m.m.Amount()
}

// Currency returns the ISO-4217 code.
func (m *Money) Currency() string {
	if m == nil || m.m == nil {
		return ""
	}
	return m.m.Currency().Code
}

// IsNegative reports whether the amount is below zero.
func (m *Money) IsNegative() bool {
	return m != nil && m.m != nil && m.m.IsNegative()
}

// Negate returns the negated value.
func (m *Money) Negate() *Money {
	if m == nil || m.m == nil {
		return New(0, USD)
	}
	return &Money{m: m.m.Negative()}
}

// Add adds two values. Returns error if currencies don't match.
func (m *Money) Add(other *Money) (*Money, error) {
	if m == nil || m.m == nil {
		return other, nil
	}
	if other == nil || other.m == nil {
		return m, nil
	}
	result, err := m.m.Add(other.m)
	if err != nil {
		return nil, err
	}
	return &Money{m: result}, nil
}

// Display returns a formatted string (e.g. "$1,234.56").
func (m *Money) Display() string {
	if m == nil || m.m == nil {
		return "$0.00"
	}
	return m.m.Display()
}

// String returns the amount as a decimal string (e.g. "1234.56").
func (m *Money) String() string {
	return m.ToDecimal().StringFixed(2)
}

// ToDecimal converts to major units.
func (m *Money) ToDecimal() decimal.Decimal {
	if m == nil || m.m == nil {
		return decimal.Zero
	}
	divisor := decimal.New(1, int32(m.m.Currency().Fraction))
	return decimal.NewFromInt(m.m.Amount()).Div(divisor)
}

// ParseDecimal reads an export amount such as "4.50", "-3,500.00" or "$12".
// It accepts more than a plain number: "$", "€" and "£" signs, thousands
// commas and inner spaces are removed first, so "$ 1,234.56" reads 1234.56.
// Commas are always thousands separators; "1,5" reads 15.
func ParseDecimal(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, ErrEmptyAmount
	}
	for _, sym := range []string{"$", "€", "£"} {
		s = strings.ReplaceAll(s, sym, "")
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	return d, nil
}

// ToCents converts a major-unit amount string to cents, rounding half to even.
func ToCents(raw string) (int64, error) {
	return Scale(raw, hundred)
}

// Scale multiplies a raw amount by factor and rounds half to even.
func Scale(raw string, factor decimal.Decimal) (int64, error) {
	d, err := ParseDecimal(raw)
	if err != nil {
		return 0, err
	}
	scaled := d.Mul(factor).RoundBank(0)
	if scaled.GreaterThan(maxCents) || scaled.LessThan(minCents) {
		return 0, fmt.Errorf("%w: %q", ErrAmountOutOfRange, raw)
	}
	return scaled.IntPart(), nil
}

// Sum totals cent amounts in one currency.
func Sum(currencyCode string, cents ...int64) *Money {
	total := New(0, currencyCode)
	for _, c := range cents {
		total, _ = total.Add(New(c, currencyCode))
	}
	return total
}

// Format renders cents for humans.
func Format(cents int64, currencyCode string) string {
	return New(cents, currencyCode).Display()
}
