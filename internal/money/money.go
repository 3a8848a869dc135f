// Package money implements fixed-point monetary arithmetic in integer
// minor units (cents). Amounts are never represented as floating point;
// rate-based operations round half-up to the minor unit at the point of
// computation, so every observable value is already rounded.
package money

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Money is an immutable amount in minor units tagged with an ISO 4217
// currency code.
type Money struct {
	amount int64
	code   string
}

// ErrCurrencyMismatch is returned when two amounts in different
// currencies are combined.
type ErrCurrencyMismatch struct {
	Left  string
	Right string
}

func (e ErrCurrencyMismatch) Error() string {
	return fmt.Sprintf("currency mismatch: %s vs %s", e.Left, e.Right)
}

// New creates a Money value after validating the currency code.
func New(amount int64, code string) (Money, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return Money{}, fmt.Errorf("invalid currency %q: %w", code, err)
	}
	return Money{amount: amount, code: unit.String()}, nil
}

// MustNew creates a Money value and panics on an invalid currency code.
// Intended for constants and tests.
func MustNew(amount int64, code string) Money {
	m, err := New(amount, code)
	if err != nil {
		panic(err)
	}
	return m
}

// Zero returns a zero amount in the given currency.
func Zero(code string) Money {
	return Money{amount: 0, code: code}
}

// Amount returns the amount in minor units.
func (m Money) Amount() int64 { return m.amount }

// Currency returns the ISO 4217 currency code.
func (m Money) Currency() string { return m.code }

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool { return m.amount == 0 }

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool { return m.amount < 0 }

// SameCurrency reports whether two amounts share a currency.
func (m Money) SameCurrency(o Money) bool { return m.code == o.code }

// Add returns m + o.
func (m Money) Add(o Money) (Money, error) {
	if !m.SameCurrency(o) {
		return Money{}, ErrCurrencyMismatch{Left: m.code, Right: o.code}
	}
	return Money{amount: m.amount + o.amount, code: m.code}, nil
}

// Sub returns m - o.
func (m Money) Sub(o Money) (Money, error) {
	if !m.SameCurrency(o) {
		return Money{}, ErrCurrencyMismatch{Left: m.code, Right: o.code}
	}
	return Money{amount: m.amount - o.amount, code: m.code}, nil
}

// MustAdd is Add for amounts already known to share a currency, such as
// values derived from a single validated cart. Panics on mismatch.
func (m Money) MustAdd(o Money) Money {
	r, err := m.Add(o)
	if err != nil {
		panic(err)
	}
	return r
}

// MustSub is Sub for amounts already known to share a currency.
func (m Money) MustSub(o Money) Money {
	r, err := m.Sub(o)
	if err != nil {
		panic(err)
	}
	return r
}

// MulQuantity returns the amount multiplied by an integer quantity.
func (m Money) MulQuantity(q int) Money {
	return Money{amount: m.amount * int64(q), code: m.code}
}

// PercentageOf returns pct percent of the amount, rounded half-up to
// the minor unit. A pct of 10 means 10%.
func (m Money) PercentageOf(pct decimal.Decimal) Money {
	amt := decimal.NewFromInt(m.amount).
		Mul(pct).
		Div(decimal.NewFromInt(100)).
		Round(0)
	return Money{amount: amt.IntPart(), code: m.code}
}

// MulRate returns the amount multiplied by a decimal rate (e.g. a tax
// rate of 0.15), rounded half-up to the minor unit.
func (m Money) MulRate(rate decimal.Decimal) Money {
	amt := decimal.NewFromInt(m.amount).Mul(rate).Round(0)
	return Money{amount: amt.IntPart(), code: m.code}
}

// ClampNonNegative returns the amount floored at zero.
func (m Money) ClampNonNegative() Money {
	if m.amount < 0 {
		return Money{amount: 0, code: m.code}
	}
	return m
}

type moneyJSON struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// MarshalJSON encodes the amount as {"amount": 1234, "currency": "EUR"}.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.amount, Currency: m.code})
}

// UnmarshalJSON decodes and validates the currency code.
func (m *Money) UnmarshalJSON(data []byte) error {
	var v moneyJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	parsed, err := New(v.Amount, v.Currency)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Cmp compares two amounts: -1 if m < o, 0 if equal, 1 if m > o.
func (m Money) Cmp(o Money) (int, error) {
	if !m.SameCurrency(o) {
		return 0, ErrCurrencyMismatch{Left: m.code, Right: o.code}
	}
	switch {
	case m.amount < o.amount:
		return -1, nil
	case m.amount > o.amount:
		return 1, nil
	default:
		return 0, nil
	}
}

// Equal reports whether two amounts are identical in amount and currency.
func (m Money) Equal(o Money) bool {
	return m.code == o.code && m.amount == o.amount
}

// String formats the amount at two decimal places, e.g. "12.34 EUR".
func (m Money) String() string {
	major := m.amount / 100
	minor := m.amount % 100
	if minor < 0 {
		minor = -minor
	}
	if m.amount < 0 && major == 0 {
		return fmt.Sprintf("-0.%02d %s", minor, m.code)
	}
	return fmt.Sprintf("%d.%02d %s", major, minor, m.code)
}
