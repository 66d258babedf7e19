// Package money implements exact currency values in integer minor units.
//
// Rates are decimals and every rate application rounds the computed fee half-to-even
// (banker's rounding); the remainder stays with the net amount, so gross == fee + net holds exactly.
package money

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Currency is an ISO 4217 currency code
type Currency string

const (
	KRW Currency = "KRW"
	THB Currency = "THB"
	USD Currency = "USD"
)

var (
	ErrCurrencyMismatch = errors.New("currency mismatch")
	ErrInvalidRate      = errors.New("rate must be between 0 and 1")
	ErrInvalidDivisor   = errors.New("divisor must be positive")
)

// Money is an immutable amount of minor units in a single currency
type Money struct {
	amount   int64
	currency Currency
}

func New(amount int64, currency Currency) Money {
	return Money{amount: amount, currency: currency}
}

func Zero(currency Currency) Money {
	return Money{currency: currency}
}

func (m Money) Amount() int64 { return m.amount }

func (m Money) Currency() Currency { return m.currency }

func (m Money) IsZero() bool { return m.amount == 0 }

func (m Money) IsNegative() bool { return m.amount < 0 }

func (m Money) Add(o Money) (Money, error) {
	if m.currency != o.currency {
		return Money{}, fmt.Errorf("%w: %s + %s", ErrCurrencyMismatch, m.currency, o.currency)
	}
	return Money{amount: m.amount + o.amount, currency: m.currency}, nil
}

func (m Money) Sub(o Money) (Money, error) {
	if m.currency != o.currency {
		return Money{}, fmt.Errorf("%w: %s - %s", ErrCurrencyMismatch, m.currency, o.currency)
	}
	return Money{amount: m.amount - o.amount, currency: m.currency}, nil
}

// Times multiplies by a whole quantity
func (m Money) Times(n int64) Money {
	return Money{amount: m.amount * n, currency: m.currency}
}

// ApplyRate returns round_half_even(amount * rate)
func (m Money) ApplyRate(rate decimal.Decimal) Money {
	v := decimal.NewFromInt(m.amount).Mul(rate).RoundBank(0)
	return Money{amount: v.IntPart(), currency: m.currency}
}

// Split applies rate and returns the fee and the remaining net amount.
// fee + net always equals m.
func (m Money) Split(rate decimal.Decimal) (fee, net Money) {
	fee = m.ApplyRate(rate)
	net = Money{amount: m.amount - fee.amount, currency: m.currency}
	return fee, net
}

// DivideEvenly splits m into n equal parts rounded down; remainder is what the
// last part carries on top of per.
func (m Money) DivideEvenly(n int) (per Money, remainder Money, err error) {
	if n <= 0 {
		return Money{}, Money{}, ErrInvalidDivisor
	}
	q := m.amount / int64(n)
	r := m.amount - q*int64(n)
	return Money{amount: q, currency: m.currency}, Money{amount: r, currency: m.currency}, nil
}

func (m Money) Equal(o Money) bool {
	return m.amount == o.amount && m.currency == o.currency
}

func (m Money) String() string {
	return fmt.Sprintf("%d %s", m.amount, m.currency)
}

type moneyJSON struct {
	Amount   int64    `json:"amount"`
	Currency Currency `json:"currency"`
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.amount, Currency: m.currency})
}

func (m *Money) UnmarshalJSON(b []byte) error {
	var v moneyJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	m.amount = v.Amount
	m.currency = v.Currency
	return nil
}

// ParseRate parses a decimal rate in [0, 1]
func ParseRate(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid rate %q: %w", s, err)
	}
	if err := ValidateRate(d); err != nil {
		return decimal.Decimal{}, err
	}
	return d, nil
}

func ValidateRate(d decimal.Decimal) error {
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: %s", ErrInvalidRate, d.String())
	}
	return nil
}
