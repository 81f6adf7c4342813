package money

import (
	"encoding/json"
	"fmt"

	gomoney "github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// MoneyScale is the fixed decimal scale monetary amounts are rounded to at
// persistence boundaries when the currency's own fraction digits are not
// consulted (spec: 2 digits for most currencies).
const MoneyScale = 2

// Money represents a monetary amount in a specific currency. Arithmetic
// between two non-empty, mismatched currencies panics: callers are expected
// to convert before combining values, exactly as the FIFO and snapshot
// layers do.
type Money struct {
	value decimal.Decimal
	cur   string
}

// M builds a Money value from any supported numeric type and an ISO 4217
// currency code.
func M[T numeric](value T, currency string) Money {
	return Money{value: newDecimal(value), cur: currency}
}

func (m Money) Currency() string      { return m.cur }
func (m Money) Decimal() decimal.Decimal { return m.value }
func (m Money) IsZero() bool          { return m.value.IsZero() }
func (m Money) IsPositive() bool      { return m.value.IsPositive() }
func (m Money) IsNegative() bool      { return m.value.IsNegative() }
func (m Money) Equal(n Money) bool    { return m.value.Equal(n.value) && m.cur == n.cur }

func (m Money) LessThan(n Money) bool           { return m.value.LessThan(n.value) }
func (m Money) LessThanOrEqual(n Money) bool    { return m.value.LessThanOrEqual(n.value) }
func (m Money) GreaterThan(n Money) bool        { return m.value.GreaterThan(n.value) }
func (m Money) GreaterThanOrEqual(n Money) bool { return m.value.GreaterThanOrEqual(n.value) }

func (m Money) Neg() Money { return Money{value: m.value.Neg(), cur: m.cur} }

// Mul scales the money value by a quantity (e.g. price * shares).
func (m Money) Mul(q Quantity) Money { return Money{value: m.value.Mul(q.value), cur: m.cur} }

// Div divides the money value by a quantity (e.g. cost basis / shares = average cost).
func (m Money) Div(q Quantity) Money { return Money{value: m.value.Div(q.value), cur: m.cur} }

// DivMoney divides two money values of the same currency into a bare decimal ratio.
func (m Money) DivMoney(n Money) decimal.Decimal { return m.value.Div(n.value) }

func (m Money) Add(n Money) Money {
	return Money{value: m.value.Add(n.value), cur: resolveCurrency(m, n)}
}

func (m Money) Sub(n Money) Money {
	return Money{value: m.value.Sub(n.value), cur: resolveCurrency(m, n)}
}

// resolveCurrency lets a zero-value (uncurrencied) Money combine freely
// with a currencied one -- the same weak-"" convention the teacher's
// type_money.go uses for its cur() helper.
func resolveCurrency(a, b Money) string {
	if a.cur == "" {
		return b.cur
	}
	if b.cur == "" {
		return a.cur
	}
	if a.cur != b.cur {
		panic(fmt.Sprintf("money: currency mismatch %s != %s", a.cur, b.cur))
	}
	return a.cur
}

// fraction returns the number of minor-unit digits for the currency, e.g.
// 2 for USD/EUR/CAD, 0 for JPY. Unknown currencies fall back to MoneyScale.
func fraction(currency string) int32 {
	if currency == "" {
		return MoneyScale
	}
	c := gomoney.GetCurrency(currency)
	if c == nil {
		return MoneyScale
	}
	return int32(c.Fraction)
}

// Round rounds the monetary amount to its currency's fraction digits using
// half-up rounding, the scale applied at every persistence boundary (local
// files, remote database rows).
func (m Money) Round() Money {
	return Money{value: m.value.Round(fraction(m.cur)), cur: m.cur}
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.value.Round(fraction(m.cur)).StringFixed(fraction(m.cur)), m.cur)
}

type moneyWire struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency,omitempty"`
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyWire{Amount: m.value.Round(fraction(m.cur)).String(), Currency: m.cur})
}

func (m *Money) UnmarshalJSON(b []byte) error {
	var w moneyWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	v, err := decimal.NewFromString(w.Amount)
	if err != nil {
		return fmt.Errorf("money: invalid amount %q: %w", w.Amount, err)
	}
	m.value, m.cur = v, w.Currency
	return nil
}
