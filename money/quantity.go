// Package money provides the arbitrary-precision Quantity and Money value
// types shared by every other package in this module. Calculations never
// use floating point; rounding to a fixed persisted scale happens only at
// the boundaries named in this package (RoundShares, Money.Round).
package money

import "github.com/shopspring/decimal"

// SharesScale is the fixed decimal scale shares are rounded to at
// persistence boundaries (spec: 4 digits).
const SharesScale = 4

// numeric is the set of Go primitives that can seed a decimal.Decimal.
type numeric interface {
	float32 | float64 | int | int32 | int64 | uint | uint32 | uint64 | decimal.Decimal
}

func newDecimal[T numeric](value T) decimal.Decimal {
	switch v := any(value).(type) {
	case decimal.Decimal:
		return v
	case float32:
		return decimal.NewFromFloat32(v)
	case float64:
		return decimal.NewFromFloat(v)
	case int:
		return decimal.NewFromInt32(int32(v))
	case int32:
		return decimal.NewFromInt32(v)
	case int64:
		return decimal.NewFromInt(v)
	case uint:
		return decimal.NewFromUint64(uint64(v))
	case uint32:
		return decimal.NewFromUint64(uint64(v))
	case uint64:
		return decimal.NewFromUint64(v)
	default:
		panic("money: unsupported numeric type")
	}
}

// Quantity represents a number of shares, held in arbitrary precision.
type Quantity struct {
	value decimal.Decimal
}

// Q builds a Quantity from any supported numeric type.
func Q[T numeric](value T) Quantity { return Quantity{value: newDecimal(value)} }

func (q Quantity) Decimal() decimal.Decimal { return q.value }

func (q Quantity) Add(p Quantity) Quantity     { return Quantity{q.value.Add(p.value)} }
func (q Quantity) Sub(p Quantity) Quantity     { return Quantity{q.value.Sub(p.value)} }
func (q Quantity) Mul(p Quantity) Quantity     { return Quantity{q.value.Mul(p.value)} }
func (q Quantity) Div(p Quantity) Quantity     { return Quantity{q.value.Div(p.value)} }
func (q Quantity) Neg() Quantity               { return Quantity{q.value.Neg()} }
func (q Quantity) Equal(p Quantity) bool       { return q.value.Equal(p.value) }
func (q Quantity) LessThan(p Quantity) bool    { return q.value.LessThan(p.value) }
func (q Quantity) GreaterThan(p Quantity) bool { return q.value.GreaterThan(p.value) }
func (q Quantity) IsZero() bool                { return q.value.IsZero() }
func (q Quantity) IsPositive() bool            { return q.value.IsPositive() }
func (q Quantity) IsNegative() bool            { return q.value.IsNegative() }
func (q Quantity) String() string              { return q.value.String() }

// Round rounds the quantity to the fixed shares persistence scale using
// half-up rounding (shares are never negative, so round-half-away-from-zero
// and round-half-up coincide).
func (q Quantity) Round() Quantity { return Quantity{q.value.Round(SharesScale)} }

// MarshalJSON rounds to the shares persistence scale, the only point at
// which a Quantity's precision is reduced.
func (q Quantity) MarshalJSON() ([]byte, error) { return q.value.Round(SharesScale).MarshalJSON() }
func (q *Quantity) UnmarshalJSON(b []byte) error {
	return q.value.UnmarshalJSON(b)
}
