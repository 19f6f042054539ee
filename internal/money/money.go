// Package money implements fixed-point price arithmetic: two decimal
// places, integer-hundredths precision, no floating point drift. It
// wraps github.com/shopspring/decimal rather than hand-rolling cents
// math.
package money

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// MaxPrice is the largest tradable limit price.
const MaxPrice = "999999.99"

var maxPrice = decimal.RequireFromString(MaxPrice)
var cent = decimal.New(1, -2)

// Price is a validated limit price: strictly positive, at most MaxPrice,
// and an exact multiple of 0.01.
type Price struct {
	d decimal.Decimal
}

// NewPrice validates and constructs a Price from a decimal value.
func NewPrice(d decimal.Decimal) (Price, error) {
	if d.Sign() <= 0 {
		return Price{}, fmt.Errorf("price must be positive, got %s", d.String())
	}
	if d.GreaterThan(maxPrice) {
		return Price{}, fmt.Errorf("price %s exceeds maximum %s", d.String(), MaxPrice)
	}
	if !d.Mod(cent).IsZero() {
		return Price{}, fmt.Errorf("price %s is not a multiple of 0.01", d.String())
	}
	return Price{d: d.Round(2)}, nil
}

// ParsePrice parses a decimal string (e.g. "100.00") into a validated Price.
func ParsePrice(s string) (Price, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Price{}, fmt.Errorf("invalid price %q: %w", s, err)
	}
	return NewPrice(d)
}

// Decimal returns the underlying decimal.Decimal value.
func (p Price) Decimal() decimal.Decimal { return p.d }

func (p Price) String() string { return p.d.StringFixed(2) }

func (p Price) Equal(o Price) bool { return p.d.Equal(o.d) }

func (p Price) LessThan(o Price) bool { return p.d.LessThan(o.d) }

func (p Price) GreaterThan(o Price) bool { return p.d.GreaterThan(o.d) }

func (p Price) GreaterOrEqual(o Price) bool { return !p.d.LessThan(o.d) }

// MarshalJSON encodes the price as its fixed "100.00" string form, the
// same representation ParsePrice accepts.
func (p Price) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.d.StringFixed(2))
}

// UnmarshalJSON decodes a price from its string form, re-validating it
// through ParsePrice.
func (p *Price) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePrice(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Mul returns the decimal product of the price and an integer quantity,
// used to accumulate VWAP numerators.
func (p Price) Mul(qty int64) decimal.Decimal {
	return p.d.Mul(decimal.NewFromInt(qty))
}

// VWAP tracks a running volume-weighted average price across fills,
// carrying the full numerator and trade count and dividing only on
// read, to avoid rounding drift.
type VWAP struct {
	numerator decimal.Decimal
	traded    int64
}

// Add folds one fill of qty @ price into the running VWAP.
func (v *VWAP) Add(price Price, qty int64) {
	v.numerator = v.numerator.Add(price.Mul(qty))
	v.traded += qty
}

// Value returns the current VWAP, or zero when nothing has traded.
func (v VWAP) Value() decimal.Decimal {
	if v.traded == 0 {
		return decimal.Zero
	}
	return v.numerator.DivRound(decimal.NewFromInt(v.traded), 2)
}

// RestoreVWAP reconstructs a VWAP from its rounded average and trade
// count, as stored by a Repository. The numerator is recovered as
// average*traded, which reproduces Value() exactly since Value() only
// rounds on read.
func RestoreVWAP(average decimal.Decimal, traded int64) VWAP {
	if traded == 0 {
		return VWAP{}
	}
	return VWAP{numerator: average.Mul(decimal.NewFromInt(traded)), traded: traded}
}
