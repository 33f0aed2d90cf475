package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Fixed-scale currency arithmetic.
//
// All aggregation math in the engine runs on Money and only drops to
// float64 at the final ratio/percentage step. Amounts are stored at two
// decimal places. Never pass currency as floating point across package
// boundaries.

const Scale = 2

type Money struct {
	dec decimal.Decimal
}

var Zero = Money{dec: decimal.Zero}

func New(value float64) Money {
	return Money{dec: decimal.NewFromFloat(value).Round(Scale)}
}

func FromInt(value int64) Money {
	return Money{dec: decimal.NewFromInt(value)}
}

func FromDecimal(d decimal.Decimal) Money {
	return Money{dec: d.Round(Scale)}
}

// Parse reads a decimal string like "125000.50". Malformed input is an
// error, not a silent zero.
func Parse(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("invalid money amount %q: %w", s, err)
	}
	return Money{dec: d.Round(Scale)}, nil
}

func (m Money) Add(o Money) Money { return Money{dec: m.dec.Add(o.dec)} }
func (m Money) Sub(o Money) Money { return Money{dec: m.dec.Sub(o.dec)} }
func (m Money) Neg() Money        { return Money{dec: m.dec.Neg()} }
func (m Money) MulInt(n int64) Money {
	return Money{dec: m.dec.Mul(decimal.NewFromInt(n))}
}

// MulFrac multiplies by num/den. Used for target proration; den must be
// non-zero.
func (m Money) MulFrac(num, den int64) Money {
	return Money{dec: m.dec.Mul(decimal.NewFromInt(num)).DivRound(decimal.NewFromInt(den), Scale)}
}

// DivInt divides by n, rounding to the fixed scale. n must be non-zero.
func (m Money) DivInt(n int64) Money {
	return Money{dec: m.dec.DivRound(decimal.NewFromInt(n), Scale)}
}

func (m Money) IsZero() bool             { return m.dec.IsZero() }
func (m Money) IsNegative() bool         { return m.dec.IsNegative() }
func (m Money) IsPositive() bool         { return m.dec.IsPositive() }
func (m Money) Cmp(o Money) int          { return m.dec.Cmp(o.dec) }
func (m Money) GreaterThan(o Money) bool { return m.dec.GreaterThan(o.dec) }
func (m Money) LessThan(o Money) bool    { return m.dec.LessThan(o.dec) }

// Float64 is the display-boundary escape hatch. Aggregations never call it.
func (m Money) Float64() float64 {
	f, _ := m.dec.Float64()
	return f
}

func (m Money) Decimal() decimal.Decimal { return m.dec }
func (m Money) String() string           { return m.dec.StringFixed(Scale) }

// MarshalJSON / UnmarshalJSON keep money as a JSON string to avoid
// float precision loss on the wire.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.dec.StringFixed(Scale) + `"`), nil
}

func (m *Money) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Ratio returns num/den as a float, reporting whether the ratio is
// defined. Every division that may see a zero denominator funnels
// through here.
func Ratio(num, den Money) (float64, bool) {
	if den.IsZero() {
		return 0, false
	}
	f, _ := num.dec.DivRound(den.dec, 8).Float64()
	return f, true
}

// PercentChange returns (current-baseline)/baseline × 100 with the
// engine's zero-denominator convention: 0/0 → 0, n/0 → 100.
func PercentChange(current, baseline Money) float64 {
	if baseline.IsZero() {
		if current.IsZero() {
			return 0
		}
		return 100
	}
	ratio, _ := Ratio(current.Sub(baseline), baseline)
	return RoundPercent(ratio * 100)
}

// RoundPercent applies the two-decimal display convention for percents.
func RoundPercent(p float64) float64 {
	d := decimal.NewFromFloat(p).Round(2)
	f, _ := d.Float64()
	return f
}
