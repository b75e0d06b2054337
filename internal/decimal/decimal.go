// Package decimal implements fixed-point decimal arithmetic for the money path.
//
// Every price, amount, and reservation quantity in the engine is a Decimal. Binary
// floating point never appears on the money path; only this package's big.Int-backed
// representation is used for comparisons, sums, and tick rounding.
package decimal

import (
	"fmt"
	"math/big"
	"strings"
)

// Decimal is a high-precision base-10 number stored as an integer value scaled by 10^-scale.
type Decimal struct {
	value *big.Int
	scale int
}

// Zero is the additive identity.
var Zero = &Decimal{value: big.NewInt(0), scale: 0}

// New parses a decimal literal such as "123.456" or "-0.5".
func New(s string) (*Decimal, error) {
	if s == "" {
		return Zero, nil
	}

	negative := false
	if strings.HasPrefix(s, "-") {
		negative = true
		s = s[1:]
	}

	parts := strings.SplitN(s, ".", 2)
	intPart := parts[0]
	fracPart := ""
	if len(parts) > 1 {
		fracPart = parts[1]
	}

	intPart = strings.TrimLeft(intPart, "0")
	if intPart == "" {
		intPart = "0"
	}

	combined := intPart + fracPart
	value := new(big.Int)
	if _, ok := value.SetString(combined, 10); !ok {
		return nil, fmt.Errorf("decimal: invalid literal %q", s)
	}

	if negative {
		value.Neg(value)
	}

	return &Decimal{value: value, scale: len(fracPart)}, nil
}

// MustNew parses s and panics on error; intended for constant-like call sites.
func MustNew(s string) *Decimal {
	d, err := New(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FromInt builds a scale-0 decimal from an integer.
func FromInt(v int64) *Decimal {
	return &Decimal{value: big.NewInt(v), scale: 0}
}

// FromIntWithScale builds a decimal from an integer already expressed in minimum-unit terms.
func FromIntWithScale(v int64, scale int) *Decimal {
	return &Decimal{value: big.NewInt(v), scale: scale}
}

// String renders the decimal in plain notation with trailing zeros trimmed.
func (d *Decimal) String() string {
	if d == nil || d.value == nil {
		return "0"
	}

	s := d.value.String()
	negative := strings.HasPrefix(s, "-")
	if negative {
		s = s[1:]
	}

	if d.scale == 0 {
		if negative {
			return "-" + s
		}
		return s
	}

	for len(s) <= d.scale {
		s = "0" + s
	}

	pos := len(s) - d.scale
	result := s[:pos] + "." + s[pos:]
	result = strings.TrimRight(result, "0")
	result = strings.TrimRight(result, ".")

	if negative {
		return "-" + result
	}
	return result
}

// Cmp returns -1, 0, or 1 as d is less than, equal to, or greater than other.
func (d *Decimal) Cmp(other *Decimal) int {
	d1, d2 := d.alignScale(other)
	return d1.value.Cmp(d2.value)
}

// Add returns d + other.
func (d *Decimal) Add(other *Decimal) *Decimal {
	d1, d2 := d.alignScale(other)
	return &Decimal{value: new(big.Int).Add(d1.value, d2.value), scale: d1.scale}
}

// Sub returns d - other.
func (d *Decimal) Sub(other *Decimal) *Decimal {
	d1, d2 := d.alignScale(other)
	return &Decimal{value: new(big.Int).Sub(d1.value, d2.value), scale: d1.scale}
}

// Mul returns d * other at combined scale.
func (d *Decimal) Mul(other *Decimal) *Decimal {
	return &Decimal{value: new(big.Int).Mul(d.value, other.value), scale: d.scale + other.scale}
}

// Div returns d / other truncated to scale decimal places. Division by zero returns a
// zero value at the requested scale rather than panicking; callers that care must check
// other.IsZero() first (the reservation/fsm packages always do).
func (d *Decimal) Div(other *Decimal, scale int) *Decimal {
	if other.value.Sign() == 0 {
		return &Decimal{value: big.NewInt(0), scale: scale}
	}

	targetScale := scale + other.scale
	scaleDiff := targetScale - d.scale

	dividend := new(big.Int).Set(d.value)
	if scaleDiff > 0 {
		dividend.Mul(dividend, pow10(scaleDiff))
	} else if scaleDiff < 0 {
		dividend.Div(dividend, pow10(-scaleDiff))
	}

	return &Decimal{value: new(big.Int).Div(dividend, other.value), scale: scale}
}

// Neg returns -d.
func (d *Decimal) Neg() *Decimal {
	return &Decimal{value: new(big.Int).Neg(d.value), scale: d.scale}
}

// Abs returns |d|.
func (d *Decimal) Abs() *Decimal {
	return &Decimal{value: new(big.Int).Abs(d.value), scale: d.scale}
}

// IsZero reports whether d is exactly zero.
func (d *Decimal) IsZero() bool { return d.value.Sign() == 0 }

// IsPositive reports whether d > 0.
func (d *Decimal) IsPositive() bool { return d.value.Sign() > 0 }

// IsNegative reports whether d < 0.
func (d *Decimal) IsNegative() bool { return d.value.Sign() < 0 }

// Truncate drops precision below scale decimal places, rounding toward zero.
func (d *Decimal) Truncate(scale int) *Decimal {
	if scale >= d.scale {
		return d
	}
	diff := d.scale - scale
	return &Decimal{value: new(big.Int).Quo(d.value, pow10(diff)), scale: scale}
}

// ToInt returns d expressed as an integer at the given scale (minimum-unit representation).
func (d *Decimal) ToInt(scale int) int64 {
	return d.setScale(scale).value.Int64()
}

// Half returns d / 2 exactly, extending scale by one digit so odd-valued
// ticks don't truncate to zero (used for tick-tolerance comparisons).
func (d *Decimal) Half() *Decimal {
	return &Decimal{value: new(big.Int).Mul(d.value, big.NewInt(5)), scale: d.scale + 1}
}

// RoundToTick truncates d down to the nearest multiple of tick (tick must be positive).
// This mirrors spec.md's "minimum price/amount increment" rounding rule.
func (d *Decimal) RoundToTick(tick *Decimal) *Decimal {
	if tick == nil || tick.IsZero() {
		return d
	}
	quotient := d.Div(tick, 0)
	return quotient.Mul(tick)
}

func (d *Decimal) alignScale(other *Decimal) (*Decimal, *Decimal) {
	if d.scale == other.scale {
		return d, other
	}
	if d.scale > other.scale {
		return d, other.setScale(d.scale)
	}
	return d.setScale(other.scale), other
}

func (d *Decimal) setScale(scale int) *Decimal {
	if scale == d.scale {
		return d
	}
	diff := scale - d.scale
	result := new(big.Int).Set(d.value)
	if diff > 0 {
		result.Mul(result, pow10(diff))
	} else {
		result.Div(result, pow10(-diff))
	}
	return &Decimal{value: result, scale: scale}
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// Min returns the smaller of a and b.
func Min(a, b *Decimal) *Decimal {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b *Decimal) *Decimal {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}
