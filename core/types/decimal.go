package types

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// DecimalPlaces is the fixed precision of Decimal.
const DecimalPlaces = 18

var (
	ErrDecimalOverflow  = errors.New("decimal: overflow")
	ErrDecimalUnderflow = errors.New("decimal: underflow")
	ErrDecimalSyntax    = errors.New("decimal: invalid syntax")
)

var decimalPowers [DecimalPlaces + 1]uint256.Int

func init() {
	decimalPowers[0].SetUint64(1)
	ten := uint256.NewInt(10)
	for i := 1; i <= DecimalPlaces; i++ {
		decimalPowers[i].Mul(&decimalPowers[i-1], ten)
	}
}

// Decimal is an unsigned fixed point number with 18 decimal places. The zero
// value is 0. Values are immutable; arithmetic returns new values.
type Decimal struct {
	v uint256.Int
}

// RoundingMode selects how a value is adjusted to a coarser granularity.
type RoundingMode uint8

const (
	RoundDown RoundingMode = iota
	RoundUp
)

// NewDecimal returns the decimal representation of a whole number.
func NewDecimal(whole uint64) Decimal {
	var d Decimal
	d.v.Mul(uint256.NewInt(whole), &decimalPowers[DecimalPlaces])
	return d
}

// DecimalFromAttos builds a decimal from its smallest unit (10^-18).
func DecimalFromAttos(attos uint64) Decimal {
	var d Decimal
	d.v.SetUint64(attos)
	return d
}

// MustParseDecimal is ParseDecimal that panics on error; intended for constants
// and tests.
func MustParseDecimal(s string) Decimal {
	d, err := ParseDecimal(s)
	if err != nil {
		panic(err)
	}
	return d
}

// ParseDecimal parses strings like "12", "0.5" or "1000.000000000000000001".
func ParseDecimal(s string) (Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Decimal{}, ErrDecimalSyntax
	}
	whole, frac, hasDot := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if hasDot && frac == "" {
		return Decimal{}, ErrDecimalSyntax
	}
	if len(frac) > DecimalPlaces {
		return Decimal{}, fmt.Errorf("%w: more than %d decimal places", ErrDecimalSyntax, DecimalPlaces)
	}
	for _, part := range []string{whole, frac} {
		for _, c := range part {
			if c < '0' || c > '9' {
				return Decimal{}, fmt.Errorf("%w: %q", ErrDecimalSyntax, s)
			}
		}
	}
	digits := whole + frac + strings.Repeat("0", DecimalPlaces-len(frac))
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return Decimal{}, nil
	}
	parsed, err := uint256.FromDecimal(digits)
	if err != nil {
		return Decimal{}, fmt.Errorf("%w: %v", ErrDecimalOverflow, err)
	}
	return Decimal{v: *parsed}, nil
}

func (d Decimal) IsZero() bool { return d.v.IsZero() }

// Cmp returns -1, 0 or +1.
func (d Decimal) Cmp(o Decimal) int { return d.v.Cmp(&o.v) }

func (d Decimal) Equal(o Decimal) bool { return d.v.Eq(&o.v) }

func (d Decimal) LessThan(o Decimal) bool { return d.v.Lt(&o.v) }

func (d Decimal) GreaterThan(o Decimal) bool { return d.v.Gt(&o.v) }

func (d Decimal) Add(o Decimal) (Decimal, error) {
	var out Decimal
	if _, overflow := out.v.AddOverflow(&d.v, &o.v); overflow {
		return Decimal{}, ErrDecimalOverflow
	}
	return out, nil
}

func (d Decimal) Sub(o Decimal) (Decimal, error) {
	var out Decimal
	if _, underflow := out.v.SubOverflow(&d.v, &o.v); underflow {
		return Decimal{}, ErrDecimalUnderflow
	}
	return out, nil
}

// MulUint64 multiplies by a whole number.
func (d Decimal) MulUint64(n uint64) (Decimal, error) {
	var out Decimal
	if _, overflow := out.v.MulOverflow(&d.v, uint256.NewInt(n)); overflow {
		return Decimal{}, ErrDecimalOverflow
	}
	return out, nil
}

// Max returns the larger of the two values.
func (d Decimal) Max(o Decimal) Decimal {
	if d.v.Lt(&o.v) {
		return o
	}
	return d
}

// Min returns the smaller of the two values.
func (d Decimal) Min(o Decimal) Decimal {
	if o.v.Lt(&d.v) {
		return o
	}
	return d
}

func granularity(divisibility uint8) (*uint256.Int, error) {
	if divisibility > DecimalPlaces {
		return nil, fmt.Errorf("decimal: divisibility %d out of range", divisibility)
	}
	return &decimalPowers[DecimalPlaces-int(divisibility)], nil
}

// CheckDivisibility reports whether the value is a whole multiple of the
// smallest unit of a resource with the given divisibility.
func (d Decimal) CheckDivisibility(divisibility uint8) bool {
	unit, err := granularity(divisibility)
	if err != nil {
		return false
	}
	var rem uint256.Int
	rem.Mod(&d.v, unit)
	return rem.IsZero()
}

// Round adjusts the value to the granularity of the given divisibility.
func (d Decimal) Round(divisibility uint8, mode RoundingMode) (Decimal, error) {
	unit, err := granularity(divisibility)
	if err != nil {
		return Decimal{}, err
	}
	var rem, out uint256.Int
	rem.Mod(&d.v, unit)
	if rem.IsZero() {
		return d, nil
	}
	out.Sub(&d.v, &rem)
	if mode == RoundUp {
		if _, overflow := out.AddOverflow(&out, unit); overflow {
			return Decimal{}, ErrDecimalOverflow
		}
	}
	return Decimal{v: out}, nil
}

// Attos returns the raw value in the smallest unit when it fits in 64 bits.
func (d Decimal) Attos() (uint64, bool) {
	return d.v.Uint64(), d.v.IsUint64()
}

// Whole returns the integer part when it fits in 64 bits.
func (d Decimal) Whole() (uint64, bool) {
	var whole uint256.Int
	whole.Div(&d.v, &decimalPowers[DecimalPlaces])
	return whole.Uint64(), whole.IsUint64()
}

func (d Decimal) String() string {
	var whole, frac uint256.Int
	whole.Div(&d.v, &decimalPowers[DecimalPlaces])
	frac.Mod(&d.v, &decimalPowers[DecimalPlaces])
	if frac.IsZero() {
		return whole.Dec()
	}
	fs := frac.Dec()
	fs = strings.Repeat("0", DecimalPlaces-len(fs)) + fs
	return whole.Dec() + "." + strings.TrimRight(fs, "0")
}

func (d Decimal) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Decimal) UnmarshalText(text []byte) error {
	parsed, err := ParseDecimal(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// EncodeRLP writes the raw 256-bit value.
func (d Decimal) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, &d.v)
}

// DecodeRLP reads a raw 256-bit value.
func (d *Decimal) DecodeRLP(s *rlp.Stream) error {
	return s.ReadUint256(&d.v)
}
