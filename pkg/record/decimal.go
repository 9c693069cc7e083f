package record

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// Decimal is an exact fixed-point value: Unscaled * 10^-Scale.
type Decimal struct {
	Unscaled *big.Int
	Scale    int
}

// NewDecimal builds a decimal from an unscaled integer.
func NewDecimal(unscaled int64, scale int) Decimal {
	return Decimal{Unscaled: big.NewInt(unscaled), Scale: scale}
}

// ParseDecimal parses plain decimal notation such as "-12.250".
func ParseDecimal(s string) (Decimal, error) {
	text := strings.TrimSpace(s)
	digits := text
	sign := ""
	if strings.HasPrefix(digits, "-") || strings.HasPrefix(digits, "+") {
		sign, digits = digits[:1], digits[1:]
	}
	whole, frac, _ := strings.Cut(digits, ".")
	if whole == "" && frac == "" {
		return Decimal{}, fmt.Errorf("invalid decimal %q", s)
	}
	n, ok := new(big.Int).SetString(sign+whole+frac, 10)
	if !ok || strings.ContainsAny(whole+frac, "+-_") {
		return Decimal{}, fmt.Errorf("invalid decimal %q", s)
	}
	return Decimal{Unscaled: n, Scale: len(frac)}, nil
}

// DecimalFromFloat converts f using its shortest exact decimal form.
func DecimalFromFloat(f float64) (Decimal, error) {
	return ParseDecimal(strconv.FormatFloat(f, 'f', -1, 64))
}

// Rescale returns d with the given scale. Dropping non-zero digits fails.
func (d Decimal) Rescale(scale int) (Decimal, error) {
	if d.Unscaled == nil {
		return Decimal{}, errors.New("decimal has no value")
	}
	switch {
	case scale == d.Scale:
		return d, nil
	case scale > d.Scale:
		f := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(scale-d.Scale)), nil)
		return Decimal{Unscaled: new(big.Int).Mul(d.Unscaled, f), Scale: scale}, nil
	}
	f := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(d.Scale-scale)), nil)
	q, r := new(big.Int).QuoRem(d.Unscaled, f, new(big.Int))
	if r.Sign() != 0 {
		return Decimal{}, fmt.Errorf("value %s has more than %d fractional digits", d, scale)
	}
	return Decimal{Unscaled: q, Scale: scale}, nil
}

// Digits counts the digits of the unscaled value.
func (d Decimal) Digits() int {
	if d.Unscaled == nil || d.Unscaled.Sign() == 0 {
		return 1
	}
	return len(new(big.Int).Abs(d.Unscaled).String())
}

// String renders d in plain notation.
func (d Decimal) String() string {
	if d.Unscaled == nil {
		return "0"
	}
	s := new(big.Int).Abs(d.Unscaled).String()
	if d.Scale > 0 {
		if len(s) <= d.Scale {
			s = strings.Repeat("0", d.Scale-len(s)+1) + s
		}
		s = s[:len(s)-d.Scale] + "." + s[len(s)-d.Scale:]
	}
	if d.Unscaled.Sign() < 0 {
		s = "-" + s
	}
	return s
}

// MarshalJSON writes d as a JSON number without rounding.
func (d Decimal) MarshalJSON() ([]byte, error) {
	return []byte(d.String()), nil
}
