package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// minorUnitExponent is the number of decimal places carried by amounts.
// All engine arithmetic is on int64 minor units; decimal is used at the
// parse/format boundary to avoid floating-point errors.
const minorUnitExponent int32 = 2

// FormatAmount renders minor units as a decimal string, e.g. 12345 → "123.45".
func FormatAmount(minor int64) string {
	return decimal.New(minor, -minorUnitExponent).StringFixed(minorUnitExponent)
}

// ParseAmount parses a decimal string into minor units, e.g. "123.45" → 12345.
// Inputs with more precision than the minor unit are rejected rather than
// silently rounded.
func ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	scaled := d.Shift(minorUnitExponent)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("parse amount %q: more than %d decimal places", s, minorUnitExponent)
	}
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("parse amount %q: out of range", s)
	}
	return scaled.IntPart(), nil
}
