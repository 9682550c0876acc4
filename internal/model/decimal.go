package model

import (
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

// decimalPattern is the accepted wire form of amounts and prices: plain
// digits with an optional fraction, no exponent.
var decimalPattern = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// ParseDecimal parses a wire decimal string.
func ParseDecimal(s string) (decimal.Decimal, error) {
	if !decimalPattern.MatchString(s) {
		return decimal.Zero, fmt.Errorf("not a decimal string: %q", s)
	}
	return decimal.NewFromString(s)
}
