// Package money holds the decimal rules every posting path shares:
// two-decimal minor units, half-up rounding, ISO currency codes.
package money

import (
	"strings"

	"github.com/shopspring/decimal"

	dErrors "corebank/pkg/domain-errors"
)

// Scale is the number of decimal places carried by every posted amount.
const Scale = 2

var hundred = decimal.NewFromInt(100)

// Round2 rounds half away from zero to two decimal places.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// HasValidScale reports whether d has no more than two decimal places.
func HasValidScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(Scale))
}

// Positive validates a caller-supplied amount: strictly positive, at most two decimals.
func Positive(field string, d decimal.Decimal) error {
	if !d.IsPositive() {
		return dErrors.New(dErrors.CodeValidation, field+" must be greater than zero")
	}
	if !HasValidScale(d) {
		return dErrors.New(dErrors.CodeValidation, field+" must have at most 2 decimal places")
	}
	return nil
}

// Percent converts a percentage such as 12.5 into the fraction 0.125.
func Percent(p decimal.Decimal) decimal.Decimal {
	return p.Div(hundred)
}

// ParseCurrency upper-cases and validates a three-letter ISO 4217 code.
func ParseCurrency(s string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(s))
	if len(c) != 3 {
		return "", dErrors.New(dErrors.CodeValidation, "currency must be a 3-letter ISO code")
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return "", dErrors.New(dErrors.CodeValidation, "currency must be a 3-letter ISO code")
		}
	}
	return c, nil
}

// Sum adds amounts.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}
