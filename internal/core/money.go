// Package core provides money parsing and handling utilities.
//
// This file contains functions for parsing monetary amounts typed into the
// transaction form and for rendering amounts for display.
package core

import (
	"strings"
	"unicode"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// ParseAmount converts a user supplied decimal string to an amount.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and performs
// half-up rounding on the third decimal place. Zero is a valid amount.
// Returns ErrInvalidAmount for empty or invalid input and for signed values.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34
//	ParseAmount("12,34")  -> 12.34
//	ParseAmount("12.345") -> 12.35
//	ParseAmount("12.344") -> 12.34
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.Count(s, ".") > 1 {
		return decimal.Zero, ErrInvalidAmount
	}
	// Signs, exponents and anything else decimal.NewFromString would accept
	// are rejected here.
	for _, r := range s {
		if r != '.' && !unicode.IsDigit(r) {
			return decimal.Zero, ErrInvalidAmount
		}
	}
	if s == "." {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	d = d.Round(2)
	if d.IsNegative() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// FormatAmount renders an amount as dollars with thousands separators and
// exactly two fractional digits, e.g. "$1,234.50" or "$-40.00".
func FormatAmount(d decimal.Decimal) string {
	d = d.Round(2)
	abs := d.Abs()
	fixed := abs.StringFixed(2)
	out := humanize.BigComma(abs.Truncate(0).BigInt()) + fixed[len(fixed)-3:]
	if d.IsNegative() {
		out = "-" + out
	}
	return "$" + out
}

// FormatPlain renders an amount with exactly two fractional digits and no
// currency symbol, for chart series and form values.
func FormatPlain(d decimal.Decimal) string {
	return d.StringFixed(2)
}
