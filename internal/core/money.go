// Package core provides the ledger domain values and money handling.
//
// Amounts are shopspring decimals everywhere inside the process. They are
// persisted as integer ten-thousandths so that database sums stay exact, and
// rounded to two digits only when rendered.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// AmountScale is the number of fractional digits kept in storage.
const AmountScale = 4

// DisplayPlaces is the number of fractional digits shown to people.
const DisplayPlaces = 2

// ParseAmount parses a decimal string into an amount.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and an
// optional sign. Digits beyond AmountScale are rounded half-up.
//
// Examples:
//
//	ParseAmount("12,34")   -> 12.34
//	ParseAmount("-40")     -> -40
//	ParseAmount("1.23456") -> 1.2346
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	s = strings.TrimPrefix(s, "+")
	if strings.ContainsAny(s, "eE") {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d.Round(AmountScale), nil
}

// ToUnits converts an amount to its stored integer form.
func ToUnits(d decimal.Decimal) int64 {
	return d.Shift(AmountScale).Round(0).IntPart()
}

// FromUnits converts a stored integer back to an amount.
func FromUnits(units int64) decimal.Decimal {
	return decimal.New(units, -AmountScale)
}

// FormatAmount renders an amount with display precision.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(DisplayPlaces)
}
