// Package helpers provides common utility functions used across the codebase.
package helpers

import (
	"math"
	"strconv"
)

// CentsToUnits converts an integer cent amount to major currency units.
// For example, CentsToUnits(500) returns 5.0.
func CentsToUnits(cents int64) float64 {
	return float64(cents) / 100
}

// UnitsToCents converts a major-unit amount to integer cents, flooring
// any sub-cent remainder. Rounding happens on the wire boundary only;
// the ledger never stores floats.
func UnitsToCents(units float64) int64 {
	return int64(math.Floor(units * 100))
}

// FormatUnits renders a major-unit amount the way the reconciliation CSV
// expects: integral values keep one decimal place ("10.0"), fractional
// values keep their full precision ("10.05").
func FormatUnits(units float64) string {
	if units == math.Trunc(units) {
		return strconv.FormatFloat(units, 'f', 1, 64)
	}
	return strconv.FormatFloat(units, 'f', -1, 64)
}
