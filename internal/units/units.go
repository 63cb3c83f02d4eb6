// Package units provides shared constants and validation for the length
// units RUI samples are measured in.
package units

import (
	"fmt"
	"strings"
)

// Unit constants
const (
	Millimeter = "millimeter"
	Centimeter = "centimeter"
	Meter      = "meter"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{Millimeter, Centimeter, Meter}

// canonical maps the accepted spellings to a unit constant.
func canonical(unit string) string {
	u := strings.ToLower(strings.TrimSpace(unit))
	if strings.HasSuffix(u, "metre") {
		u = strings.TrimSuffix(u, "metre") + "meter"
	}
	return u
}

// IsValid checks if the given unit is in the list of valid units. British
// spellings and any letter case are accepted.
func IsValid(unit string) bool {
	u := canonical(unit)
	for _, validUnit := range ValidUnits {
		if u == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// DivisionFactor returns the divisor that converts lengths in unit to the
// unit reference organs are modelled in: a block dimension of 10
// millimeter becomes 10/1e3.
func DivisionFactor(unit string) (float64, error) {
	switch canonical(unit) {
	case Millimeter:
		return 1e3, nil
	case Centimeter:
		return 1e2, nil
	case Meter:
		return 1, nil
	default:
		return 0, fmt.Errorf("unknown length unit %q (valid: %s)", unit, GetValidUnitsString())
	}
}
