package processor

import (
	"meterflow/models"
)

// NumericDelta returns current - previous when both operands are strictly
// numeric. ok is false for every other combination; that outcome is a normal
// skip, never an error, and it never panics on arbitrary input.
func NumericDelta(current, previous any) (delta float64, ok bool) {
	c, ok := models.AsNumber(current)
	if !ok {
		return 0, false
	}
	p, ok := models.AsNumber(previous)
	if !ok {
		return 0, false
	}
	return c - p, true
}

// ValidateNumeric coerces a payload value to float64, accepting numeric
// strings as well. Used by the offline aggregates, never by the delta path.
func ValidateNumeric(value any) (float64, bool) {
	return models.ParseNumber(value)
}
