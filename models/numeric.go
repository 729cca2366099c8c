package models

import (
	"encoding/json"
	"strconv"
	"strings"
)

// AsNumber reports the float64 value of v when v is a genuinely numeric
// type. Strings are never coerced here; the delta path must not treat
// string-typed payload values as numbers. Booleans are excluded.
func AsNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// ParseNumber accepts everything AsNumber does plus numeric strings,
// trimmed of surrounding whitespace. Anything else (booleans, maps,
// slices, nil) is absent. A failed parse is a normal outcome, never an
// error.
func ParseNumber(v any) (float64, bool) {
	if f, ok := AsNumber(v); ok {
		return f, true
	}
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
