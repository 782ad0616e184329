package rule

import (
	"math"
	"strconv"
	"strings"
)

// CoerceValue maps free-text input to a typed JSON scalar. nil and
// non-string inputs are returned unchanged.
func CoerceValue(input interface{}) interface{} {
	s, ok := input.(string)
	if !ok {
		return input
	}
	return CoerceString(s)
}

// CoerceString trims s and returns, first match wins: "" for blank input,
// a bool for "true"/"false", a float64 for a finite number, otherwise the
// trimmed string.
func CoerceString(s string) interface{} {
	trimmed := strings.TrimSpace(s)
	switch trimmed {
	case "":
		return ""
	case "true":
		return true
	case "false":
		return false
	}

	if f, err := strconv.ParseFloat(trimmed, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return f
	}

	return trimmed
}
