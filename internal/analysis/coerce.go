package analysis

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

const defaultConfidence = 80

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// asOptionalString returns nil for missing, null or blank values.
func asOptionalString(v any) *string {
	s := asString(v)
	if s == "" || strings.EqualFold(s, "null") {
		return nil
	}
	return &s
}

// asNumber accepts JSON numbers and numeric strings.
func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, !math.IsNaN(t) && !math.IsInf(t, 0)
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asInt(v any) (int, bool) {
	f, ok := asNumber(v)
	if !ok {
		return 0, false
	}
	return int(math.Round(f)), true
}

// asOffset reads a character offset; anything unusable becomes 0.
func asOffset(v any) int {
	n, ok := asInt(v)
	if !ok || n < 0 {
		return 0
	}
	return n
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(t))
		return b
	default:
		return false
	}
}

// asConfidence returns a score in [1,100], or 80 for anything missing or out of range.
func asConfidence(v any) int {
	n, ok := asInt(v)
	if !ok || n < 1 || n > 100 {
		return defaultConfidence
	}
	return n
}

// enumKey folds an enum value for lookup: upper case with spaces and dashes
// turned into underscores.
func enumKey(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}
