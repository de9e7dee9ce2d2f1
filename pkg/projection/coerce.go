package projection

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// toNumber converts numbers and numeric strings. Strings must parse in full
// after trimming; "99.9%" is not a number.
func toNumber(v any) (float64, bool) {
	var n float64
	switch t := v.(type) {
	case float64:
		n = t
	case float32:
		n = float64(t)
	case int:
		n = float64(t)
	case int32:
		n = float64(t)
	case int64:
		n = float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		n = f
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		n = f
	default:
		return 0, false
	}

	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

// toNumberLenient accepts display strings such as "$1,200" or "1 000 KES" by
// dropping everything but digits, '.' and '-'.
func toNumberLenient(v any) (float64, bool) {
	s, ok := v.(string)
	if !ok {
		return toNumber(v)
	}

	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			return r
		}
		return -1
	}, s)
	return toNumber(cleaned)
}
