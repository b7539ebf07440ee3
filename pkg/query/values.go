package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ToFloat64 converts various numeric types to float64 for comparison
func ToFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

// ToMillis converts a timestamp value to epoch milliseconds.
// Numbers are taken as epoch millis, strings are parsed as RFC 3339.
func ToMillis(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case time.Time:
		return float64(v.UnixMilli()), true
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return 0, false
		}
		return float64(t.UnixMilli()), true
	default:
		return ToFloat64(value)
	}
}

// KeyString returns the canonical string form of a scalar value. Numerically
// equal values map to the same string regardless of their Go type, so a key
// read back from JSON (float64) or msgpack (int64) compares equal.
func KeyString(value interface{}) string {
	if value == nil {
		return ""
	}
	if num, ok := ToFloat64(value); ok {
		return strconv.FormatFloat(num, 'f', -1, 64)
	}
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return strconv.FormatInt(v.UnixMilli(), 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// kind ranks value types for ordering: numbers < strings < bools < other
func kind(value interface{}) int {
	if _, ok := ToFloat64(value); ok {
		return 0
	}
	switch value.(type) {
	case string:
		return 1
	case bool:
		return 2
	default:
		return 3
	}
}

// Compare orders two scalar values. Numbers compare numerically, strings
// lexicographically, false sorts before true. Values of different kinds are
// ordered numbers, strings, bools, everything else.
func Compare(a, b interface{}) int {
	ka, kb := kind(a), kind(b)
	if ka != kb {
		if ka < kb {
			return -1
		}
		return 1
	}

	switch ka {
	case 0:
		fa, _ := ToFloat64(a)
		fb, _ := ToFloat64(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case 1:
		return strings.Compare(a.(string), b.(string))
	case 2:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		}
		return 1
	default:
		return strings.Compare(KeyString(a), KeyString(b))
	}
}

// ValuesMatch compares two values for equality, handling different types
func ValuesMatch(actual, expected interface{}) bool {
	if actual == nil && expected == nil {
		return true
	}
	if actual == nil || expected == nil {
		return false
	}
	return KeyString(actual) == KeyString(expected)
}

// compareRange compares a document value against a range bound. Time-like
// strings are compared as epoch millis when the other side is numeric or
// also a timestamp.
func compareRange(value, bound interface{}) (int, bool) {
	if fv, ok := ToFloat64(value); ok {
		if fb, ok := ToMillis(bound); ok {
			return Compare(fv, fb), true
		}
		return 0, false
	}

	if sv, ok := value.(string); ok {
		if mv, ok := ToMillis(sv); ok {
			if mb, ok := ToMillis(bound); ok {
				return Compare(mv, mb), true
			}
		}
		if sb, ok := bound.(string); ok {
			return strings.Compare(sv, sb), true
		}
		return 0, false
	}

	if tv, ok := value.(time.Time); ok {
		mv := float64(tv.UnixMilli())
		if mb, ok := ToMillis(bound); ok {
			return Compare(mv, mb), true
		}
	}
	return 0, false
}
