package storage

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// String renders a row value as text; nil becomes "".
func String(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}

// Float converts numeric and numeric-text values. ok is false for nil and
// unparsable input.
func Float(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case string, []byte:
		s := strings.TrimSpace(String(x))
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// Int converts a value to int64, truncating fractions.
func Int(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	}
	f, ok := Float(v)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

// Time converts time values and date text.
func Time(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case *time.Time:
		if x == nil {
			return time.Time{}, false
		}
		return *x, true
	case string, []byte:
		s := strings.TrimSpace(String(x))
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// compareValues orders two row values. Numbers compare numerically, times
// chronologically (date text is parsed when the other side is a time), and
// anything else as text. nil is greater than any value.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}

	if ta, ok := a.(time.Time); ok {
		if tb, ok := Time(b); ok {
			return ta.Compare(tb)
		}
	}
	if tb, ok := b.(time.Time); ok {
		if ta, ok := Time(a); ok {
			return ta.Compare(tb)
		}
	}
	if fa, ok := numeric(a); ok {
		if fb, ok := numeric(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(String(a), String(b))
}

func numeric(v any) (float64, bool) {
	switch v.(type) {
	case float64, float32, int, int32, int64:
		return Float(v)
	}
	return 0, false
}
