package ingest

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DefaultDateLayouts are tried in order when parsing date strings.
var DefaultDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"20060102",
}

// ParseTime parses s with the first matching layout and returns it in UTC.
func ParseTime(s string, layouts ...string) (time.Time, error) {
	if len(layouts) == 0 {
		layouts = DefaultDateLayouts
	}
	s = strings.TrimSpace(s)
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// CoerceValue converts v to the Go representation of column type t.
// nil and empty strings become nil.
func CoerceValue(t ColumnType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" && t != ColumnText {
		return nil, nil
	}
	switch t {
	case ColumnText:
		return coerceText(v), nil
	case ColumnInteger:
		return coerceInteger(v)
	case ColumnReal:
		return coerceReal(v)
	case ColumnBoolean:
		return coerceBoolean(v)
	case ColumnTimestamp:
		return coerceTimestamp(v)
	}
	return nil, fmt.Errorf("unknown column type %q", t)
}

func coerceText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case json.Number:
		return x.String()
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func coerceInteger(v any) (any, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return nil, fmt.Errorf("%d overflows int64", x)
		}
		return int64(x), nil
	case float32:
		return integralFloat(float64(x))
	case float64:
		return integralFloat(x)
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, err
		}
		return integralFloat(f)
	case string:
		s := strings.TrimSpace(x)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, err
		}
		return integralFloat(f)
	}
	return nil, fmt.Errorf("cannot convert %T to integer", v)
}

func integralFloat(f float64) (any, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return nil, fmt.Errorf("%v is not an integer", f)
	}
	return int64(f), nil
}

func coerceReal(v any) (any, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case json.Number:
		return x.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	}
	return nil, fmt.Errorf("cannot convert %T to real", v)
}

func coerceBoolean(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case int:
		return x != 0, nil
	case int64:
		return x != 0, nil
	case float64:
		return x != 0, nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return nil, err
		}
		return f != 0, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(x))
	}
	return nil, fmt.Errorf("cannot convert %T to boolean", v)
}

func coerceTimestamp(v any) (any, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case *time.Time:
		if x == nil {
			return nil, nil
		}
		return x.UTC(), nil
	case string:
		return ParseTime(x)
	case []byte:
		return ParseTime(string(x))
	}
	return nil, fmt.Errorf("cannot convert %T to timestamp", v)
}

// CompareValues orders two scalar values: nil first, then numbers, times,
// strings and booleans by their natural order.
func CompareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if fa, ok := asFloat(a); ok {
		if fb, ok := asFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ba == bb:
				return 0
			case !ba:
				return -1
			}
			return 1
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}
