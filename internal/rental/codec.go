package rental

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Backends disagree on value types: the database returns int64 and
// time.Time, JSON bodies and cached rows carry float64 and strings.

func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

func asInt64(col string, v any) (int64, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("column %s: %v is not an integer", col, x)
		}
		return int64(x), nil
	case json.Number:
		return x.Int64()
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("column %s: %w", col, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("column %s: unexpected type %T", col, v)
	}
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05.999999-07", time.DateOnly}

func asTime(col string, v any) (time.Time, error) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return x, nil
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, x); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("column %s: cannot parse time %q", col, x)
	default:
		return time.Time{}, fmt.Errorf("column %s: unexpected type %T", col, v)
	}
}

func asOptionalTime(col string, v any) (*time.Time, error) {
	t, err := asTime(col, v)
	if err != nil || t.IsZero() {
		return nil, err
	}
	return &t, nil
}

// nullable maps the zero value to a NULL column.
func nullable[T comparable](v T) any {
	var zero T
	if v == zero {
		return nil
	}
	return v
}

func optionalTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
