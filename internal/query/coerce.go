package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ListSeparator splits a single delimited string into elements for
// list-capable operators.
const ListSeparator = ","

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Coerce validates and converts a raw value into the typed value required by
// the semantic type and operator. List-capable operators split delimited
// strings and coerce element-wise; null-check operators skip coercion.
func Coerce(raw any, t SemanticType, op Operator) (any, error) {
	if op.IsNullCheck() {
		return nil, nil
	}

	if op.AcceptsList() {
		return coerceList(raw, t)
	}
	return coerceScalar(raw, t)
}

func coerceList(raw any, t SemanticType) (any, error) {
	var elems []any
	switch v := raw.(type) {
	case string:
		for _, part := range strings.Split(v, ListSeparator) {
			elems = append(elems, strings.TrimSpace(part))
		}
	case []any:
		elems = v
	case []string:
		for _, s := range v {
			elems = append(elems, s)
		}
	default:
		// Single non-string scalar: treat as a one-element list.
		elems = []any{raw}
	}

	coerced := make([]any, len(elems))
	for i, e := range elems {
		v, err := coerceScalar(e, t)
		if err != nil {
			return nil, err
		}
		coerced[i] = v
	}
	return coerced, nil
}

func coerceScalar(raw any, t SemanticType) (any, error) {
	switch t {
	case TypeString:
		return coerceString(raw), nil
	case TypeInt:
		return coerceInt(raw)
	case TypeFloat:
		return coerceFloat(raw)
	case TypeBool:
		return coerceBool(raw)
	case TypeDateTime:
		return coerceDateTime(raw)
	case TypeMapping, TypeSequence:
		// Semi-structured payloads pass through untouched; the engine does
		// not attempt structural validation of nested values.
		return raw, nil
	default:
		return coerceString(raw), nil
	}
}

func coerceString(raw any) string {
	if s, ok := raw.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", raw)
}

func coerceInt(raw any) (any, error) {
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v == float64(int64(v)) {
			return int64(v), nil
		}
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n, nil
		}
	}
	return nil, InvalidFilterValue("", raw, TypeInt)
}

func coerceFloat(raw any) (any, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f, nil
		}
	}
	return nil, InvalidFilterValue("", raw, TypeFloat)
}

var boolTokens = map[string]bool{
	"true": true, "yes": true, "1": true, "y": true,
	"false": false, "no": false, "0": false, "n": false,
}

func coerceBool(raw any) (any, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case int:
		if v == 1 || v == 0 {
			return v == 1, nil
		}
	case int64:
		if v == 1 || v == 0 {
			return v == 1, nil
		}
	case float64:
		if v == 1 || v == 0 {
			return v == 1, nil
		}
	case string:
		if b, ok := boolTokens[strings.ToLower(strings.TrimSpace(v))]; ok {
			return b, nil
		}
	}
	return nil, InvalidFilterValue("", raw, TypeBool)
}

// coerceDateTime tries, in order: ISO-8601, Unix epoch milliseconds, Unix
// epoch seconds, then a short list of common date formats. First success wins.
func coerceDateTime(raw any) (any, error) {
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range dateTimeLayouts[:2] {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return epochToTime(n), nil
		}
		for _, layout := range dateTimeLayouts[2:] {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
	case int64:
		return epochToTime(v), nil
	case int:
		return epochToTime(int64(v)), nil
	case float64:
		return epochToTime(int64(v)), nil
	}
	return nil, InvalidFilterValue("", raw, TypeDateTime)
}

// epochToTime interprets large magnitudes as milliseconds, otherwise seconds.
func epochToTime(n int64) time.Time {
	const msThreshold = int64(1e12)
	if n >= msThreshold || n <= -msThreshold {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}
