package table

// convert.go provides the per-column type coercion between in-memory row
// values and their cache-file representation.
//
// Save and load transforms are inverses of each other modulo the documented
// null handling: a nil value is written as an empty field and an empty
// field loads as nil for every non-string type. Composite values (list,
// dict, image) are embedded as a single JSON-encoded string.

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/gamelibtools/igdbmirror/internal/schema"
)

// AsInt64 coerces a dynamically-typed value to int64. Remote rows decode
// numbers as json.Number; cached rows hold native int64.
func AsInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return i, true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// AsFloat64 coerces a dynamically-typed value to float64.
func AsFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// AsBool coerces a dynamically-typed value to bool. Numbers are truthy
// when nonzero.
func AsBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	default:
		if i, ok := AsInt64(v); ok {
			return i != 0, true
		}
		return false, false
	}
}

// encodeField renders one row value as a cache-file field.
func encodeField(col schema.Column, v any) (string, error) {
	if v == nil {
		return "", nil
	}

	switch col.Type {
	case schema.String, schema.Date, schema.DateTime:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil

	case schema.Int, schema.Count:
		i, ok := AsInt64(v)
		if !ok {
			return "", fmt.Errorf("column %q: cannot encode %T as int", col.Name, v)
		}
		return strconv.FormatInt(i, 10), nil

	case schema.Float:
		f, ok := AsFloat64(v)
		if !ok {
			return "", fmt.Errorf("column %q: cannot encode %T as float", col.Name, v)
		}
		return strconv.FormatFloat(f, 'g', -1, 64), nil

	case schema.Bool:
		b, ok := AsBool(v)
		if !ok {
			return "", fmt.Errorf("column %q: cannot encode %T as bool", col.Name, v)
		}
		if b {
			return "1", nil
		}
		return "0", nil

	case schema.List, schema.Dict, schema.Image:
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("column %q: %w", col.Name, err)
		}
		return string(data), nil

	default:
		return fmt.Sprint(v), nil
	}
}

// decodeField parses one cache-file field back into a row value.
func decodeField(col schema.Column, s string) (any, error) {
	if s == "" {
		if col.Type == schema.String {
			return "", nil
		}
		return nil, nil
	}

	switch col.Type {
	case schema.String:
		return s, nil

	case schema.Date, schema.DateTime:
		return s, nil

	case schema.Int, schema.Count:
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col.Name, err)
		}
		return i, nil

	case schema.Float:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col.Name, err)
		}
		return f, nil

	case schema.Bool:
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col.Name, err)
		}
		return i != 0, nil

	case schema.List, schema.Dict, schema.Image:
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, fmt.Errorf("column %q: %w", col.Name, err)
		}
		return v, nil

	default:
		return s, nil
	}
}
