package ctxpath

import (
	"encoding/json"
	"math"
	"reflect"
)

const (
	// CircularMarker replaces a value that refers back to one of its ancestors.
	CircularMarker = "[Circular]"
	// UnserializableMarker replaces a value that has no JSON representation.
	UnserializableMarker = "[Unserializable]"
)

// Clone returns a deep copy of v normalised to the JSON value model, so that
// later writes through either copy cannot be observed by the other.
//
// Cycles are cut with CircularMarker. Values that cannot be expressed as JSON,
// such as channels or functions, are replaced with UnserializableMarker.
// Non-finite floats become nil.
func Clone(v any) any {
	return cloneValue(v, map[uintptr]bool{})
}

func cloneValue(v any, ancestors map[uintptr]bool) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string, bool:
		return t
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case int32:
		return float64(t)
	case float32:
		return float64(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return string(t)
	case map[string]any:
		if t == nil {
			return nil
		}
		ptr := reflect.ValueOf(t).Pointer()
		if ancestors[ptr] {
			return CircularMarker
		}
		ancestors[ptr] = true
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val, ancestors)
		}
		delete(ancestors, ptr)
		return out
	case []any:
		if t == nil {
			return []any{}
		}
		var ptr uintptr
		if len(t) > 0 {
			ptr = reflect.ValueOf(t).Pointer()
			if ancestors[ptr] {
				return CircularMarker
			}
			ancestors[ptr] = true
		}
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val, ancestors)
		}
		if ptr != 0 {
			delete(ancestors, ptr)
		}
		return out
	default:
		return normalise(v)
	}
}

// normalise round-trips an arbitrary Go value through encoding/json.
func normalise(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return UnserializableMarker
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return UnserializableMarker
	}
	return out
}
