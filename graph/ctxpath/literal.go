package ctxpath

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ParseLiteral coerces a string typed into a node form into the value it
// spells. Non-string values are returned unchanged.
//
//	""            -> ""
//	"true"        -> true
//	"  42 "       -> 42.0
//	"0x1f"        -> 31.0
//	`{"a":1}`     -> map[string]any{"a": 1.0}
//	"[1, oops"    -> "[1, oops" (original value)
//	"hello"       -> "hello"
func ParseLiteral(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	trimmed := strings.TrimSpace(s)
	switch trimmed {
	case "":
		return ""
	case "true":
		return true
	case "false":
		return false
	}
	if f, ok := parseNumber(trimmed); ok {
		return f
	}
	if (strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")) ||
		(strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]")) {
		var out any
		if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
			return s
		}
		return out
	}
	return s
}

// parseNumber accepts decimal numbers with optional sign, fraction and
// exponent, plus unsigned 0x, 0o and 0b integers. Non-finite results are
// rejected.
func parseNumber(s string) (float64, bool) {
	if len(s) > 2 && s[0] == '0' {
		base := 0
		switch s[1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}
		if base != 0 {
			n, err := strconv.ParseUint(s[2:], base, 64)
			if err != nil {
				return 0, false
			}
			return float64(n), true
		}
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '.', r == '+', r == '-', r == 'e', r == 'E':
		default:
			return 0, false
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// DecodeLenient decodes a JSON document, repairing common defects (single
// quotes, trailing commas, unquoted keys, truncated output) when strict
// decoding fails. The returned bytes are the document that was decoded.
func DecodeLenient(raw []byte) (any, []byte, error) {
	var out any
	err := json.Unmarshal(raw, &out)
	if err == nil {
		return out, raw, nil
	}
	repaired, repairErr := jsonrepair.JSONRepair(string(raw))
	if repairErr != nil {
		return nil, raw, err
	}
	if err := json.Unmarshal([]byte(repaired), &out); err != nil {
		return nil, raw, err
	}
	return out, []byte(repaired), nil
}
