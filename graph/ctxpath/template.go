package ctxpath

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// LogValueLimit caps the rune length of values rendered into run logs.
const LogValueLimit = 800

var placeholder = regexp.MustCompile(`\{\{\s*([^}]+)\s*\}\}`)

// ApplyTemplate replaces every {{ path }} placeholder in tpl with the value
// Get resolves against doc. Missing and nil values render as the empty string,
// objects and arrays as compact JSON.
func ApplyTemplate(tpl string, doc any) string {
	if !strings.Contains(tpl, "{{") {
		return tpl
	}
	return placeholder.ReplaceAllStringFunc(tpl, func(match string) string {
		sub := placeholder.FindStringSubmatch(match)
		v, ok := Get(doc, strings.TrimSpace(sub[1]))
		if !ok {
			return ""
		}
		return ToText(v)
	})
}

// ToText renders v the way templates and text ports expect: nil is empty,
// strings are verbatim, numbers use their shortest form and composite values
// are encoded as JSON.
func ToText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return FormatNumber(t)
	case float32:
		return FormatNumber(float64(t))
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	case map[string]any, []any:
		return MarshalText(Clone(t))
	default:
		if s, ok := v.(fmt.Stringer); ok {
			return s.String()
		}
		return MarshalText(Clone(t))
	}
}

// MarshalText encodes v as compact JSON without HTML escaping.
func MarshalText(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return UnserializableMarker
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// MarshalIndent encodes v as two-space indented JSON without HTML escaping.
func MarshalIndent(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return UnserializableMarker
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// FormatNumber renders f without a trailing ".0" for integral values and
// switches to exponent notation only for very large or very small magnitudes.
func FormatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	abs := math.Abs(f)
	if abs != 0 && (abs >= 1e21 || abs < 1e-6) {
		s := strconv.FormatFloat(f, 'e', -1, 64)
		// strconv pads the exponent to two digits: 1e-07
		s = strings.Replace(s, "e-0", "e-", 1)
		return strings.Replace(s, "e+0", "e+", 1)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// FormatLogValue renders v for a run log line, truncated to LogValueLimit
// runes followed by "...".
func FormatLogValue(v any) string {
	text := ToText(v)
	if v == nil {
		text = "null"
	}
	return Truncate(text, LogValueLimit)
}

// Truncate shortens s to at most limit runes, appending "..." when it cut.
func Truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
