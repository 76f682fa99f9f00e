// Package ctxpath implements the path-addressed document that every workflow
// run shares between its nodes.
//
// A document is a plain JSON-shaped tree: map[string]any objects, []any arrays,
// and string, float64, bool or nil leaves. Paths are dot separated segments
// where each segment may carry one array index suffix:
//
//	_outputs.llm1.text
//	vars.http1.response.body.items[2].name
//	output[1].content[0].text
//
// Reads are lenient. Provider responses frequently arrive as JSON encoded
// strings (sometimes encoded twice), so Get transparently unwraps strings that
// look like JSON before descending into them. A read never fails: a path that
// cannot be followed reports found=false, which is distinct from a stored nil.
package ctxpath

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// UnwrapDepth bounds how many layers of JSON string encoding Unwrap removes.
const UnwrapDepth = 2

var indexedSegment = regexp.MustCompile(`^(.+)\[(\d+)\]$`)

// tryParseJSON decodes s when its trimmed form starts like a JSON object, array
// or string. A JSON null is reported as not parsed.
func tryParseJSON(s string) (any, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, false
	}
	switch trimmed[0] {
	case '{', '[', '"':
	default:
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return nil, false
	}
	if v == nil {
		return nil, false
	}
	return v, true
}

// Unwrap repeatedly decodes v while it is a string holding JSON, up to depth
// times. Non-string values and strings that do not parse are returned as is.
func Unwrap(v any, depth int) any {
	for i := 0; i < depth; i++ {
		s, ok := v.(string)
		if !ok {
			break
		}
		parsed, ok := tryParseJSON(s)
		if !ok {
			break
		}
		v = parsed
	}
	return v
}

// Get resolves path against root.
//
// An empty path returns root itself. Any nil or missing intermediate, or an
// intermediate that is neither an object nor an array, yields found=false.
// The segment "text" is special: applied to a string that is not JSON it
// leaves the string in place, so "_outputs.llm.text.text" still reads the
// plain completion text.
//
// The value found is itself passed through Unwrap. A stored string that
// starts like a JSON object, array or string and parses is returned decoded,
// so Set followed by Get returns the same value only for strings that do not
// look like JSON.
func Get(root any, path string) (any, bool) {
	if path == "" {
		return root, true
	}
	keys := splitPath(path)
	if len(keys) == 0 {
		return root, true
	}

	cur := root
	if s, ok := cur.(string); ok && keys[0] != "text" {
		if parsed, ok := tryParseJSON(s); ok {
			cur = parsed
		}
	}

	for _, key := range keys {
		cur = Unwrap(cur, UnwrapDepth)
		if cur == nil {
			return nil, false
		}

		if m := indexedSegment.FindStringSubmatch(key); m != nil {
			idx, err := strconv.Atoi(m[2])
			if err != nil {
				return nil, false
			}
			if s, ok := cur.(string); ok {
				parsed, ok := tryParseJSON(s)
				if !ok {
					return nil, false
				}
				cur = parsed
			}
			next, ok := member(cur, m[1])
			if !ok {
				return nil, false
			}
			if s, ok := next.(string); ok {
				if parsed, ok := tryParseJSON(s); ok {
					next = parsed
				}
			}
			arr, ok := next.([]any)
			if !ok {
				return nil, false
			}
			if idx >= len(arr) {
				return nil, false
			}
			cur = arr[idx]
			continue
		}

		if s, ok := cur.(string); ok {
			parsed, ok := tryParseJSON(s)
			if !ok {
				if key == "text" {
					continue
				}
				return nil, false
			}
			cur = parsed
		}
		next, ok := member(cur, key)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return Unwrap(cur, UnwrapDepth), true
}

// member looks key up in an object, or treats it as an index into an array.
func member(container any, key string) (any, bool) {
	switch c := container.(type) {
	case map[string]any:
		v, ok := c[key]
		return v, ok
	case []any:
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= len(c) {
			return nil, false
		}
		return c[idx], true
	default:
		return nil, false
	}
}

// Set stores value at path inside root, creating missing objects along the
// way. Intermediates that are not objects are replaced by empty objects,
// except arrays, which are descended into when the next segment is a valid
// index.
func Set(root map[string]any, path string, value any) {
	if root == nil || path == "" {
		return
	}
	keys := strings.Split(path, ".")

	var cur any = root
	for i, key := range keys {
		last := i == len(keys)-1
		switch c := cur.(type) {
		case map[string]any:
			if last {
				c[key] = value
				return
			}
			next := c[key]
			if !descendable(next, keys[i+1]) {
				next = map[string]any{}
				c[key] = next
			}
			cur = next
		case []any:
			idx, _ := strconv.Atoi(key)
			if last {
				c[idx] = value
				return
			}
			next := c[idx]
			if !descendable(next, keys[i+1]) {
				next = map[string]any{}
				c[idx] = next
			}
			cur = next
		}
	}
}

func descendable(v any, nextKey string) bool {
	switch c := v.(type) {
	case map[string]any:
		return c != nil
	case []any:
		idx, err := strconv.Atoi(nextKey)
		return err == nil && idx >= 0 && idx < len(c)
	default:
		return false
	}
}

func splitPath(path string) []string {
	raw := strings.Split(path, ".")
	keys := raw[:0]
	for _, k := range raw {
		if k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
