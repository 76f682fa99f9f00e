// Package expr evaluates the boolean expressions carried by condition nodes.
//
// Expressions use HCL native expression syntax and are evaluated against the
// run document, which is exposed both as the variable ctx and as one variable
// per top-level key:
//
//	ctx.vars.score > 80
//	vars.status == "ok" && length(inputs.check.items) > 0
//	try(webhook.payload.action, "") == "opened"
//
// JavaScript style strict operators (=== and !==) are accepted and treated as
// their HCL equivalents. The result is coerced to a boolean using JavaScript
// truthiness: zero, the empty string and null are false, every collection is
// true.
//
// A path that does not resolve in the document reads as null, so comparing a
// missing field is false rather than an error. try and can still see the
// failure and apply their fallback.
//
// Evaluation is sandboxed: an expression can only read the document and call
// the functions registered in Functions.
package expr

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"strings"
	"sync"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/ext/tryfunc"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// ErrSyntax is wrapped by errors returned for expressions that do not parse.
var ErrSyntax = errors.New("invalid condition expression")

// Evaluator compiles and evaluates condition expressions. Compiled
// expressions are cached per (node id, source) pair, so editing a node's
// expression between runs never reuses a stale compilation. Safe for
// concurrent use.
type Evaluator struct {
	cache sync.Map // cacheKey -> hcl.Expression
	funcs map[string]function.Function
}

type cacheKey struct {
	nodeID string
	source string
}

// New returns an Evaluator with the default function set.
func New() *Evaluator {
	return &Evaluator{funcs: Functions()}
}

// Functions returns the functions available to expressions.
func Functions() map[string]function.Function {
	return map[string]function.Function{
		"abs":        stdlib.AbsoluteFunc,
		"can":        tryfunc.CanFunc,
		"ceil":       stdlib.CeilFunc,
		"coalesce":   stdlib.CoalesceFunc,
		"concat":     stdlib.ConcatFunc,
		"contains":   stdlib.ContainsFunc,
		"floor":      stdlib.FloorFunc,
		"format":     stdlib.FormatFunc,
		"join":       stdlib.JoinFunc,
		"jsondecode": stdlib.JSONDecodeFunc,
		"jsonencode": stdlib.JSONEncodeFunc,
		"keys":       stdlib.KeysFunc,
		"length":     stdlib.LengthFunc,
		"lower":      stdlib.LowerFunc,
		"max":        stdlib.MaxFunc,
		"min":        stdlib.MinFunc,
		"regex":      stdlib.RegexFunc,
		"replace":    stdlib.ReplaceFunc,
		"split":      stdlib.SplitFunc,
		"strlen":     stdlib.StrlenFunc,
		"substr":     stdlib.SubstrFunc,
		"trimspace":  stdlib.TrimSpaceFunc,
		"try":        tryfunc.TryFunc,
		"upper":      stdlib.UpperFunc,
	}
}

// Normalize rewrites JavaScript strict comparison operators into HCL ones and
// trims surrounding whitespace.
func Normalize(source string) string {
	s := strings.TrimSpace(source)
	s = strings.ReplaceAll(s, "!==", "!=")
	s = strings.ReplaceAll(s, "===", "==")
	return s
}

// Compile parses source, reusing a cached compilation for the same node.
func (e *Evaluator) Compile(nodeID, source string) (hcl.Expression, error) {
	key := cacheKey{nodeID: nodeID, source: source}
	if cached, ok := e.cache.Load(key); ok {
		return cached.(hcl.Expression), nil
	}
	compiled, diags := hclsyntax.ParseExpression([]byte(Normalize(source)), nodeID+".condition", hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: %s", ErrSyntax, diags.Error())
	}
	e.cache.Store(key, compiled)
	return compiled, nil
}

// Eval evaluates source against doc and returns its truthiness. An empty
// expression is false.
func (e *Evaluator) Eval(nodeID, source string, doc map[string]any) (bool, error) {
	if strings.TrimSpace(source) == "" {
		return false, nil
	}
	compiled, err := e.Compile(nodeID, source)
	if err != nil {
		return false, err
	}

	val, diags := compiled.Value(e.evalContext(doc))
	if diags.HasErrors() {
		filled, ok := fillMissing(doc, compiled.Variables())
		if !ok {
			return false, fmt.Errorf("evaluate condition: %s", diags.Error())
		}
		// Retry with the unresolved paths set to null. Whatever still fails
		// involves a missing value, which compares as false.
		if val, diags = compiled.Value(e.evalContext(filled)); diags.HasErrors() {
			return false, nil
		}
	}
	return Truthy(val), nil
}

// fillMissing returns a copy of doc in which the first unresolved key of each
// traversal is present with a nil value. doc itself is never modified. The
// boolean reports whether anything was added.
func fillMissing(doc map[string]any, traversals []hcl.Traversal) (map[string]any, bool) {
	out, filled := doc, false
	for _, trav := range traversals {
		keys := traversalKeys(trav)
		if len(keys) > 0 && keys[0] == "ctx" {
			keys = keys[1:]
		}
		if next, ok := fillPath(out, keys); ok {
			out, filled = next, true
		}
	}
	return out, filled
}

func fillPath(m map[string]any, keys []string) (map[string]any, bool) {
	if len(keys) == 0 {
		return m, false
	}
	v, present := m[keys[0]]
	if !present {
		c := maps.Clone(m)
		c[keys[0]] = nil
		return c, true
	}
	child, ok := v.(map[string]any)
	if !ok {
		return m, false
	}
	next, ok := fillPath(child, keys[1:])
	if !ok {
		return m, false
	}
	c := maps.Clone(m)
	c[keys[0]] = next
	return c, true
}

// traversalKeys lists the static string steps of trav, stopping at the first
// numeric index or splat.
func traversalKeys(trav hcl.Traversal) []string {
	keys := make([]string, 0, len(trav))
	for _, step := range trav {
		switch s := step.(type) {
		case hcl.TraverseRoot:
			keys = append(keys, s.Name)
		case hcl.TraverseAttr:
			keys = append(keys, s.Name)
		case hcl.TraverseIndex:
			if s.Key.Type() != cty.String || s.Key.IsNull() {
				return keys
			}
			keys = append(keys, s.Key.AsString())
		default:
			return keys
		}
	}
	return keys
}

func (e *Evaluator) evalContext(doc map[string]any) *hcl.EvalContext {
	vars := make(map[string]cty.Value, len(doc)+1)
	for k, v := range doc {
		if hclsyntax.ValidIdentifier(k) {
			vars[k] = ToCty(v)
		}
	}
	vars["ctx"] = ToCty(doc)
	return &hcl.EvalContext{Variables: vars, Functions: e.funcs}
}

// Truthy applies JavaScript Boolean() semantics to a cty value.
func Truthy(v cty.Value) bool {
	if v.IsNull() || !v.IsKnown() {
		return false
	}
	ty := v.Type()
	switch {
	case ty == cty.Bool:
		return v.True()
	case ty == cty.Number:
		return v.AsBigFloat().Sign() != 0
	case ty == cty.String:
		return v.AsString() != ""
	default:
		return true
	}
}

// ToCty converts a JSON shaped Go value into a cty value. Objects become
// object values and arrays become tuples so that heterogeneous documents
// convert without type unification.
func ToCty(v any) cty.Value {
	switch t := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType)
	case string:
		return cty.StringVal(t)
	case bool:
		return cty.BoolVal(t)
	case float64:
		return numberVal(t)
	case float32:
		return numberVal(float64(t))
	case int:
		return cty.NumberIntVal(int64(t))
	case int64:
		return cty.NumberIntVal(t)
	case map[string]any:
		if len(t) == 0 {
			return cty.EmptyObjectVal
		}
		attrs := make(map[string]cty.Value, len(t))
		for k, val := range t {
			attrs[k] = ToCty(val)
		}
		return cty.ObjectVal(attrs)
	case []any:
		if len(t) == 0 {
			return cty.EmptyTupleVal
		}
		elems := make([]cty.Value, len(t))
		for i, el := range t {
			elems[i] = ToCty(el)
		}
		return cty.TupleVal(elems)
	default:
		return cty.StringVal(fmt.Sprint(t))
	}
}

func numberVal(f float64) cty.Value {
	switch {
	case math.IsNaN(f):
		return cty.NullVal(cty.Number)
	case math.IsInf(f, 1):
		return cty.PositiveInfinity
	case math.IsInf(f, -1):
		return cty.NegativeInfinity
	}
	return cty.NumberFloatVal(f)
}
