package expr

import (
	"errors"
	"sync"
	"testing"

	"github.com/zclconf/go-cty/cty"
)

func testDoc() map[string]any {
	return map[string]any{
		"vars": map[string]any{
			"score":  85.0,
			"status": "ok",
			"empty":  "",
			"zero":   0.0,
			"items":  []any{"a", 2.0, true},
			"nested": map[string]any{"flag": true},
		},
		"webhook": map[string]any{
			"payload": map[string]any{"action": "opened"},
		},
		"_outputs": map[string]any{
			"n1": map[string]any{"text": "hello"},
		},
	}
}

func TestEvaluator_Eval(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want bool
	}{
		{name: "empty expression is false", expr: "   ", want: false},
		{name: "literal true", expr: "true", want: true},
		{name: "numeric comparison via ctx", expr: "ctx.vars.score > 80", want: true},
		{name: "top-level variable", expr: `vars.status == "ok"`, want: true},
		{name: "strict equality rewritten", expr: `ctx.vars.status === "ok"`, want: true},
		{name: "strict inequality rewritten", expr: `ctx.vars.status !== "ok"`, want: false},
		{name: "logical and", expr: `vars.score >= 85 && vars.nested.flag`, want: true},
		{name: "number truthiness", expr: "vars.zero", want: false},
		{name: "string truthiness", expr: "vars.empty", want: false},
		{name: "non-empty string truthy", expr: "vars.status", want: true},
		{name: "collection truthy", expr: "vars.items", want: true},
		{name: "function call", expr: "length(vars.items) == 3", want: true},
		{name: "try fallback", expr: `try(vars.missing, "") == ""`, want: true},
		{name: "webhook payload", expr: `webhook.payload.action == "opened"`, want: true},
		{name: "underscore index syntax", expr: `ctx["_outputs"]["n1"]["text"] == "hello"`, want: true},
		{name: "ternary", expr: `vars.score > 90 ? true : false`, want: false},
		{name: "missing field comparison is false", expr: "ctx.vars.rating > 80", want: false},
		{name: "missing nested field", expr: `vars.nope.deep == "x"`, want: false},
		{name: "missing field not equal", expr: `ctx.vars.rating != "x"`, want: true},
		{name: "missing top-level key", expr: `missing.value == 1`, want: false},
		{name: "missing index key", expr: `ctx["_outputs"]["n2"]["text"] == "hello"`, want: false},
	}

	ev := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ev.Eval("cond", tt.expr, testDoc())
			if err != nil {
				t.Fatalf("Eval(%q) error = %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("Eval(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvaluator_Errors(t *testing.T) {
	ev := New()

	_, err := ev.Eval("cond", "vars.score >", testDoc())
	if !errors.Is(err, ErrSyntax) {
		t.Errorf("syntax error = %v, want ErrSyntax", err)
	}

	_, err = ev.Eval("cond", "vars.status > 1", testDoc())
	if err == nil {
		t.Errorf("expected evaluation error for string ordering")
	}

	_, err = ev.Eval("cond", `file("/etc/passwd") != ""`, testDoc())
	if err == nil {
		t.Errorf("expected error for unregistered function")
	}
}

func TestEvaluator_MissingLeavesDocUntouched(t *testing.T) {
	ev := New()
	doc := testDoc()
	if got, err := ev.Eval("cond", "ctx.vars.rating > 80", doc); err != nil || got {
		t.Fatalf("Eval = %v, %v", got, err)
	}
	if _, ok := doc["vars"].(map[string]any)["rating"]; ok {
		t.Errorf("Eval added vars.rating to the caller's document")
	}
}

func TestEvaluator_CachePerNode(t *testing.T) {
	ev := New()
	a, err := ev.Compile("n1", "vars.score > 1")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := ev.Compile("n1", "vars.score > 1")
	if a != b {
		t.Errorf("same node and source should reuse compilation")
	}

	got, err := ev.Eval("n1", "vars.score > 100", testDoc())
	if err != nil {
		t.Fatal(err)
	}
	if got {
		t.Errorf("edited expression evaluated with stale compilation")
	}
}

func TestEvaluator_Concurrent(t *testing.T) {
	ev := New()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := ev.Eval("c", "vars.score > 80", testDoc()); err != nil || !ok {
				t.Errorf("Eval = %v, %v", ok, err)
			}
		}()
	}
	wg.Wait()
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		name string
		in   cty.Value
		want bool
	}{
		{"null", cty.NullVal(cty.String), false},
		{"unknown", cty.UnknownVal(cty.Bool), false},
		{"false", cty.False, false},
		{"nonzero", cty.NumberIntVal(-3), true},
		{"zero", cty.Zero, false},
		{"empty object", cty.EmptyObjectVal, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truthy(tt.in); got != tt.want {
				t.Errorf("Truthy(%#v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
