package nodes

import (
	"context"
	"errors"
	"strings"

	"github.com/dshills/nodeflow/graph/ctxpath"
)

// ErrLoopItemsNotArray is returned by a loop node whose itemsPath does not
// resolve to a list.
var ErrLoopItemsNotArray = errors.New("loop itemsPath not array")

func (e *Executor) timestamp(_ context.Context, c *Call) (Outputs, error) {
	now := e.now()
	iso := now.UTC().Format("2006-01-02T15:04:05.000Z")
	local := now.Local()
	payload := map[string]any{
		"timestamp": float64(now.UnixMilli()),
		"iso":       iso,
		"formatted": strings.Replace(iso, "T", " ", 1)[:19],
		"year":      float64(local.Year()),
		"month":     float64(local.Month()),
		"day":       float64(local.Day()),
	}
	path := c.OutputPath("vars." + c.Node.ID + ".time")
	c.Doc.Set(path, payload)
	c.Infof("time -> %s", path)
	return Outputs{"time": payload}, nil
}

func (e *Executor) text(_ context.Context, c *Call) (Outputs, error) {
	tpl := c.String("template")
	if v, ok := c.Input("in"); ok {
		tpl = ctxpath.ToText(v)
	}
	message := c.Doc.Render(tpl)
	path := c.OutputPath("vars." + c.Node.ID + ".text")
	c.Doc.Set(path, message)
	c.Infof("text -> %s", path)
	return Outputs{"out": message}, nil
}

// condition evaluates config.expression against the context. Only the
// out-edges labelled with the result fire.
func (e *Executor) condition(_ context.Context, c *Call) (Outputs, error) {
	src := strings.TrimSpace(c.String("expression"))
	if src == "" {
		src = "false"
	}
	result, err := e.eval.Eval(c.Node.ID, src, c.Doc.Snapshot())
	if err != nil {
		return nil, err
	}
	c.SetCondition(result)
	c.Infof("condition = %t", result)
	return Outputs{"true": result, "false": !result}, nil
}

// loop renders config.template once per element of the list at itemsPath,
// with the element bound to "item".
func (e *Executor) loop(_ context.Context, c *Call) (Outputs, error) {
	destPath := c.String("destPath")
	if destPath == "" {
		destPath = "vars." + c.Node.ID + ".results"
	}
	tpl := c.String("template")
	if tpl == "" {
		tpl = "{{item}}"
	}
	raw, _ := c.Doc.Get(c.String("itemsPath"))
	items, ok := raw.([]any)
	if !ok {
		return nil, ErrLoopItemsNotArray
	}
	scope := c.Doc.Snapshot()
	results := make([]any, len(items))
	for i, item := range items {
		scope["item"] = item
		results[i] = ctxpath.ApplyTemplate(tpl, scope)
	}
	c.Doc.Set(destPath, results)
	c.Infof("loop -> %s (%d)", destPath, len(results))
	return Outputs{"result": results}, nil
}
