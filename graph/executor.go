package graph

import (
	"context"

	"github.com/dshills/nodeflow/graph/ctxpath"
)

// Outcome is what the scheduler needs to know about a successful node.
type Outcome struct {
	// Condition is the boolean result of a condition node; nil for every
	// other type. When set, only out-edges labelled "true" or "false"
	// accordingly fire.
	Condition *bool

	// Unsupported marks a node whose type has no handler. Such a node did
	// no work but still counts as completed.
	Unsupported bool
}

// Executor runs a single node against a run document.
//
// Implementations read the node's inputs from doc, write its outputs back to
// doc and report progress through log. A returned error marks the node as
// failed; the engine recovers panics into NodeErrors.
type Executor interface {
	Execute(ctx context.Context, node Node, doc *ctxpath.Store, log RunLog) (Outcome, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, node Node, doc *ctxpath.Store, log RunLog) (Outcome, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, node Node, doc *ctxpath.Store, log RunLog) (Outcome, error) {
	return f(ctx, node, doc, log)
}

// WriteOutput stores value on a node port. A copy goes to
// _outputs.<node>.<port>; when config.outputMap.<port>.path is set the value
// is mirrored there too.
func WriteOutput(doc *ctxpath.Store, node Node, port string, value any) {
	doc.Set("_outputs."+node.ID+"."+port, ctxpath.Clone(value))
	outputMap, _ := node.Config["outputMap"].(map[string]any)
	entry, _ := outputMap[port].(map[string]any)
	if path, _ := entry["path"].(string); path != "" {
		doc.Set(path, value)
	}
}

// OutputPath returns config.outputPath, or fallback when unset.
func OutputPath(node Node, fallback string) string {
	if p, ok := node.Config["outputPath"].(string); ok && p != "" {
		return p
	}
	return fallback
}
