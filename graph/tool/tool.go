// Package tool provides side-effecting operations that node handlers delegate
// to, such as outbound HTTP requests.
package tool

import "context"

// Tool is an executable operation invoked by a node handler.
//
// Implementations should:
//   - Validate input parameters
//   - Respect context cancellation
//   - Return structured output as map[string]any
//
// Example implementation:
//
//	type EchoTool struct{}
//
//	func (EchoTool) Name() string { return "echo" }
//
//	func (EchoTool) Call(ctx context.Context, input map[string]any) (map[string]any, error) {
//	    return map[string]any{"echo": input["text"]}, nil
//	}
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Call executes the tool with the provided input and returns the result.
	// input may be nil for parameterless tools.
	Call(ctx context.Context, input map[string]any) (map[string]any, error)
}
