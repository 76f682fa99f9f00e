// Package graph provides the workflow execution engine for nodeflow.
package graph

import "errors"

// Error codes carried by EngineError and NodeError.
const (
	CodeNoTriggerNodes    = "NO_TRIGGER_NODES"
	CodeNoExecutableNodes = "NO_EXECUTABLE_NODES"
	CodeInvalidWorkflow   = "INVALID_WORKFLOW"
	CodeNodeFailed        = "NODE_FAILED"
	CodeNodePanic         = "NODE_PANIC"
)

// ErrNoTriggerNodes indicates that the workflow has nodes but none of them
// matches the trigger kind the run was started with.
var ErrNoTriggerNodes = errors.New("no trigger nodes")

// ErrNoExecutableNodes indicates that every node in the trigger subgraph
// waits on a predecessor, so nothing can be scheduled.
var ErrNoExecutableNodes = errors.New("no executable nodes in trigger subgraph")

// ErrInvalidWorkflow indicates a structurally broken workflow definition.
var ErrInvalidWorkflow = errors.New("invalid workflow")

// ErrRunNotFound is returned when neither the engine nor its store knows a run.
var ErrRunNotFound = errors.New("run not found")

// EngineError reports a graph configuration problem detected before any node
// runs. Cause is one of the package sentinels, so callers can match with
// errors.Is.
type EngineError struct {
	Message string
	Code    string
	Cause   error
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying sentinel.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// NodeError represents a failure during node execution. The node is marked
// failed and none of its out-edges fire.
type NodeError struct {
	// Message is the human-readable error description.
	Message string

	// Code is a machine-readable error code for programmatic handling.
	Code string

	// NodeID identifies which node produced this error.
	NodeID string

	// Cause is the underlying error that caused this NodeError.
	Cause error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *NodeError) Unwrap() error {
	return e.Cause
}
