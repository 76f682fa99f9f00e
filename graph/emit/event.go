package emit

// Event names emitted by the engine.
const (
	RunQueued       = "run_queued"
	RunStarted      = "run_started"
	RunCompleted    = "run_completed"
	RunFailed       = "run_failed"
	NodeStart       = "node_start"
	NodeEnd         = "node_end"
	NodeError       = "node_error"
	NodeUnsupported = "node_unsupported"
	TriggerFired    = "trigger_fired"
)

// Event represents an observability event emitted during workflow execution.
//
// Events are emitted to an Emitter which can:
//   - Log to stdout/stderr
//   - Forward to a slog.Logger
//   - Send to OpenTelemetry
//   - Keep history for tests
type Event struct {
	// RunID identifies the run that emitted this event. For trigger_fired
	// it is the run the trigger started.
	RunID string

	// WorkflowID identifies the workflow definition being executed.
	WorkflowID string

	// Step is the 1-indexed scheduler batch. Zero for run-level events.
	Step int

	// NodeID identifies which node emitted this event.
	// Empty string for run-level events.
	NodeID string

	// Msg is one of the event name constants.
	Msg string

	// Meta contains additional structured data specific to this event.
	// Common keys:
	//   - "duration_ms": Node execution duration in milliseconds
	//   - "error": Error message
	//   - "node_type": Node type tag
	//   - "trigger": Trigger kind (start, cron, webhook)
	Meta map[string]any
}
