package graph

import (
	"strings"
	"sync"
	"time"

	"github.com/dshills/nodeflow/graph/ctxpath"
	"github.com/dshills/nodeflow/graph/store"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

// Run states. A run moves queued -> running -> completed|failed and never
// back.
const (
	StatusQueued    RunStatus = "queued"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// Terminal reports whether s is completed or failed.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s RunStatus) rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusRunning:
		return 1
	default:
		return 2
	}
}

// LogLevel is the severity of a run log entry.
type LogLevel string

// Run log levels.
const (
	LevelInfo  LogLevel = "info"
	LevelError LogLevel = "error"
)

// LogEntry is one line of a run log.
type LogEntry struct {
	TS      time.Time `json:"ts"`
	Level   LogLevel  `json:"level"`
	Message string    `json:"message"`
}

// RunLog receives user-facing log lines while a node executes.
type RunLog interface {
	Info(msg string)
	Error(msg string)
}

// RunRecord is the serialisable snapshot of a run, as returned by the
// engine and saved to the store.
type RunRecord struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflowId"`
	Status     RunStatus      `json:"status"`
	Context    map[string]any `json:"context"`
	Logs       []LogEntry     `json:"logs"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// Meta returns the store index entry for the record.
func (r RunRecord) Meta() store.RunMeta {
	return store.RunMeta{
		ID:         r.ID,
		WorkflowID: r.WorkflowID,
		Status:     string(r.Status),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

// Run is one execution of a workflow. All methods are safe for concurrent
// use; the engine mutates a run while callers poll it.
type Run struct {
	ID         string
	WorkflowID string
	CreatedAt  time.Time

	trigger string
	doc     *ctxpath.Store
	clock   func() time.Time
	done    chan struct{}

	mu        sync.RWMutex
	status    RunStatus
	logs      []LogEntry
	updatedAt time.Time
}

func newRun(id, workflowID string, initial map[string]any, clock func() time.Time) *Run {
	now := clock()
	return &Run{
		ID:         id,
		WorkflowID: workflowID,
		CreatedAt:  now,
		trigger:    DesiredTrigger(initial),
		doc:        ctxpath.NewStore(initial),
		clock:      clock,
		done:       make(chan struct{}),
		status:     StatusQueued,
		updatedAt:  now,
	}
}

// Status returns the current state.
func (r *Run) Status() RunStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Logs returns a copy of the log so far.
func (r *Run) Logs() []LogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]LogEntry, len(r.logs))
	copy(out, r.logs)
	return out
}

// Context returns a deep copy of the run document.
func (r *Run) Context() map[string]any {
	return r.doc.Snapshot()
}

// Done is closed once the run has reached a terminal state.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run terminates.
func (r *Run) Wait() {
	<-r.done
}

// Record snapshots the run.
func (r *Run) Record() RunRecord {
	r.mu.RLock()
	logs := make([]LogEntry, len(r.logs))
	copy(logs, r.logs)
	rec := RunRecord{
		ID:         r.ID,
		WorkflowID: r.WorkflowID,
		Status:     r.status,
		Logs:       logs,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.updatedAt,
	}
	r.mu.RUnlock()
	rec.Context = r.doc.Snapshot()
	return rec
}

func (r *Run) meta() store.RunMeta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return store.RunMeta{
		ID:         r.ID,
		WorkflowID: r.WorkflowID,
		Status:     string(r.status),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.updatedAt,
	}
}

// Info appends an info line.
func (r *Run) Info(msg string) { r.log(LevelInfo, msg) }

// Error appends an error line.
func (r *Run) Error(msg string) { r.log(LevelError, msg) }

func (r *Run) log(level LogLevel, msg string) {
	now := r.clock()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, LogEntry{TS: now, Level: level, Message: msg})
	r.updatedAt = now
}

// setStatus moves the run forward. Transitions out of a terminal state or
// backwards are ignored and reported as false.
func (r *Run) setStatus(s RunStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() || s.rank() <= r.status.rank() {
		return false
	}
	r.status = s
	r.updatedAt = r.clock()
	return true
}

// lastFailure scans the log backwards for the failure line of a node label
// and returns its message.
func (r *Run) lastFailure(label string) (string, bool) {
	prefix := "[" + label + "] failed: "
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.logs) - 1; i >= 0; i-- {
		e := r.logs[i]
		if e.Level == LevelError && strings.HasPrefix(e.Message, prefix) {
			return strings.TrimPrefix(e.Message, prefix), true
		}
	}
	return "", false
}
