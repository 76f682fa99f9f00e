package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/dshills/nodeflow/graph/ctxpath"
	"github.com/dshills/nodeflow/graph/emit"
	"github.com/dshills/nodeflow/graph/store"
)

// Engine creates and executes workflow runs.
//
// The Engine:
//   - Selects the trigger subgraph of a workflow for each run
//   - Executes ready nodes in concurrent batches through an Executor
//   - Routes condition results along labelled edges
//   - Keeps every run's log and context, and saves them to a store
//   - Emits observability events and Prometheus metrics
//
// Runs execute asynchronously. CreateRun returns as soon as the run is
// queued; poll it with Run and Logs, or block on (*Run).Wait.
//
// Example:
//
//	engine, err := graph.New(nodes.New(), graph.WithStore(store.NewMemStore[graph.RunRecord]()))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	run, err := engine.CreateRun(ctx, wf, nil)
//	run.Wait()
//	fmt.Println(run.Status())
type Engine struct {
	exec Executor
	cfg  engineConfig

	mu   sync.RWMutex
	runs map[string]*Run

	wg sync.WaitGroup
}

// New creates an Engine that runs nodes through exec.
func New(exec Executor, opts ...Option) (*Engine, error) {
	if exec == nil {
		return nil, errors.New("executor is required")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, fmt.Errorf("invalid option: %w", err)
		}
	}
	return &Engine{
		exec: exec,
		cfg:  cfg,
		runs: make(map[string]*Run),
	}, nil
}

// CreateRun queues a run of wf seeded with initial and starts executing it
// in the background. initial is copied; nil starts from an empty context.
//
// The run outlives ctx: cancelling ctx does not stop it. A workflow that
// fails validation returns an EngineError and creates no run.
func (e *Engine) CreateRun(ctx context.Context, wf *Workflow, initial map[string]any) (*Run, error) {
	if wf == nil {
		return nil, &EngineError{Message: "workflow is nil", Code: CodeInvalidWorkflow, Cause: ErrInvalidWorkflow}
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}

	seed := cloneDoc(initial)
	run := newRun(uuid.NewString(), wf.ID, seed, e.cfg.clock)
	run.Info("Run queued")

	e.mu.Lock()
	e.runs[run.ID] = run
	e.mu.Unlock()

	e.save(ctx, run)
	e.cfg.emitter.Emit(emit.Event{
		RunID:      run.ID,
		WorkflowID: run.WorkflowID,
		Msg:        emit.RunQueued,
		Meta:       map[string]any{"trigger": run.trigger},
	})

	snapshot := *wf
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.execute(context.WithoutCancel(ctx), &snapshot, run)
	}()
	return run, nil
}

// Run returns a snapshot of run id, from memory or else the store.
func (e *Engine) Run(ctx context.Context, id string) (RunRecord, error) {
	e.mu.RLock()
	run, ok := e.runs[id]
	e.mu.RUnlock()
	if ok {
		return run.Record(), nil
	}
	if e.cfg.store == nil {
		return RunRecord{}, ErrRunNotFound
	}
	rec, err := e.cfg.store.LoadRun(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return RunRecord{}, ErrRunNotFound
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("failed to load run %s: %w", id, err)
	}
	return rec, nil
}

// Logs returns the log of run id.
func (e *Engine) Logs(ctx context.Context, id string) ([]LogEntry, error) {
	rec, err := e.Run(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.Logs, nil
}

// ListRuns returns the runs of workflowID, newest first. With a store
// configured the store is authoritative; otherwise the runs held in memory
// are listed.
func (e *Engine) ListRuns(ctx context.Context, workflowID string) ([]store.RunMeta, error) {
	if e.cfg.store != nil {
		return e.cfg.store.ListRuns(ctx, workflowID)
	}
	e.mu.RLock()
	out := []store.RunMeta{}
	for _, run := range e.runs {
		if workflowID == "" || run.WorkflowID == workflowID {
			out = append(out, run.meta())
		}
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// Wait blocks until every run created so far has terminated.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// NodeRunResult is the outcome of RunNode.
type NodeRunResult struct {
	Status  RunStatus      `json:"status"`
	Outputs any            `json:"outputs"`
	Logs    []LogEntry     `json:"logs"`
	Context map[string]any `json:"context"`
}

// RunNode executes a single node outside any workflow, against a copy of
// initial. It is meant for trying out node configurations.
func (e *Engine) RunNode(ctx context.Context, node Node, initial map[string]any) NodeRunResult {
	seed := cloneDoc(initial)
	run := newRun(uuid.NewString(), "single-node", seed, e.cfg.clock)
	run.status = StatusRunning
	run.Info("Single node run")

	status := StatusCompleted
	if _, err := e.executeNode(ctx, node, run); err != nil {
		status = StatusFailed
		run.Error("Single node error: " + nodeMessage(err))
	}
	run.setStatus(status)

	outputs, ok := run.doc.Get("_outputs." + node.ID)
	if !ok || outputs == nil {
		outputs = map[string]any{}
	}
	return NodeRunResult{
		Status:  status,
		Outputs: outputs,
		Logs:    run.Logs(),
		Context: run.Context(),
	}
}

func (e *Engine) save(ctx context.Context, run *Run) {
	if e.cfg.store == nil {
		return
	}
	rec := run.Record()
	if err := e.cfg.store.SaveRun(ctx, rec.Meta(), rec); err != nil {
		e.cfg.logger.Warn("failed to save run", "run_id", run.ID, "error", err)
	}
}

func cloneDoc(doc map[string]any) map[string]any {
	if out, ok := ctxpath.Clone(doc).(map[string]any); ok && out != nil {
		return out
	}
	return map[string]any{}
}
