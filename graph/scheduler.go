package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/nodeflow/graph/emit"
)

// nodeResult is the outcome of one node of a batch.
type nodeResult struct {
	node    Node
	outcome Outcome
	err     error
}

// execute drives run to a terminal state. It never returns an error: every
// failure ends up in the run log and status.
func (e *Engine) execute(ctx context.Context, wf *Workflow, run *Run) {
	defer close(run.done)
	defer func() {
		if r := recover(); r != nil {
			e.cfg.logger.Error("scheduler panic", "run_id", run.ID, "panic", r)
			run.Error(fmt.Sprintf("Workflow aborted: %v", r))
			e.finish(ctx, run, StatusFailed)
		}
	}()

	run.setStatus(StatusRunning)
	run.Info("Workflow started")
	e.save(ctx, run)
	e.emit(run, 0, "", emit.RunStarted, map[string]any{"trigger": run.trigger})

	plan, err := Analyze(wf, run.trigger)
	if err != nil {
		msg := err.Error()
		var ee *EngineError
		if errors.As(err, &ee) {
			msg = ee.Message
		}
		run.Error(msg)
		e.finish(ctx, run, StatusFailed)
		return
	}

	completed := make(map[string]bool, len(plan.Reachable))
	enqueued := make(map[string]bool, len(plan.Reachable))
	var failed []string

	queue := plan.Ready
	for _, id := range queue {
		enqueued[id] = true
	}

	step := 0
	for len(queue) > 0 {
		step++
		batch := queue
		queue = nil

		results := e.runBatch(ctx, run, plan, batch, step)

		for _, res := range results {
			if res.err != nil {
				failed = append(failed, res.node.ID)
				continue
			}
			completed[res.node.ID] = true
			for _, edge := range plan.OutEdges(res.node.ID) {
				if !fires(res.node, res.outcome, edge) || !plan.Reachable[edge.Target] {
					continue
				}
				plan.Deps[edge.Target]--
				if plan.Deps[edge.Target] <= 0 && !completed[edge.Target] && !enqueued[edge.Target] {
					enqueued[edge.Target] = true
					queue = append(queue, edge.Target)
				}
			}
		}
	}

	status := StatusCompleted
	if len(failed) > 0 {
		status = StatusFailed
		run.Error("Workflow failed on nodes: " + strings.Join(failed, ", "))
	} else {
		run.Info("Workflow completed")
	}

	if plan.Trigger == TypeStart && len(plan.Entries) > 0 {
		e.closingReport(run, plan, failed, status)
	}

	failedSet := make(map[string]bool, len(failed))
	for _, id := range failed {
		failedSet[id] = true
	}
	var skipped []string
	for _, n := range wf.Nodes {
		if !completed[n.ID] && !failedSet[n.ID] {
			skipped = append(skipped, n.Label())
		}
	}
	if len(skipped) > 0 {
		run.Info("Skipped nodes: " + strings.Join(skipped, ", "))
	}

	e.finish(ctx, run, status)
}

// fires reports whether edge propagates after node completed with outcome.
// A condition node fires only the edges whose label matches its result.
func fires(node Node, outcome Outcome, edge Edge) bool {
	if node.Type != TypeCondition || outcome.Condition == nil {
		return true
	}
	return strings.EqualFold(edge.Label, fmt.Sprintf("%t", *outcome.Condition))
}

// runBatch executes every node of batch concurrently and waits for all of
// them. Results keep batch order.
func (e *Engine) runBatch(ctx context.Context, run *Run, plan *Plan, batch []string, step int) []nodeResult {
	e.cfg.metrics.UpdateBatchSize(len(batch))

	results := make([]nodeResult, len(batch))
	var g errgroup.Group
	if e.cfg.maxConcurrent > 0 {
		g.SetLimit(e.cfg.maxConcurrent)
	}
	for i, id := range batch {
		node, ok := plan.Node(id)
		if !ok {
			results[i] = nodeResult{node: Node{ID: id}, err: &NodeError{Message: "node not found", Code: CodeNodeFailed, NodeID: id}}
			continue
		}
		g.Go(func() error {
			results[i] = e.runNode(ctx, run, node, step)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Engine) runNode(ctx context.Context, run *Run, node Node, step int) nodeResult {
	run.Info("[" + node.Label() + "] start")
	e.emit(run, step, node.ID, emit.NodeStart, map[string]any{"node_type": node.Type})
	e.cfg.metrics.AddInflightNodes(1)
	defer e.cfg.metrics.AddInflightNodes(-1)

	start := time.Now()
	outcome, err := e.executeNode(ctx, node, run)
	latency := time.Since(start)

	if err != nil {
		msg := nodeMessage(err)
		run.Error("[" + node.Label() + "] failed: " + msg)
		e.cfg.metrics.RecordNodeLatency(node.Type, latency, "error")
		e.emit(run, step, node.ID, emit.NodeError, map[string]any{
			"node_type":   node.Type,
			"error":       msg,
			"duration_ms": latency.Milliseconds(),
		})
		return nodeResult{node: node, err: err}
	}

	status := "success"
	if outcome.Unsupported {
		status = "unsupported"
		e.emit(run, step, node.ID, emit.NodeUnsupported, map[string]any{"node_type": node.Type})
	}
	run.Info("[" + node.Label() + "] done")
	e.cfg.metrics.RecordNodeLatency(node.Type, latency, status)
	e.emit(run, step, node.ID, emit.NodeEnd, map[string]any{
		"node_type":   node.Type,
		"duration_ms": latency.Milliseconds(),
	})
	return nodeResult{node: node, outcome: outcome}
}

// executeNode calls the executor, turning errors and panics into NodeErrors.
func (e *Engine) executeNode(ctx context.Context, node Node, run *Run) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &NodeError{
				Message: fmt.Sprintf("panic: %v", r),
				Code:    CodeNodePanic,
				NodeID:  node.ID,
			}
		}
	}()

	outcome, err = e.exec.Execute(ctx, node, run.doc, run)
	if err != nil {
		var ne *NodeError
		if !errors.As(err, &ne) {
			err = &NodeError{Message: err.Error(), Code: CodeNodeFailed, NodeID: node.ID, Cause: err}
		}
		return Outcome{}, err
	}
	return outcome, nil
}

// finish moves run to its terminal status, saves it and reports it.
func (e *Engine) finish(ctx context.Context, run *Run, status RunStatus) {
	if !run.setStatus(status) {
		return
	}
	e.save(ctx, run)
	e.cfg.metrics.IncrementRuns(string(status))

	msg := emit.RunCompleted
	if status == StatusFailed {
		msg = emit.RunFailed
	}
	e.emit(run, 0, "", msg, nil)
}

func (e *Engine) emit(run *Run, step int, nodeID, msg string, meta map[string]any) {
	e.cfg.emitter.Emit(emit.Event{
		RunID:      run.ID,
		WorkflowID: run.WorkflowID,
		Step:       step,
		NodeID:     nodeID,
		Msg:        msg,
		Meta:       meta,
	})
}

// nodeMessage returns the message of a NodeError, or the plain error text.
func nodeMessage(err error) string {
	var ne *NodeError
	if errors.As(err, &ne) {
		return ne.Message
	}
	return err.Error()
}
