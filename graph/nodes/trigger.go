package nodes

import (
	"context"

	"github.com/dshills/nodeflow/graph"
)

// start writes the in-progress run report and records a manual trigger. The
// engine replaces the report once the run terminates.
func (e *Executor) start(_ context.Context, c *Call) (Outputs, error) {
	path := c.OutputPath("vars." + c.Node.ID + ".trigger")
	now := e.now()
	report := graph.Report{TriggeredAt: now, Status: "running"}.Text(e.location)
	c.Doc.Set(path, report)
	c.Doc.Set("trigger", map[string]any{
		"type":   "manual",
		"nodeId": c.Node.ID,
		"ts":     now.UTC().Format(graph.TimestampLayout),
	})
	c.Infof("start -> %s", path)
	return Outputs{"out": report}, nil
}

func (e *Executor) cron(_ context.Context, c *Call) (Outputs, error) {
	path := c.OutputPath("vars." + c.Node.ID + ".trigger")
	payload, ok := c.Doc.Get("trigger")
	if !ok || payload == nil {
		interval, ok := c.Config["intervalSeconds"]
		if !ok {
			interval = nil
		}
		payload = map[string]any{
			"type":            "cron",
			"ts":              e.now().UTC().Format(graph.TimestampLayout),
			"intervalSeconds": interval,
		}
	}
	c.Doc.Set(path, payload)
	c.Infof("cron -> %s", path)
	return Outputs{"out": payload}, nil
}

func (e *Executor) webhook(_ context.Context, c *Call) (Outputs, error) {
	path := c.OutputPath("vars." + c.Node.ID + ".webhook")
	payload, ok := c.Doc.Get("webhook")
	if !ok || payload == nil {
		payload = map[string]any{"payload": nil}
	}
	c.Doc.Set(path, payload)
	c.Infof("webhook -> %s", path)
	return Outputs{"out": payload}, nil
}
