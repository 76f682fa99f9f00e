package graph

import (
	"fmt"
	"strings"
	"time"
)

// DisplayTimeLayout is how report timestamps are rendered.
const DisplayTimeLayout = "2006/1/2 15:04:05"

// TimestampLayout formats the UTC timestamps stored in run contexts, such as
// trigger.ts.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// DefaultDisplayLocation returns Asia/Shanghai, or a fixed UTC+8 zone when the
// timezone database is unavailable.
func DefaultDisplayLocation() *time.Location {
	if loc, err := time.LoadLocation("Asia/Shanghai"); err == nil {
		return loc
	}
	return time.FixedZone("CST", 8*60*60)
}

// Report is the trigger summary a start node carries on its out port. While
// the run is in progress FinishedAt is zero and Status is "running".
type Report struct {
	TriggeredAt time.Time
	FinishedAt  time.Time
	Duration    time.Duration
	Status      string
	Log         string
}

// Text renders the report with timestamps in loc.
func (r Report) Text(loc *time.Location) string {
	if loc == nil {
		loc = DefaultDisplayLocation()
	}
	finished := ""
	if !r.FinishedAt.IsZero() {
		finished = r.FinishedAt.In(loc).Format(DisplayTimeLayout)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Triggered at: %s\n", r.TriggeredAt.In(loc).Format(DisplayTimeLayout))
	fmt.Fprintf(&b, "Finished at: %s\n", finished)
	fmt.Fprintf(&b, "Duration (ms): %d\n", r.Duration.Milliseconds())
	fmt.Fprintf(&b, "Status: %s\n", r.Status)
	fmt.Fprintf(&b, "Log: %s", r.Log)
	return b.String()
}

// closingReport rewrites the out port of every start entry once the run has
// terminated.
func (e *Engine) closingReport(run *Run, plan *Plan, failed []string, status RunStatus) {
	end := e.cfg.clock()
	start := run.CreatedAt
	if ts, ok := run.doc.Get("trigger.ts"); ok {
		if s, ok := ts.(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				start = t
			}
		}
	}
	duration := end.Sub(start)
	if duration < 0 {
		duration = 0
	}

	logText := "none"
	if len(failed) > 0 {
		names := make([]string, 0, len(failed))
		reasons := make([]string, 0, len(failed))
		for _, id := range failed {
			label := id
			if n, ok := plan.Node(id); ok {
				label = n.Label()
			}
			names = append(names, label)
			reason, ok := run.lastFailure(label)
			if !ok {
				reason = "unknown reason"
			}
			reasons = append(reasons, label+": "+reason)
		}
		logText = fmt.Sprintf("Failed nodes: %s. Reasons: %s", strings.Join(names, ", "), strings.Join(reasons, "; "))
	}

	text := Report{
		TriggeredAt: start,
		FinishedAt:  end,
		Duration:    duration,
		Status:      string(status),
		Log:         logText,
	}.Text(e.cfg.location)

	for _, node := range plan.Entries {
		run.doc.Set(OutputPath(node, "vars."+node.ID+".trigger"), text)
		WriteOutput(run.doc, node, "out", text)
	}
}
