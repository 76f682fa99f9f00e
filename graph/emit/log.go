package emit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
)

// LogEmitter prints one line per event. Text lines start with the event name
// followed by key=value pairs with Meta keys in sorted order:
//
//	node_end run=3f2a workflow=daily step=2 node=llm-1 duration_ms=840 node_type="llm"
//
// JSON lines carry the same fields:
//
//	{"event":"node_end","run_id":"3f2a","workflow_id":"daily","step":2,"node_id":"llm-1","meta":{"duration_ms":840}}
type LogEmitter struct {
	mu   sync.Mutex
	w    io.Writer
	json bool
}

// NewLogEmitter creates a LogEmitter writing to w, or os.Stdout when w is nil.
func NewLogEmitter(w io.Writer, jsonMode bool) *LogEmitter {
	if w == nil {
		w = os.Stdout
	}
	return &LogEmitter{w: w, json: jsonMode}
}

type jsonLine struct {
	Event      string         `json:"event"`
	RunID      string         `json:"run_id"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	Step       int            `json:"step,omitempty"`
	NodeID     string         `json:"node_id,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// Emit implements Emitter. Each line is written with a single Write call.
func (l *LogEmitter) Emit(event Event) {
	var buf bytes.Buffer
	if l.json {
		err := json.NewEncoder(&buf).Encode(jsonLine{
			Event:      event.Msg,
			RunID:      event.RunID,
			WorkflowID: event.WorkflowID,
			Step:       event.Step,
			NodeID:     event.NodeID,
			Meta:       event.Meta,
		})
		if err != nil {
			buf.Reset()
			fmt.Fprintf(&buf, "{\"event\":%q,\"run_id\":%q,\"error\":%q}\n", event.Msg, event.RunID, err.Error())
		}
	} else {
		writeText(&buf, event)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.w.Write(buf.Bytes())
}

func writeText(buf *bytes.Buffer, event Event) {
	fmt.Fprintf(buf, "%s run=%s", event.Msg, event.RunID)
	if event.WorkflowID != "" {
		fmt.Fprintf(buf, " workflow=%s", event.WorkflowID)
	}
	if event.Step > 0 {
		fmt.Fprintf(buf, " step=%d", event.Step)
	}
	if event.NodeID != "" {
		fmt.Fprintf(buf, " node=%s", event.NodeID)
	}

	keys := make([]string, 0, len(event.Meta))
	for k := range event.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := event.Meta[k]
		if s, ok := v.(string); ok {
			fmt.Fprintf(buf, " %s=%q", k, s)
			continue
		}
		fmt.Fprintf(buf, " %s=%v", k, v)
	}
	buf.WriteByte('\n')
}
