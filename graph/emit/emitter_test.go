package emit

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

var (
	_ Emitter = (*LogEmitter)(nil)
	_ Emitter = (*BufferedEmitter)(nil)
	_ Emitter = (*NullEmitter)(nil)
	_ Emitter = (*OTelEmitter)(nil)
	_ Emitter = (*SlogEmitter)(nil)
	_ Emitter = MultiEmitter(nil)
)

func TestLogEmitter(t *testing.T) {
	event := Event{
		RunID:      "run-001",
		WorkflowID: "wf",
		Step:       1,
		NodeID:     "a",
		Msg:        NodeEnd,
		Meta:       map[string]any{"node_type": "llm", "duration_ms": 12},
	}

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		NewLogEmitter(&buf, false).Emit(event)
		want := "node_end run=run-001 workflow=wf step=1 node=a duration_ms=12 node_type=\"llm\"\n"
		if buf.String() != want {
			t.Errorf("got %q\nwant %q", buf.String(), want)
		}
	})

	t.Run("text omits empty fields", func(t *testing.T) {
		var buf bytes.Buffer
		NewLogEmitter(&buf, false).Emit(Event{RunID: "r", Msg: RunStarted})
		if buf.String() != "run_started run=r\n" {
			t.Errorf("got %q", buf.String())
		}
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		NewLogEmitter(&buf, true).Emit(event)
		var got map[string]any
		if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatalf("invalid JSON %q: %v", buf.String(), err)
		}
		if got["run_id"] != "run-001" || got["event"] != NodeEnd || got["workflow_id"] != "wf" || got["step"] != 1.0 {
			t.Errorf("got %v", got)
		}
	})

	t.Run("concurrent lines stay whole", func(t *testing.T) {
		var buf bytes.Buffer
		e := NewLogEmitter(&buf, true)
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				e.Emit(event)
			}()
		}
		wg.Wait()
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != 20 {
			t.Fatalf("lines = %d", len(lines))
		}
		for _, l := range lines {
			if !json.Valid([]byte(l)) {
				t.Errorf("corrupt line %q", l)
			}
		}
	})
}

func TestBufferedEmitter(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(Event{RunID: "r1", Msg: RunStarted})
	b.Emit(Event{RunID: "r1", Step: 1, NodeID: "a", Msg: NodeStart})
	b.Emit(Event{RunID: "r1", Step: 2, NodeID: "b", Msg: NodeStart})
	b.Emit(Event{RunID: "r2", Msg: RunStarted})

	if got := b.Messages("r1"); strings.Join(got, ",") != "run_started,node_start,node_start" {
		t.Errorf("Messages = %v", got)
	}
	if got := b.GetHistory("missing"); got == nil || len(got) != 0 {
		t.Errorf("missing run = %#v", got)
	}

	minStep := 2
	got := b.GetHistoryWithFilter("r1", HistoryFilter{Msg: NodeStart, MinStep: &minStep})
	if len(got) != 1 || got[0].NodeID != "b" {
		t.Errorf("filtered = %+v", got)
	}
	if got := b.GetHistoryWithFilter("r1", HistoryFilter{NodeID: "a"}); len(got) != 1 {
		t.Errorf("node filter = %+v", got)
	}

	history := b.GetHistory("r1")
	history[0].Msg = "mutated"
	if b.GetHistory("r1")[0].Msg != RunStarted {
		t.Error("history not copied")
	}

	b.Clear("r1")
	if len(b.GetHistory("r1")) != 0 || len(b.GetHistory("r2")) != 1 {
		t.Error("Clear(r1) affected the wrong runs")
	}
	b.Clear("")
	if len(b.GetHistory("r2")) != 0 {
		t.Error("Clear(\"\") kept events")
	}
}

func TestSlogEmitter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	e := NewSlogEmitter(logger)

	e.Emit(Event{RunID: "r", Step: 1, NodeID: "n", Msg: NodeError, Meta: map[string]any{"error": "boom"}})
	e.Emit(Event{RunID: "r", Msg: RunCompleted})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q", buf.String())
	}
	var first, second map[string]any
	_ = json.Unmarshal([]byte(lines[0]), &first)
	_ = json.Unmarshal([]byte(lines[1]), &second)
	if first["level"] != "ERROR" || first["msg"] != NodeError || first["error"] != "boom" || first["node_id"] != "n" {
		t.Errorf("first = %v", first)
	}
	if second["level"] != "INFO" || second["run_id"] != "r" {
		t.Errorf("second = %v", second)
	}
	if _, ok := second["step"]; ok {
		t.Errorf("zero step logged: %v", second)
	}
}

func TestMultiEmitter(t *testing.T) {
	a, b := NewBufferedEmitter(), NewBufferedEmitter()
	m := NewMultiEmitter(a, nil, b, NewNullEmitter())
	if len(m) != 3 {
		t.Fatalf("len = %d, want nil skipped", len(m))
	}
	m.Emit(Event{RunID: "r", Msg: RunQueued})
	if len(a.GetHistory("r")) != 1 || len(b.GetHistory("r")) != 1 {
		t.Error("event not fanned out")
	}
}
