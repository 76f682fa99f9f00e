package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dshills/nodeflow/graph"
	"github.com/dshills/nodeflow/graph/nodes"
	"github.com/dshills/nodeflow/graph/store"
	"github.com/dshills/nodeflow/graph/trigger"
)

type testServer struct {
	*httptest.Server
	engine    *graph.Engine
	uploadDir string
}

func newTestServer(t *testing.T, workflows ...*graph.Workflow) *testServer {
	t.Helper()
	uploadDir := t.TempDir()
	reg := prometheus.NewRegistry()
	metrics := graph.NewPrometheusMetrics(reg)
	exec := nodes.New(
		nodes.WithGetenv(func(string) string { return "" }),
		nodes.WithUploadDir(uploadDir),
		nodes.WithDisplayLocation(time.UTC),
	)
	engine, err := graph.New(exec,
		graph.WithStore(store.NewMemStore[graph.RunRecord]()),
		graph.WithMetrics(metrics),
		graph.WithDisplayLocation(time.UTC),
	)
	if err != nil {
		t.Fatalf("graph.New: %v", err)
	}
	registry := trigger.New(engine, trigger.WithMetrics(metrics))
	for _, wf := range workflows {
		if _, err := registry.Register(wf); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	started := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	s := &server{
		engine:    engine,
		registry:  registry,
		gatherer:  reg,
		uploadDir: uploadDir,
		logger:    slog.New(slog.DiscardHandler),
		started:   started,
		now:       func() time.Time { return started.Add(90 * time.Second) },
	}
	srv := httptest.NewServer(s.routes())
	t.Cleanup(func() {
		srv.Close()
		_ = registry.Close()
		engine.Wait()
	})
	return &testServer{Server: srv, engine: engine, uploadDir: uploadDir}
}

func (ts *testServer) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Source", "test")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 && raw[0] == '{' {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
	return resp.StatusCode, out
}

func greetingWorkflow() *graph.Workflow {
	return &graph.Workflow{
		ID: "greet",
		Nodes: []graph.Node{
			{ID: "start", Type: graph.TypeStart},
			{ID: "msg", Type: graph.TypeText, Config: map[string]any{"template": "hello {{vars.name}}"}},
		},
		Edges: []graph.Edge{{ID: "e1", Source: "start", Target: "msg"}},
	}
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t)
	status, body := ts.do(t, http.MethodGet, "/health", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if body["status"] != "ok" || body["uptime"] != 90.0 {
		t.Errorf("body = %v", body)
	}
}

func TestServer_RunWorkflow(t *testing.T) {
	ts := newTestServer(t, greetingWorkflow())

	status, body := ts.do(t, http.MethodPost, "/workflows/missing/run", "")
	if status != http.StatusNotFound || body["message"] != "workflow not found" {
		t.Errorf("missing workflow: %d %v", status, body)
	}

	status, body = ts.do(t, http.MethodPost, "/workflows/greet/run", `{"context":{"vars":{"name":"Ada"}}}`)
	if status != http.StatusAccepted {
		t.Fatalf("status = %d, body = %v", status, body)
	}
	runID, _ := body["runId"].(string)
	if runID == "" || body["status"] == nil {
		t.Fatalf("body = %v", body)
	}
	ts.engine.Wait()

	status, rec := ts.do(t, http.MethodGet, "/runs/"+runID, "")
	if status != http.StatusOK {
		t.Fatalf("GET run: %d", status)
	}
	if rec["status"] != string(graph.StatusCompleted) || rec["workflowId"] != "greet" {
		t.Errorf("run = %v", rec)
	}

	status, logs := ts.do(t, http.MethodGet, "/runs/"+runID+"/logs", "")
	if status != http.StatusOK {
		t.Fatalf("GET logs: %d", status)
	}
	if logs["runId"] != runID || logs["status"] != string(graph.StatusCompleted) {
		t.Errorf("logs = %v", logs)
	}
	if entries, _ := logs["logs"].([]any); len(entries) == 0 {
		t.Error("no log entries")
	}
	vars, _ := logs["context"].(map[string]any)["vars"].(map[string]any)
	if vars["name"] != "Ada" {
		t.Errorf("context vars = %v", vars)
	}

	status, list := ts.do(t, http.MethodGet, "/workflows/greet/runs", "")
	if items, _ := list["items"].([]any); status != http.StatusOK || len(items) != 1 {
		t.Errorf("list runs: %d %v", status, list)
	}
}

func TestServer_RunWorkflowRejectsBadJSON(t *testing.T) {
	ts := newTestServer(t, greetingWorkflow())
	status, body := ts.do(t, http.MethodPost, "/workflows/greet/run", `{"context":`)
	if status != http.StatusBadRequest || body["message"] != "invalid JSON body" {
		t.Errorf("got %d %v", status, body)
	}
}

func TestServer_RunNotFound(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/runs/nope", "/runs/nope/logs"} {
		status, body := ts.do(t, http.MethodGet, path, "")
		if status != http.StatusNotFound || body["message"] != "run not found" {
			t.Errorf("%s: %d %v", path, status, body)
		}
	}
}

func TestServer_RunNode(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"no body", ""},
		{"no node", `{"context":{}}`},
		{"no type", `{"node":{"id":"x"}}`},
		{"no id", `{"node":{"type":"text"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := ts.do(t, http.MethodPost, "/nodes/run", tt.body)
			if status != http.StatusBadRequest || body["message"] != "node.id and node.type are required" {
				t.Errorf("got %d %v", status, body)
			}
		})
	}

	status, body := ts.do(t, http.MethodPost, "/nodes/run",
		`{"node":{"id":"in","type":"text-input","config":{"value":"hi"}},"context":{"vars":{"a":1}}}`)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if body["status"] != string(graph.StatusCompleted) {
		t.Errorf("status = %v", body["status"])
	}
	if want := map[string]any{"text": "hi"}; !reflect.DeepEqual(body["outputs"], want) {
		t.Errorf("outputs = %v, want %v", body["outputs"], want)
	}
}

func TestServer_Webhook(t *testing.T) {
	wf := &graph.Workflow{
		ID:    "hooked",
		Nodes: []graph.Node{{ID: "hook", Type: graph.TypeWebhook, Config: map[string]any{"key": "orders"}}},
	}
	ts := newTestServer(t, wf)

	status, body := ts.do(t, http.MethodPost, "/triggers/webhook/unknown", "{}")
	if status != http.StatusNotFound || body["message"] != "webhook key not found" {
		t.Errorf("unknown key: %d %v", status, body)
	}

	status, body = ts.do(t, http.MethodPost, "/triggers/webhook/orders?id=7", `{"total":12}`)
	if status != http.StatusOK || body["key"] != "orders" {
		t.Fatalf("got %d %v", status, body)
	}
	runs, _ := body["runs"].([]any)
	if len(runs) != 1 {
		t.Fatalf("runs = %v", body["runs"])
	}
	ts.engine.Wait()

	_, rec := ts.do(t, http.MethodGet, "/runs/"+runs[0].(string), "")
	hook, _ := rec["context"].(map[string]any)["webhook"].(map[string]any)
	if !reflect.DeepEqual(hook["payload"], map[string]any{"total": 12.0}) {
		t.Errorf("payload = %v", hook["payload"])
	}
	if !reflect.DeepEqual(hook["query"], map[string]any{"id": "7"}) {
		t.Errorf("query = %v", hook["query"])
	}
	if headers, _ := hook["headers"].(map[string]any); headers["x-source"] != "test" {
		t.Errorf("headers = %v", hook["headers"])
	}
}

func TestServer_UploadsAndMetrics(t *testing.T) {
	ts := newTestServer(t, greetingWorkflow())
	if err := os.WriteFile(filepath.Join(ts.uploadDir, "a.txt"), []byte("stored"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	resp, err := ts.Client().Get(ts.URL + "/uploads/a.txt")
	if err != nil {
		t.Fatalf("GET upload: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(raw) != "stored" {
		t.Errorf("upload: %d %q", resp.StatusCode, raw)
	}

	if status, _ := ts.do(t, http.MethodPost, "/workflows/greet/run", ""); status != http.StatusAccepted {
		t.Fatalf("run status = %d", status)
	}
	ts.engine.Wait()

	resp, err = ts.Client().Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	raw, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, want := range []string{`nodeflow_runs_total{status="completed"} 1`, `nodeflow_triggers_fired_total{kind="manual"} 1`} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestServer_ListWorkflows(t *testing.T) {
	ts := newTestServer(t, greetingWorkflow())
	resp, err := ts.Client().Get(ts.URL + "/workflows")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var list []graph.Workflow
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 || list[0].ID != "greet" {
		t.Errorf("workflows = %+v", list)
	}
}
