package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dshills/nodeflow/graph"
	"github.com/dshills/nodeflow/graph/nodes"
	"github.com/dshills/nodeflow/graph/trigger"
)

// maxBodyBytes limits request bodies.
const maxBodyBytes = 10 << 20

// server exposes the run lifecycle over HTTP.
type server struct {
	engine    *graph.Engine
	registry  *trigger.Registry
	gatherer  prometheus.Gatherer
	uploadDir string
	logger    *slog.Logger
	started   time.Time
	now       func() time.Time
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /workflows", s.handleListWorkflows)
	mux.HandleFunc("GET /workflows/{id}/runs", s.handleListRuns)
	mux.HandleFunc("POST /workflows/{id}/run", s.handleRunWorkflow)
	mux.HandleFunc("GET /runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /runs/{id}/logs", s.handleGetLogs)
	mux.HandleFunc("POST /nodes/run", s.handleRunNode)
	mux.HandleFunc("POST /triggers/webhook/{key}", s.handleWebhook)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.Handle("GET "+nodes.UploadURLPrefix, http.StripPrefix(nodes.UploadURLPrefix, http.FileServer(http.Dir(s.uploadDir))))
	return mux
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": s.now().Sub(s.started).Seconds(),
	})
}

func (s *server) handleListWorkflows(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Workflows())
}

func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.registry.Workflow(id); !ok {
		writeMessage(w, http.StatusNotFound, "workflow not found")
		return
	}
	runs, err := s.engine.ListRuns(r.Context(), id)
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": runs})
}

func (s *server) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Context map[string]any `json:"context"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	run, err := s.registry.Fire(r.Context(), r.PathValue("id"), body.Context)
	var engineErr *graph.EngineError
	switch {
	case errors.Is(err, trigger.ErrUnknownWorkflow):
		writeMessage(w, http.StatusNotFound, "workflow not found")
		return
	case errors.As(err, &engineErr):
		writeMessage(w, http.StatusBadRequest, engineErr.Error())
		return
	case err != nil:
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"runId": run.ID, "status": run.Status()})
}

func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runId":   rec.ID,
		"logs":    rec.Logs,
		"status":  rec.Status,
		"context": rec.Context,
	})
}

func (s *server) lookupRun(w http.ResponseWriter, r *http.Request) (graph.RunRecord, bool) {
	rec, err := s.engine.Run(r.Context(), r.PathValue("id"))
	if errors.Is(err, graph.ErrRunNotFound) {
		writeMessage(w, http.StatusNotFound, "run not found")
		return rec, false
	}
	if err != nil {
		s.internalError(w, err)
		return rec, false
	}
	return rec, true
}

func (s *server) handleRunNode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Node    *graph.Node    `json:"node"`
		Context map[string]any `json:"context"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Node == nil || body.Node.ID == "" || body.Node.Type == "" {
		writeMessage(w, http.StatusBadRequest, "node.id and node.type are required")
		return
	}
	writeJSON(w, http.StatusOK, s.engine.RunNode(r.Context(), *body.Node, body.Context))
}

func (s *server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if _, ok := s.registry.RouteWebhook(key); !ok {
		writeMessage(w, http.StatusNotFound, "webhook key not found")
		return
	}
	var payload any
	if err := decodeBody(w, r, &payload); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload == nil {
		payload = map[string]any{}
	}

	runs, err := s.registry.FireWebhook(r.Context(), key, trigger.Delivery{
		Payload: payload,
		Headers: flatten(r.Header, strings.ToLower),
		Query:   flatten(r.URL.Query(), nil),
	})
	if errors.Is(err, trigger.ErrUnknownWebhook) {
		writeMessage(w, http.StatusNotFound, "webhook key not found")
		return
	}
	if err != nil {
		s.logger.Error("webhook runs failed", "key", key, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "runs": runs})
}

func (s *server) internalError(w http.ResponseWriter, err error) {
	s.logger.Error("request failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"message": "Internal server error",
		"detail":  err.Error(),
	})
}

// decodeBody decodes a JSON request body into v. An empty body leaves v
// untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return errors.New("request body too large")
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

// flatten joins repeated values with ", ". Keys pass through key when set.
func flatten(values map[string][]string, key func(string) string) map[string]any {
	out := make(map[string]any, len(values))
	for k, vs := range values {
		if key != nil {
			k = key(k)
		}
		out[k] = strings.Join(vs, ", ")
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
