package nodes

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/dshills/nodeflow/graph"
	"github.com/dshills/nodeflow/graph/tool"
)

func TestHTTPNode(t *testing.T) {
	var gotMethod, gotBody, gotHeader, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Get("X-Token")
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 7, "path": r.URL.Path})
	}))
	defer srv.Close()

	e := newTestExecutor(t, WithHTTPTool(tool.NewHTTPTool(srv.Client())))
	n := graph.Node{ID: "h", Type: graph.TypeHTTP, Name: "Call", Config: map[string]any{
		"url":     srv.URL + "/items/{{vars.item}}",
		"method":  "post",
		"headers": map[string]any{"X-Token": "secret", "Authorization": "Bearer {{vars.token}}"},
		"body":    map[string]any{"name": "{{vars.item}}"},
	}}
	store, log, _, err := execNode(t, e, n, map[string]any{"vars": map[string]any{"item": "abc", "token": "t0k"}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotAuth != "Bearer t0k" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer t0k")
	}

	if gotMethod != http.MethodPost || gotHeader != "secret" || gotBody != `{"name":"abc"}` {
		t.Errorf("request = %s %q %q", gotMethod, gotHeader, gotBody)
	}
	want := map[string]any{"id": 7.0, "path": "/items/abc"}
	for _, path := range []string{"_outputs.h.response", "_outputs.h.body", "vars.h.response"} {
		if got := mustGet(t, store, path); !reflect.DeepEqual(got, want) {
			t.Errorf("%s = %v, want %v", path, got, want)
		}
	}
	if got := mustGet(t, store, "_outputs.h.status"); got != 201.0 {
		t.Errorf("status = %v", got)
	}
	if !log.has("info [Call] http POST " + srv.URL + "/items/abc -> vars.h.response") {
		t.Errorf("log = %v", log.lines)
	}
}

func TestHTTPNode_GetSendsNoBody(t *testing.T) {
	var gotLen int64 = -2
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLen = r.ContentLength
		_, _ = w.Write([]byte("plain text"))
	}))
	defer srv.Close()

	e := newTestExecutor(t, WithHTTPTool(tool.NewHTTPTool(srv.Client())))
	n := graph.Node{ID: "h", Type: graph.TypeHTTP, Config: map[string]any{
		"url":  srv.URL,
		"body": map[string]any{"ignored": true},
	}}
	store, _, _, err := execNode(t, e, n, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotLen > 0 {
		t.Errorf("GET carried a body of %d bytes", gotLen)
	}
	if got := mustGet(t, store, "_outputs.h.body"); got != "plain text" {
		t.Errorf("body = %v", got)
	}
}

func TestHTTPNode_ToolError(t *testing.T) {
	mock := &tool.MockTool{ToolName: "http_request", Err: errors.New("refused")}
	e := newTestExecutor(t, WithHTTPTool(mock))
	n := graph.Node{ID: "h", Type: graph.TypeHTTP, Config: map[string]any{"url": "http://x"}}
	if _, _, _, err := execNode(t, e, n, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestSaveFile(t *testing.T) {
	dir := t.TempDir()
	e := newTestExecutor(t, WithUploadDir(dir))

	t.Run("file node", func(t *testing.T) {
		n := graph.Node{ID: "f", Type: graph.TypeFile, Name: "Save", Config: map[string]any{
			"filename":        "reports/out.txt",
			"contentTemplate": "Hello {{vars.who}}",
		}}
		store, log, _, err := execNode(t, e, n, map[string]any{"vars": map[string]any{"who": "Ada"}})
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		target := filepath.Join(dir, "reports", "out.txt")
		raw, err := os.ReadFile(target)
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		if string(raw) != "Hello Ada" {
			t.Errorf("content = %q", raw)
		}
		want := map[string]any{"path": target, "url": "/uploads/reports/out.txt"}
		if got := mustGet(t, store, "_outputs.f.file"); !reflect.DeepEqual(got, want) {
			t.Errorf("file = %v, want %v", got, want)
		}
		if !log.has("info [Save] file saved -> vars.f.file") {
			t.Errorf("log = %v", log.lines)
		}
	})

	t.Run("save-file uses the result port and mapped inputs", func(t *testing.T) {
		n := graph.Node{ID: "sf", Type: graph.TypeSaveFile, Config: map[string]any{
			"inputMap": map[string]any{
				"content": map[string]any{"mode": "const", "defaultValue": `{"a":1}`},
				"path":    map[string]any{"mode": "const", "defaultValue": "data.json"},
			},
		}}
		store, _, _, err := execNode(t, e, n, nil)
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		raw, err := os.ReadFile(filepath.Join(dir, "data.json"))
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		if string(raw) != `{"a":1}` {
			t.Errorf("content = %q", raw)
		}
		if _, ok := store.Get("_outputs.sf.result"); !ok {
			t.Error("result port not written")
		}
	})

	t.Run("generated name", func(t *testing.T) {
		store, _, _, err := execNode(t, e, graph.Node{ID: "g", Type: graph.TypeFile}, nil)
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if got := mustGet(t, store, "vars.g.file.url"); got != "/uploads/g-18df906f800.txt" {
			t.Errorf("url = %v", got)
		}
	})

	for _, name := range []string{"../escape.txt", "a/../../escape.txt", "/etc/passwd", ".."} {
		t.Run("rejects "+name, func(t *testing.T) {
			n := graph.Node{ID: "f", Type: graph.TypeFile, Config: map[string]any{"filename": name}}
			if _, _, _, err := execNode(t, e, n, nil); !errors.Is(err, ErrUnsafeFilename) {
				t.Errorf("err = %v, want ErrUnsafeFilename", err)
			}
		})
	}
}
