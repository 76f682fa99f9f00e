package tool

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPTool_Name(t *testing.T) {
	if got := NewHTTPTool().Name(); got != "http_request" {
		t.Errorf("Name() = %q, want http_request", got)
	}
}

func TestHTTPTool_Call(t *testing.T) {
	tests := []struct {
		name        string
		input       map[string]any
		contentType string
		respBody    string
		status      int
		wantMethod  string
		wantReqBody string
		wantBody    any
	}{
		{
			name:        "GET decodes JSON",
			input:       map[string]any{},
			contentType: "application/json",
			respBody:    `{"message":"success"}`,
			status:      200,
			wantMethod:  "GET",
			wantBody:    map[string]any{"message": "success"},
		},
		{
			name:        "GET ignores body",
			input:       map[string]any{"body": `{"x":1}`},
			contentType: "text/plain",
			respBody:    "plain text",
			status:      200,
			wantMethod:  "GET",
			wantBody:    "plain text",
		},
		{
			name:        "PUT sends body",
			input:       map[string]any{"method": "put", "body": `{"x":1}`},
			contentType: "application/json",
			respBody:    `[1,2]`,
			status:      201,
			wantMethod:  "PUT",
			wantReqBody: `{"x":1}`,
			wantBody:    []any{1.0, 2.0},
		},
		{
			name:        "malformed JSON stays text",
			input:       map[string]any{},
			contentType: "application/json",
			respBody:    `{'a': 1,}`,
			status:      200,
			wantMethod:  "GET",
			wantBody:    `{'a': 1,}`,
		},
		{
			name:        "lenient JSON is repaired",
			input:       map[string]any{"lenientJSON": true},
			contentType: "application/json",
			respBody:    `{'a': 1,}`,
			status:      200,
			wantMethod:  "GET",
			wantBody:    map[string]any{"a": 1.0},
		},
		{
			name:        "error status is not an error",
			input:       map[string]any{"method": "DELETE"},
			contentType: "application/json",
			respBody:    `{"error":"gone"}`,
			status:      500,
			wantMethod:  "DELETE",
			wantBody:    map[string]any{"error": "gone"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotMethod, gotBody, gotCT string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotMethod = r.Method
				gotCT = r.Header.Get("Content-Type")
				b, _ := io.ReadAll(r.Body)
				gotBody = string(b)
				w.Header().Set("Content-Type", tt.contentType)
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.respBody)
			}))
			defer srv.Close()

			input := map[string]any{"url": srv.URL}
			for k, v := range tt.input {
				input[k] = v
			}
			result, err := NewHTTPTool().Call(context.Background(), input)
			if err != nil {
				t.Fatalf("Call() error = %v", err)
			}
			if gotMethod != tt.wantMethod {
				t.Errorf("method = %s, want %s", gotMethod, tt.wantMethod)
			}
			if gotBody != tt.wantReqBody {
				t.Errorf("request body = %q, want %q", gotBody, tt.wantReqBody)
			}
			if gotCT != "application/json" {
				t.Errorf("default content-type = %q", gotCT)
			}
			if result["status_code"] != float64(tt.status) {
				t.Errorf("status_code = %v, want %d", result["status_code"], tt.status)
			}
			if !equalJSON(result["body"], tt.wantBody) {
				t.Errorf("body = %#v, want %#v", result["body"], tt.wantBody)
			}
		})
	}
}

func TestHTTPTool_Headers(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Header().Add("X-Multi", "a")
		w.Header().Add("X-Multi", "b")
	}))
	defer srv.Close()

	result, err := NewHTTPTool(srv.Client()).Call(context.Background(), map[string]any{
		"url": srv.URL,
		"headers": map[string]any{
			"Authorization": "Bearer token",
			"Content-Type":  "text/plain",
			"X-Count":       3.0,
		},
	})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got.Get("Authorization") != "Bearer token" || got.Get("Content-Type") != "text/plain" || got.Get("X-Count") != "3" {
		t.Errorf("request headers = %v", got)
	}
	headers := result["headers"].(map[string]any)
	if multi, ok := headers["X-Multi"].([]any); !ok || len(multi) != 2 {
		t.Errorf("X-Multi = %#v", headers["X-Multi"])
	}
}

func TestHTTPTool_Markdown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, `<html><body><h1>Title</h1><p>Some <strong>bold</strong> text</p></body></html>`)
	}))
	defer srv.Close()

	result, err := NewHTTPTool().Call(context.Background(), map[string]any{"url": srv.URL, "as": "markdown"})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	md, _ := result["body"].(string)
	if !strings.Contains(md, "# Title") || !strings.Contains(md, "**bold**") {
		t.Errorf("markdown = %q", md)
	}
}

func TestHTTPTool_Errors(t *testing.T) {
	tool := NewHTTPTool()

	if _, err := tool.Call(context.Background(), map[string]any{}); !errors.Is(err, ErrMissingURL) {
		t.Errorf("missing url: err = %v", err)
	}
	if _, err := tool.Call(context.Background(), map[string]any{"url": "://bad"}); err == nil {
		t.Error("invalid url: expected error")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := tool.Call(ctx, map[string]any{"url": srv.URL}); err == nil {
		t.Error("timeout: expected error")
	}
}

func equalJSON(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			if !equalJSON(v, bv[k]) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !equalJSON(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
