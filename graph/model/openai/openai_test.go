package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dshills/nodeflow/graph/model"
)

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func request(srv *httptest.Server, dialect model.Dialect, modelName string) model.Request {
	return model.Request{
		Model:   modelName,
		BaseURL: srv.URL + "/v1",
		APIKey:  "sk-test",
		Dialect: dialect,
		Parts:   []model.Part{model.TextPart("hi"), model.ImagePart("https://img/x.png")},
	}
}

func TestChatStreaming(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)

		w.Header().Set("Content-Type", "text/event-stream")
		frames := []string{
			`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
			`data: {not json`,
			`: keep-alive`,
			`data: {"choices":[{"delta":{}}]}`,
			`data: {"choices":[{"delta":{"content":"lo"}}]}`,
			`data: [DONE]`,
		}
		for _, f := range frames {
			_, _ = io.WriteString(w, f+"\n\n")
		}
	})

	var deltas []string
	out, err := New().Complete(context.Background(), request(srv, model.DialectChat, "gpt-4o"), func(s string) {
		deltas = append(deltas, s)
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out.Text != "Hello" {
		t.Errorf("Text = %q, want Hello", out.Text)
	}
	if strings.Join(deltas, "|") != "Hel|Hello" {
		t.Errorf("deltas = %v", deltas)
	}
	if gotPath != "/v1/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBody["stream"] != true {
		t.Errorf("stream flag missing: %v", gotBody)
	}
	msgs, _ := gotBody["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("messages = %v", gotBody["messages"])
	}
	content := msgs[0].(map[string]any)["content"].([]any)
	if content[1].(map[string]any)["type"] != "image_url" {
		t.Errorf("image part = %v", content[1])
	}
}

func TestChatStreamingFraming(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "named events and split data lines",
			body: "event: chunk\ndata: {\"choices\":[{\"delta\":\ndata: {\"content\":\"a\"}}]}\n\n" +
				"data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n\n",
			want: "ab",
		},
		{
			name: "frames after done are ignored",
			body: "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\ndata: [DONE]\n\n" +
				"data: {\"choices\":[{\"delta\":{\"content\":\"y\"}}]}\n\n",
			want: "x",
		},
		{
			name: "stream ends without done",
			body: ": open\n\ndata: {\"choices\":[{\"delta\":{\"content\":\"z\"}}]}\n\n",
			want: "z",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
				_, _ = io.WriteString(w, tt.body)
			})
			out, err := New().Complete(context.Background(), request(srv, model.DialectChat, "gpt-4o"), func(string) {})
			if err != nil {
				t.Fatalf("Complete: %v", err)
			}
			if out.Text != tt.want || !out.Streamed {
				t.Errorf("out = %+v, want text %q", out, tt.want)
			}
		})
	}
}

func TestChatNonStreamedBody(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"openai shape", `{"choices":[{"message":{"content":"plain"}}]}`, "plain"},
		{"content field", `{"content":"direct"}`, "direct"},
		{"repaired json", `{'content': 'lenient',}`, "lenient"},
		{"unknown shape", `{"other":1}`, `{"other":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = io.WriteString(w, tt.body)
			})
			out, err := New().Complete(context.Background(), request(srv, model.DialectChat, "gpt-4o"), nil)
			if err != nil {
				t.Fatalf("Complete: %v", err)
			}
			if out.Text != tt.want {
				t.Errorf("Text = %q, want %q", out.Text, tt.want)
			}
		})
	}
}

func TestErrorStatus(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key"}}`)
	})
	_, err := New().Complete(context.Background(), request(srv, model.DialectChat, "gpt-4o"), nil)
	var callErr *model.CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("err = %v, want *model.CallError", err)
	}
	if callErr.Status != http.StatusUnauthorized {
		t.Errorf("Status = %d", callErr.Status)
	}
	if !strings.Contains(callErr.Error(), "LLM call failed: 401") {
		t.Errorf("Error() = %q", callErr.Error())
	}
}

func TestResponsesDialect(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"output":[
			{"type":"reasoning","summary":[{"type":"summary_text","text":"step one"},{"type":"summary_text","text":"step two"}]},
			{"type":"message","content":[{"type":"output_text","text":"42"}]}
		]}`)
	})

	var last string
	out, err := New().Complete(context.Background(), request(srv, model.DialectResponses, "doubao-seed-1-8-251215"), func(s string) { last = s })
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if gotPath != "/v1/responses" {
		t.Errorf("path = %q", gotPath)
	}
	if _, ok := gotBody["stream"]; ok {
		t.Errorf("responses payload must not stream: %v", gotBody)
	}
	if out.Text != "42" || last != "42" {
		t.Errorf("Text = %q, last delta = %q", out.Text, last)
	}
	if !out.Split || out.Thinking != "step one\n\nstep two" || out.Answer != "42" {
		t.Errorf("split = %v thinking = %q answer = %q", out.Split, out.Thinking, out.Answer)
	}
	if _, ok := out.Full.(map[string]any); !ok {
		t.Errorf("Full = %T", out.Full)
	}
}

func TestParseResponsesShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"output string", `{"output":"a"}`, "a"},
		{"output text", `{"output":{"text":"b"}}`, "b"},
		{"output content", `{"output":{"content":"c"}}`, "c"},
		{"message output_text", `{"output":[{"type":"message","content":[{"type":"refusal"},{"type":"output_text","text":"d"}]}]}`, "d"},
		{"first item string", `{"output":["e"]}`, "e"},
		{"first item content", `{"output":[{"content":[{"text":"f"}]}]}`, "f"},
		{"top level text", `{"text":"g"}`, "g"},
		{"top level message", `{"message":"h"}`, "h"},
		{"response string", `{"response":"i"}`, "i"},
		{"response output text", `{"response":{"output":{"text":"j"}}}`, "j"},
		{"fallback", `{"x":1}`, "{\n  \"x\": 1\n}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := parseResponses([]byte(tt.body), false)
			if out.Text != tt.want {
				t.Errorf("Text = %q, want %q", out.Text, tt.want)
			}
			if out.Split {
				t.Error("Split set without split mode")
			}
		})
	}
}

func TestChatDelta(t *testing.T) {
	if _, ok := chatDelta(`{"choices":[]}`); ok {
		t.Error("empty choices produced a delta")
	}
	if _, ok := chatDelta(`garbage`); ok {
		t.Error("invalid JSON produced a delta")
	}
	if got, ok := chatDelta(`{"choices":[{"delta":{"content":"x"}}]}`); !ok || got != "x" {
		t.Errorf("chatDelta = %q, %v", got, ok)
	}
}
