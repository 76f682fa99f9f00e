package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/tidwall/gjson"

	"github.com/dshills/nodeflow/graph/model"
)

type mockClient struct {
	message   string
	err       error
	callCount int
	params    anthropic.MessageNewParams
}

func (m *mockClient) createMessage(_ context.Context, _ model.Request, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	m.callCount++
	m.params = params
	if m.err != nil {
		return nil, m.err
	}
	var msg anthropic.Message
	if err := json.Unmarshal([]byte(m.message), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func TestProvider_Complete(t *testing.T) {
	t.Run("joins text blocks", func(t *testing.T) {
		mc := &mockClient{message: `{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-haiku",
			"content":[{"type":"text","text":"Paris"},{"type":"text","text":" is the capital."}],
			"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":5}}`}
		p := &Provider{client: mc}

		var delta string
		out, err := p.Complete(context.Background(), model.Request{
			Model: "claude-3-haiku",
			Parts: []model.Part{model.TextPart("capital of France?")},
		}, func(s string) { delta = s })
		if err != nil {
			t.Fatalf("Complete: %v", err)
		}
		if out.Text != "Paris is the capital." || delta != out.Text {
			t.Errorf("Text = %q, delta = %q", out.Text, delta)
		}
		if mc.callCount != 1 {
			t.Errorf("callCount = %d", mc.callCount)
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		mc := &mockClient{}
		p := &Provider{client: mc}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := p.Complete(ctx, model.Request{}, nil); !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
		if mc.callCount != 0 {
			t.Errorf("callCount = %d, want 0", mc.callCount)
		}
	})

	t.Run("passes through transport errors", func(t *testing.T) {
		boom := errors.New("dial tcp: refused")
		p := &Provider{client: &mockClient{err: boom}}
		if _, err := p.Complete(context.Background(), model.Request{}, nil); !errors.Is(err, boom) {
			t.Errorf("err = %v", err)
		}
	})
}

func TestParams(t *testing.T) {
	p := params(model.Request{
		Model: "claude-3-5-sonnet",
		Parts: []model.Part{
			model.TextPart("look"),
			model.ImagePart("data:image/png;base64,iVBORw=="),
			model.ImagePart("https://img/x.png"),
		},
	})
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	doc := gjson.ParseBytes(raw)
	if got := doc.Get("max_tokens").Int(); got != MaxTokens {
		t.Errorf("max_tokens = %d", got)
	}
	content := doc.Get("messages.0.content").Array()
	if len(content) != 3 {
		t.Fatalf("content = %s", doc.Get("messages.0.content").Raw)
	}
	if content[1].Get("type").String() != "image" || content[1].Get("source.media_type").String() != "image/png" {
		t.Errorf("image block = %s", content[1].Raw)
	}
	if content[2].Get("text").String() != "[image] https://img/x.png" {
		t.Errorf("remote image block = %s", content[2].Raw)
	}
}

func TestSplitDataURL(t *testing.T) {
	tests := []struct {
		in       string
		wantType string
		wantOK   bool
	}{
		{"data:image/jpeg;base64,AAAA", "image/jpeg", true},
		{"data:image/png,AAAA", "", false},
		{"https://x/y.png", "", false},
		{"data:;base64,AAAA", "", false},
	}
	for _, tt := range tests {
		mt, _, ok := splitDataURL(tt.in)
		if ok != tt.wantOK || mt != tt.wantType {
			t.Errorf("splitDataURL(%q) = %q, %v", tt.in, mt, ok)
		}
	}
}

func TestBaseURL(t *testing.T) {
	for in, want := range map[string]string{
		"":                             "",
		"https://api.anthropic.com/v1": "https://api.anthropic.com/",
		"https://proxy.test/":          "https://proxy.test/",
	} {
		if got := baseURL(in); got != want {
			t.Errorf("baseURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestProvider_HTTP(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		var gotPath, gotKey string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotKey = r.Header.Get("X-Api-Key")
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude",
				"content":[{"type":"text","text":"ok"}],"stop_reason":"end_turn",
				"usage":{"input_tokens":1,"output_tokens":1}}`)
		}))
		defer srv.Close()

		out, err := New(WithHTTPClient(srv.Client())).Complete(context.Background(), model.Request{
			Model:   "claude-3-haiku",
			BaseURL: srv.URL + "/v1",
			APIKey:  "ak",
			Parts:   []model.Part{model.TextPart("hi")},
		}, nil)
		if err != nil {
			t.Fatalf("Complete: %v", err)
		}
		if out.Text != "ok" {
			t.Errorf("Text = %q", out.Text)
		}
		if gotPath != "/v1/messages" || gotKey != "ak" {
			t.Errorf("path = %q key = %q", gotPath, gotKey)
		}
	})

	t.Run("error status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`)
		}))
		defer srv.Close()

		_, err := New().Complete(context.Background(), model.Request{
			Model:   "claude-3-haiku",
			BaseURL: srv.URL,
			APIKey:  "ak",
			Parts:   []model.Part{model.TextPart("hi")},
		}, nil)
		var callErr *model.CallError
		if !errors.As(err, &callErr) {
			t.Fatalf("err = %v, want *model.CallError", err)
		}
		if callErr.Status != http.StatusBadRequest || !strings.Contains(callErr.Body, "invalid_request_error") {
			t.Errorf("CallError = %+v", callErr)
		}
	})
}
