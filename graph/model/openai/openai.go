// Package openai implements the chat and responses dialects on top of the
// official openai-go client.
//
// Both dialects are sent as raw requests through the client so that
// OpenAI compatible gateways with slightly different payloads still work:
// the chat dialect streams over SSE and tolerates malformed frames, the
// responses dialect extracts its text from whichever of the known response
// shapes the gateway returns.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/option"

	"github.com/dshills/nodeflow/graph/ctxpath"
	"github.com/dshills/nodeflow/graph/model"
)

// Provider implements model.Provider for DialectChat and DialectResponses.
//
// A client is built per request because every node carries its own base URL
// and key. The provider itself is stateless and safe for concurrent use.
//
// Example usage:
//
//	p := openai.New()
//	out, err := p.Complete(ctx, model.Request{
//	    Model:   "gpt-4o-mini",
//	    BaseURL: "https://api.openai.com/v1",
//	    APIKey:  os.Getenv("OPENAI_API_KEY"),
//	    Dialect: model.DialectChat,
//	    Parts:   []model.Part{model.TextPart("Hello")},
//	}, func(text string) { fmt.Print("\r", text) })
type Provider struct {
	httpClient *http.Client
}

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// New creates a Provider.
func New(opts ...Option) *Provider {
	p := &Provider{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Complete implements model.Provider.
func (p *Provider) Complete(ctx context.Context, req model.Request, onDelta func(string)) (model.Response, error) {
	if onDelta == nil {
		onDelta = func(string) {}
	}
	if req.Dialect == model.DialectResponses {
		return p.responses(ctx, req, onDelta)
	}
	return p.chat(ctx, req, onDelta)
}

func (p *Provider) client(req model.Request) openai.Client {
	opts := []option.RequestOption{
		option.WithBaseURL(model.NormalizeBaseURL(req.BaseURL) + "/"),
		option.WithAPIKey(req.APIKey),
		option.WithMaxRetries(0),
	}
	if p.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(p.httpClient))
	}
	return openai.NewClient(opts...)
}

// post sends payload and returns the raw response with its body unread.
func (p *Provider) post(ctx context.Context, req model.Request, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	client := p.client(req)
	var res *http.Response
	if err := client.Post(ctx, path, json.RawMessage(body), &res); err != nil {
		return nil, translateError(err)
	}
	if res == nil {
		return nil, errors.New("LLM call failed: empty response")
	}
	return res, nil
}

func (p *Provider) chat(ctx context.Context, req model.Request, onDelta func(string)) (model.Response, error) {
	res, err := p.post(ctx, req, "chat/completions", chatPayload(req))
	if err != nil {
		return model.Response{}, err
	}
	defer func() { _ = res.Body.Close() }()

	if !strings.Contains(res.Header.Get("Content-Type"), "text/event-stream") {
		body, err := io.ReadAll(res.Body)
		if err != nil {
			return model.Response{}, fmt.Errorf("read response: %w", err)
		}
		text := chatText(body)
		onDelta(text)
		return model.Response{Text: text}, nil
	}

	var acc strings.Builder
	stream := ssestream.NewDecoder(res)
	defer func() { _ = stream.Close() }()
	for stream.Next() {
		data := strings.TrimSpace(string(stream.Event().Data))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			break
		}
		delta, ok := chatDelta(data)
		if !ok {
			continue
		}
		acc.WriteString(delta)
		onDelta(acc.String())
	}
	if err := stream.Err(); err != nil {
		return model.Response{Text: acc.String(), Streamed: true}, fmt.Errorf("read event stream: %w", err)
	}
	return model.Response{Text: acc.String(), Streamed: true}, nil
}

func (p *Provider) responses(ctx context.Context, req model.Request, onDelta func(string)) (model.Response, error) {
	res, err := p.post(ctx, req, "responses", responsesPayload(req))
	if err != nil {
		return model.Response{}, err
	}
	defer func() { _ = res.Body.Close() }()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return model.Response{}, fmt.Errorf("read response: %w", err)
	}
	out := parseResponses(body, model.SplitsReasoning(req.Model))
	onDelta(out.Text)
	return out, nil
}

func translateError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		body := apiErr.RawJSON()
		if body == "" {
			body = http.StatusText(apiErr.StatusCode)
		}
		return &model.CallError{Status: apiErr.StatusCode, Body: body}
	}
	return err
}

func chatPayload(req model.Request) map[string]any {
	content := make([]any, 0, len(req.Parts))
	for _, part := range req.Parts {
		switch part.Kind {
		case model.PartImage:
			content = append(content, map[string]any{
				"type":      "image_url",
				"image_url": map[string]any{"url": part.ImageURL},
			})
		default:
			content = append(content, map[string]any{"type": "text", "text": part.Text})
		}
	}
	return map[string]any{
		"model":    req.Model,
		"messages": []any{map[string]any{"role": "user", "content": content}},
		"stream":   true,
	}
}

func responsesPayload(req model.Request) map[string]any {
	content := make([]any, 0, len(req.Parts))
	for _, part := range req.Parts {
		switch part.Kind {
		case model.PartImage:
			content = append(content, map[string]any{"type": "input_image", "image_url": part.ImageURL})
		default:
			content = append(content, map[string]any{"type": "input_text", "text": part.Text})
		}
	}
	return map[string]any{
		"model": req.Model,
		"input": []any{map[string]any{"role": "user", "content": content}},
	}
}

// chatText extracts the completion from a non-streamed chat response.
func chatText(body []byte) string {
	decoded, raw, err := ctxpath.DecodeLenient(body)
	if err != nil {
		return string(body)
	}
	if s, ok := decoded.(string); ok {
		return s
	}
	root := parse(raw)
	for _, path := range []string{"choices.0.message.content", "content"} {
		if r := root.Get(path); truthy(r) {
			return valueText(r)
		}
	}
	return ctxpath.MarshalText(decoded)
}
