// Package anthropic implements model.Provider for the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/nodeflow/graph/model"
)

// MaxTokens caps each completion.
const MaxTokens = 4096

// Provider implements model.Provider for DialectAnthropic.
//
// Every request carries its own key and base URL, so a client is created per
// call. Images given as data: URLs are sent as base64 image blocks; remote
// image URLs are passed to the model as text.
//
// Example usage:
//
//	p := anthropic.New()
//	out, err := p.Complete(ctx, model.Request{
//	    Model:   "claude-3-5-sonnet-latest",
//	    BaseURL: "https://api.anthropic.com/v1",
//	    APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
//	    Parts:   []model.Part{model.TextPart("What is the capital of France?")},
//	}, nil)
type Provider struct {
	httpClient *http.Client
	client     messageClient
}

// messageClient is the subset of the SDK used here, so tests can stub it.
type messageClient interface {
	createMessage(ctx context.Context, req model.Request, params anthropic.MessageNewParams) (*anthropic.Message, error)
}

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient sets the HTTP client used by the SDK.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// New creates a Provider.
func New(opts ...Option) *Provider {
	p := &Provider{}
	for _, opt := range opts {
		opt(p)
	}
	p.client = &sdkClient{httpClient: p.httpClient}
	return p
}

// Complete implements model.Provider.
func (p *Provider) Complete(ctx context.Context, req model.Request, onDelta func(string)) (model.Response, error) {
	if ctx.Err() != nil {
		return model.Response{}, ctx.Err()
	}

	msg, err := p.client.createMessage(ctx, req, params(req))
	if err != nil {
		return model.Response{}, translateError(err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := sb.String()
	if onDelta != nil {
		onDelta(text)
	}
	return model.Response{Text: text}, nil
}

func params(req model.Request) anthropic.MessageNewParams {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(req.Parts))
	for _, part := range req.Parts {
		if part.Kind != model.PartImage {
			blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			continue
		}
		if mediaType, data, ok := splitDataURL(part.ImageURL); ok {
			blocks = append(blocks, anthropic.NewImageBlockBase64(mediaType, data))
			continue
		}
		blocks = append(blocks, anthropic.NewTextBlock("[image] "+part.ImageURL))
	}
	return anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: MaxTokens,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	}
}

// splitDataURL splits "data:<mime>;base64,<data>".
func splitDataURL(s string) (mediaType, data string, ok bool) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return "", "", false
	}
	meta, data, ok := strings.Cut(rest, ",")
	if !ok {
		return "", "", false
	}
	mediaType, ok = strings.CutSuffix(meta, ";base64")
	if !ok || mediaType == "" {
		return "", "", false
	}
	return mediaType, data, true
}

// baseURL converts an OpenAI style base URL (ending in /v1) into the root the
// SDK expects; the SDK adds the version segment itself.
func baseURL(raw string) string {
	if raw == "" {
		return ""
	}
	u := model.NormalizeBaseURL(raw)
	u = strings.TrimSuffix(u, "/v1")
	return u + "/"
}

func translateError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		body := apiErr.RawJSON()
		if body == "" {
			body = http.StatusText(apiErr.StatusCode)
		}
		return &model.CallError{Status: apiErr.StatusCode, Body: body}
	}
	return err
}

type sdkClient struct {
	httpClient *http.Client
}

func (c *sdkClient) createMessage(ctx context.Context, req model.Request, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(req.APIKey),
		option.WithMaxRetries(0),
	}
	if u := baseURL(req.BaseURL); u != "" {
		opts = append(opts, option.WithBaseURL(u))
	}
	if c.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(c.httpClient))
	}
	client := anthropic.NewClient(opts...)
	return client.Messages.New(ctx, params)
}
