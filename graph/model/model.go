// Package model adapts LLM node requests to the wire dialects spoken by
// hosted model providers.
//
// A node request is reduced to a flat, ordered list of content parts (text
// and images) plus the target model, base URL and API key. A Provider turns
// that request into a completion. Which Provider handles a request is decided
// by its Dialect:
//
//   - DialectChat: OpenAI compatible chat/completions, streamed over SSE
//   - DialectResponses: the responses endpoint used by Doubao (Volcengine Ark)
//   - DialectAnthropic: the Anthropic Messages API
//   - DialectGemini: the Google Gemini GenerateContent API
//
// Provider implementations live in the openai, anthropic and google
// subpackages. Router dispatches a request to the Provider registered for its
// dialect.
package model

import (
	"context"
	"errors"
	"fmt"
)

// Dialect names a provider wire protocol.
type Dialect string

// Supported dialects.
const (
	DialectChat      Dialect = "chat"
	DialectResponses Dialect = "responses"
	DialectAnthropic Dialect = "anthropic"
	DialectGemini    Dialect = "gemini"
)

// PartKind distinguishes content parts.
type PartKind string

// Content part kinds.
const (
	PartText  PartKind = "text"
	PartImage PartKind = "image"
)

// Part is one element of the user message content.
type Part struct {
	Kind PartKind
	// Text holds the part body for PartText.
	Text string
	// ImageURL holds a remote URL or a data: URL for PartImage.
	ImageURL string
}

// TextPart returns a text content part.
func TextPart(s string) Part { return Part{Kind: PartText, Text: s} }

// ImagePart returns an image content part.
func ImagePart(url string) Part { return Part{Kind: PartImage, ImageURL: url} }

// Request is a single user turn sent to a model.
type Request struct {
	Model   string
	BaseURL string
	APIKey  string
	Dialect Dialect
	Parts   []Part
}

// Response is the result of a completion.
type Response struct {
	// Text is the extracted completion text.
	Text string

	// Thinking and Answer are populated for models that return separate
	// reasoning and answer sections. Split reports whether they were.
	Thinking string
	Answer   string
	Split    bool

	// Streamed reports whether the text arrived as a stream of deltas.
	Streamed bool

	// Full is the decoded provider response body when the dialect exposes
	// one (DialectResponses), otherwise nil.
	Full any
}

// Provider completes requests for one or more dialects.
//
// onDelta, when non-nil, receives the accumulated text after every streamed
// fragment. Providers that do not stream call it at most once with the final
// text. On error the returned Response carries whatever text was accumulated
// before the failure.
type Provider interface {
	Complete(ctx context.Context, req Request, onDelta func(text string)) (Response, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, req Request, onDelta func(text string)) (Response, error)

// Complete implements Provider.
func (f ProviderFunc) Complete(ctx context.Context, req Request, onDelta func(text string)) (Response, error) {
	return f(ctx, req, onDelta)
}

// ErrNoProvider is returned by Router for a dialect with no registered provider.
var ErrNoProvider = errors.New("no provider registered for dialect")

// Router dispatches requests to the provider registered for their dialect.
type Router map[Dialect]Provider

// Complete implements Provider.
func (r Router) Complete(ctx context.Context, req Request, onDelta func(text string)) (Response, error) {
	p, ok := r[req.Dialect]
	if !ok || p == nil {
		return Response{}, fmt.Errorf("%w: %s", ErrNoProvider, req.Dialect)
	}
	return p.Complete(ctx, req, onDelta)
}

// CallError reports a non-2xx response from a provider.
type CallError struct {
	Status int
	Body   string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("LLM call failed: %d %s", e.Status, e.Body)
}
