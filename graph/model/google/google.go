// Package google implements model.Provider for the Gemini GenerateContent API.
package google

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/dshills/nodeflow/graph/model"
)

// Provider implements model.Provider for DialectGemini.
//
// Example usage:
//
//	p := google.New()
//	out, err := p.Complete(ctx, model.Request{
//	    Model:  "gemini-1.5-flash",
//	    APIKey: os.Getenv("GEMINI_API_KEY"),
//	    Parts:  []model.Part{model.TextPart("Summarize this")},
//	}, nil)
type Provider struct {
	client contentClient
}

// contentClient isolates the SDK so tests can stub it.
type contentClient interface {
	generateContent(ctx context.Context, req model.Request, parts []genai.Part) (*genai.GenerateContentResponse, error)
}

// New creates a Provider backed by the genai SDK.
func New() *Provider {
	return &Provider{client: sdkClient{}}
}

// SafetyFilterError reports a prompt or completion blocked by Gemini's
// safety filters.
type SafetyFilterError struct {
	Reason string
}

func (e *SafetyFilterError) Error() string {
	return "content blocked by safety filter: " + e.Reason
}

// Complete implements model.Provider.
func (p *Provider) Complete(ctx context.Context, req model.Request, onDelta func(string)) (model.Response, error) {
	if ctx.Err() != nil {
		return model.Response{}, ctx.Err()
	}

	resp, err := p.client.generateContent(ctx, req, convertParts(req.Parts))
	if err != nil {
		return model.Response{}, translateError(err)
	}

	text := responseText(resp)
	if onDelta != nil {
		onDelta(text)
	}
	return model.Response{Text: text}, nil
}

// convertParts maps content parts to genai parts. data: URL images become
// inline blobs; remote image URLs are referenced in text.
func convertParts(parts []model.Part) []genai.Part {
	out := make([]genai.Part, 0, len(parts))
	for _, p := range parts {
		if p.Kind != model.PartImage {
			out = append(out, genai.Text(p.Text))
			continue
		}
		if blob, ok := decodeDataURL(p.ImageURL); ok {
			out = append(out, blob)
			continue
		}
		out = append(out, genai.Text("[image] "+p.ImageURL))
	}
	return out
}

func decodeDataURL(s string) (genai.Blob, bool) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return genai.Blob{}, false
	}
	meta, data, ok := strings.Cut(rest, ",")
	if !ok {
		return genai.Blob{}, false
	}
	mimeType, ok := strings.CutSuffix(meta, ";base64")
	if !ok || mimeType == "" {
		return genai.Blob{}, false
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return genai.Blob{}, false
	}
	return genai.Blob{MIMEType: mimeType, Data: raw}, true
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String()
}

func translateError(err error) error {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		reason := "unknown"
		switch {
		case blocked.PromptFeedback != nil:
			reason = blocked.PromptFeedback.BlockReason.String()
		case blocked.Candidate != nil:
			reason = blocked.Candidate.FinishReason.String()
		}
		return &SafetyFilterError{Reason: reason}
	}
	return err
}

type sdkClient struct{}

func (sdkClient) generateContent(ctx context.Context, req model.Request, parts []genai.Part) (*genai.GenerateContentResponse, error) {
	if req.APIKey == "" {
		return nil, errors.New("google API key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(req.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create Google client: %w", err)
	}
	defer func() { _ = client.Close() }()

	return client.GenerativeModel(req.Model).GenerateContent(ctx, parts...)
}
