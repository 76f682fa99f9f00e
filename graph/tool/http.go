package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/dshills/nodeflow/graph/ctxpath"
)

// ErrMissingURL is returned when the url parameter is absent or empty.
var ErrMissingURL = errors.New("url parameter required (string)")

// HTTPTool performs a single HTTP request.
//
// Input Parameters:
//   - url: Target URL (required)
//   - method: HTTP method, defaults to "GET"
//   - headers: map of request headers merged over content-type: application/json
//   - body: request body as a string, ignored for GET
//   - lenientJSON: repair malformed JSON bodies before decoding
//   - as: "markdown" converts an HTML response body to Markdown
//
// Output:
//   - status_code: HTTP status code
//   - headers: response headers, single values flattened
//   - body: the decoded JSON document when the body parses, otherwise the text
//
// Example usage:
//
//	t := NewHTTPTool()
//	result, err := t.Call(ctx, map[string]any{
//	    "method": "POST",
//	    "url":    "https://api.example.com/items",
//	    "body":   `{"name":"x"}`,
//	})
type HTTPTool struct {
	client *http.Client
}

// NewHTTPTool creates an HTTP tool. A nil client uses http.DefaultClient.
func NewHTTPTool(client ...*http.Client) *HTTPTool {
	t := &HTTPTool{client: http.DefaultClient}
	if len(client) > 0 && client[0] != nil {
		t.client = client[0]
	}
	return t
}

// Name returns the tool identifier.
func (h *HTTPTool) Name() string {
	return "http_request"
}

// Call executes an HTTP request with the provided parameters.
func (h *HTTPTool) Call(ctx context.Context, input map[string]any) (map[string]any, error) {
	urlStr, ok := input["url"].(string)
	if !ok || urlStr == "" {
		return nil, ErrMissingURL
	}

	method := http.MethodGet
	if m, ok := input["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}

	var body io.Reader
	if s, ok := input["body"].(string); ok && method != http.MethodGet {
		body = strings.NewReader(s)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if headers, ok := input["headers"].(map[string]any); ok {
		for key, value := range headers {
			req.Header.Set(key, ctxpath.ToText(value))
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	respHeaders := make(map[string]any, len(resp.Header))
	for key, values := range resp.Header {
		if len(values) == 1 {
			respHeaders[key] = values[0]
		} else {
			list := make([]any, len(values))
			for i, v := range values {
				list[i] = v
			}
			respHeaders[key] = list
		}
	}

	lenient, _ := input["lenientJSON"].(bool)
	as, _ := input["as"].(string)
	data, err := decodeBody(raw, resp.Header.Get("Content-Type"), lenient, as)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"status_code": float64(resp.StatusCode),
		"headers":     respHeaders,
		"body":        data,
	}, nil
}

// decodeBody returns the JSON value of raw when it parses, else its text.
func decodeBody(raw []byte, contentType string, lenient bool, as string) (any, error) {
	text := string(raw)
	if strings.EqualFold(as, "markdown") {
		if !strings.Contains(strings.ToLower(contentType), "html") && !looksLikeHTML(text) {
			return text, nil
		}
		md, err := htmltomarkdown.ConvertString(text)
		if err != nil {
			return nil, fmt.Errorf("convert html to markdown: %w", err)
		}
		return md, nil
	}

	if lenient {
		if v, _, err := ctxpath.DecodeLenient(raw); err == nil {
			return v, nil
		}
		return text, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return text, nil
	}
	return v, nil
}

func looksLikeHTML(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.HasPrefix(s, "<!doctype html") || strings.HasPrefix(s, "<html")
}
