package nodes

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/dshills/nodeflow/graph/ctxpath"
)

// httpRequest calls config.url and publishes the decoded body and status.
// The url, string header values and body are templates rendered against the
// context; a body is only sent for methods other than GET.
func (e *Executor) httpRequest(ctx context.Context, c *Call) (Outputs, error) {
	url := c.Doc.Render(c.String("url"))
	method := strings.ToUpper(c.String("method"))
	if method == "" {
		method = http.MethodGet
	}
	input := map[string]any{
		"url":    url,
		"method": method,
	}
	if headers, ok := c.Config["headers"].(map[string]any); ok {
		rendered := make(map[string]any, len(headers))
		for k, v := range headers {
			if s, ok := v.(string); ok {
				v = c.Doc.Render(s)
			}
			rendered[k] = v
		}
		input["headers"] = rendered
	}
	if body := c.Config["body"]; truthy(body) {
		input["body"] = c.Doc.Render(ctxpath.MarshalText(body))
	}
	if truthy(c.Config["lenientJSON"]) {
		input["lenientJSON"] = true
	}
	if as := c.String("as"); as != "" {
		input["as"] = as
	}

	res, err := e.http.Call(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("http %s %s: %w", method, url, err)
	}
	data := res["body"]
	path := c.OutputPath("vars." + c.Node.ID + ".response")
	c.Doc.Set(path, data)
	c.Infof("http %s %s -> %s", method, url, path)
	return Outputs{
		"response": data,
		"body":     data,
		"status":   res["status_code"],
	}, nil
}
