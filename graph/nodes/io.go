package nodes

import (
	"context"
	"strconv"
	"strings"

	"github.com/dshills/nodeflow/graph/ctxpath"
)

// previewLimit caps the source preview logged when a field path misses.
const previewLimit = 100

func (e *Executor) textInput(_ context.Context, c *Call) (Outputs, error) {
	value, ok := c.Config["value"]
	if !ok || value == nil {
		value = ""
	}
	path := c.OutputPath("vars." + c.Node.ID + ".text")
	c.Doc.Set(path, value)
	c.Infof("text-input -> %s", path)
	return Outputs{"text": value}, nil
}

func (e *Executor) imageInput(_ context.Context, c *Call) (Outputs, error) {
	images, ok := c.Config["images"].([]any)
	if !ok {
		images = []any{}
	}
	path := c.OutputPath("vars." + c.Node.ID + ".images")
	c.Doc.Set(path, images)
	c.Infof("image-input -> %s (%d images)", path, len(images))
	return Outputs{"images": images}, nil
}

// textOutput renders every input source as a text block. Blocks are
// published on text-<i>; their non-empty join is the node's value.
func (e *Executor) textOutput(_ context.Context, c *Call) (Outputs, error) {
	out := Outputs{}
	var blocks []string
	for i, s := range parseSources(c.Config["inputSources"]) {
		port := "text-" + strconv.Itoa(i)
		if s == nil {
			out[port] = ""
			continue
		}
		var (
			v     any
			found bool
		)
		switch {
		case s.Mode == modeConst:
			v, found = s.fallback()
		case s.linked():
			raw, rawFound := s.port(c.Doc)
			v, found = s.follow(raw, rawFound)
			if !found && s.Path != "" {
				c.Infof("Field path %q failed. Source value type: %s, isString: %t, preview: %s",
					s.Path, kindOf(raw, rawFound), isString(raw), preview(raw, rawFound))
			}
		}
		if !found {
			v, _ = s.fallback()
		}
		block := formatTextBlock(v, s.format())
		out[port] = block
		if block != "" {
			blocks = append(blocks, block)
		}
	}

	var value any = strings.Join(blocks, "\n\n")
	if len(blocks) == 0 {
		if text, ok := c.Input("text"); ok {
			value = text
		} else if v, ok := c.Config["value"]; ok && v != nil {
			value = v
		} else {
			value = ""
		}
	}
	path := c.OutputPath("vars.output.text")
	c.Doc.Set(path, value)
	out["out"] = value
	c.Infof("text-output -> %s", path)
	return out, nil
}

// formatTextBlock renders v as text, fencing it for the code format.
func formatTextBlock(v any, format string) string {
	text := ctxpath.ToText(v)
	if format == "code" {
		return "```\n" + text + "\n```"
	}
	return text
}

// imageOutput gathers image URLs per input source. A source yielding several
// URLs publishes a list on its image-<i> port, otherwise a single string.
func (e *Executor) imageOutput(_ context.Context, c *Call) (Outputs, error) {
	out := Outputs{}
	images := []any{}
	for i, s := range parseSources(c.Config["inputSources"]) {
		if s == nil {
			continue
		}
		var urls []string
		switch {
		case s.Mode == modeConst:
			v, _ := s.fallback()
			urls = extractImageURLs(v)
		case s.Mode == modeAll:
			for _, ref := range s.Refs {
				if ref.NodeID == "" || ref.PortID == "" {
					continue
				}
				v, ok := c.Doc.Get("_outputs." + ref.NodeID + "." + ref.PortID)
				v, ok = s.follow(v, ok)
				if ok {
					urls = append(urls, extractImageURLs(v)...)
				}
			}
			if len(urls) == 0 {
				v, _ := s.fallback()
				urls = extractImageURLs(v)
			}
		case s.linked():
			v, ok := s.follow(s.port(c.Doc))
			if !ok {
				v, _ = s.fallback()
			}
			urls = extractImageURLs(v)
		default:
			v, _ := s.fallback()
			urls = extractImageURLs(v)
		}

		for _, u := range urls {
			images = append(images, u)
		}
		port := "image-" + strconv.Itoa(i)
		switch len(urls) {
		case 0:
			out[port] = ""
		case 1:
			out[port] = urls[0]
		default:
			list := make([]any, len(urls))
			for j, u := range urls {
				list[j] = u
			}
			out[port] = list
		}
	}
	path := c.OutputPath("vars.output.images")
	c.Doc.Set(path, images)
	c.Infof("image-output -> %s", path)
	return out, nil
}

// subject picks the value end and display nodes operate on: the data input,
// else config.dataPath, else the whole context.
func subject(c *Call) any {
	if v, ok := c.Input("data"); ok {
		return v
	}
	if p := c.String("dataPath"); p != "" {
		v, _ := c.Doc.Get(p)
		return v
	}
	return c.Doc.Snapshot()
}

func (e *Executor) end(_ context.Context, c *Call) (Outputs, error) {
	value := subject(c)
	path := c.OutputPath("vars.output")
	c.Doc.Set(path, value)
	c.Infof("end -> %s", path)
	return Outputs{"out": value}, nil
}

func (e *Executor) logMessage(_ context.Context, c *Call) (Outputs, error) {
	var message string
	if v, ok := c.Input("data"); ok {
		message = ctxpath.ToText(v)
	} else {
		message = c.Doc.Render(c.String("message"))
	}
	c.Infof("%s", message)
	return nil, nil
}

func (e *Executor) display(_ context.Context, c *Call) (Outputs, error) {
	c.Infof("%s", ctxpath.FormatLogValue(subject(c)))
	return nil, nil
}

// kindOf names the JSON kind of v for diagnostics.
func kindOf(v any, found bool) string {
	if !found {
		return "undefined"
	}
	switch v.(type) {
	case string:
		return "string"
	case float64, int, int64:
		return "number"
	case bool:
		return "boolean"
	}
	return "object"
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}

func preview(v any, found bool) string {
	if !found {
		return "undefined"
	}
	if s, ok := v.(string); ok {
		return truncateRunes(s, previewLimit)
	}
	return truncateRunes(ctxpath.MarshalText(v), previewLimit)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
