package openai

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/dshills/nodeflow/graph/ctxpath"
	"github.com/dshills/nodeflow/graph/model"
)

func parse(raw []byte) gjson.Result {
	return gjson.ParseBytes(raw)
}

// truthy mirrors how loosely typed gateway fields are read: missing, null, false,
// zero and the empty string all count as absent.
func truthy(r gjson.Result) bool {
	if !r.Exists() {
		return false
	}
	switch r.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.Number:
		return r.Num != 0
	case gjson.String:
		return r.Str != ""
	default:
		return true
	}
}

// valueText renders a field as text: strings verbatim, anything else as JSON.
func valueText(r gjson.Result) string {
	if r.Type == gjson.String {
		return r.Str
	}
	return r.Raw
}

// chatDelta extracts choices[0].delta.content from one stream frame.
func chatDelta(data string) (string, bool) {
	if !gjson.Valid(data) {
		return "", false
	}
	r := gjson.Get(data, "choices.0.delta.content")
	if r.Type != gjson.String || r.Str == "" {
		return "", false
	}
	return r.Str, true
}

// parseResponses turns a responses dialect body into a model.Response.
func parseResponses(body []byte, split bool) model.Response {
	full, raw, err := ctxpath.DecodeLenient(body)
	if err != nil {
		return model.Response{Text: string(body), Full: string(body)}
	}
	root := parse(raw)

	out := model.Response{Full: full}
	if r, ok := responsesText(root); ok {
		out.Text = valueText(r)
	} else {
		out.Text = ctxpath.MarshalIndent(full)
	}
	if split && root.Get("output").IsArray() {
		out.Thinking, out.Answer = splitReasoning(root.Get("output"))
		out.Split = true
	}
	return out
}

// responsesText walks the known response shapes in order of preference.
func responsesText(root gjson.Result) (gjson.Result, bool) {
	output := root.Get("output")
	if truthy(output) {
		switch {
		case output.Type == gjson.String:
			return output, true
		case truthy(output.Get("text")):
			return output.Get("text"), true
		case truthy(output.Get("content")):
			return output.Get("content"), true
		case output.IsArray() && len(output.Array()) > 0:
			if r, ok := messageText(output); ok {
				return r, true
			}
			if r, ok := firstItemText(output.Array()[0]); ok {
				return r, true
			}
		}
	}

	for _, key := range []string{"text", "content", "message"} {
		if r := root.Get(key); truthy(r) {
			return r, true
		}
	}

	response := root.Get("response")
	if truthy(response) {
		if response.Type == gjson.String {
			return response, true
		}
		ro := response.Get("output")
		if truthy(ro) {
			if ro.Type == gjson.String {
				return ro, true
			}
			if t := ro.Get("text"); truthy(t) {
				return t, true
			}
		}
	}
	return gjson.Result{}, false
}

// messageText finds the output_text of the first message item, falling back
// to the first content element's text of that message.
func messageText(output gjson.Result) (gjson.Result, bool) {
	for _, item := range output.Array() {
		content := item.Get("content")
		if item.Get("type").String() != "message" || !content.IsArray() {
			continue
		}
		for _, c := range content.Array() {
			if c.Get("type").String() == "output_text" && truthy(c.Get("text")) {
				return c.Get("text"), true
			}
		}
		if first := content.Get("0.text"); truthy(first) {
			return first, true
		}
	}
	return gjson.Result{}, false
}

func firstItemText(first gjson.Result) (gjson.Result, bool) {
	switch {
	case first.Type == gjson.String:
		return first, true
	case truthy(first.Get("text")):
		return first.Get("text"), true
	case truthy(first.Get("content")):
		content := first.Get("content")
		if content.IsArray() && len(content.Array()) > 0 {
			c0 := content.Array()[0]
			if truthy(c0.Get("text")) {
				return c0.Get("text"), true
			}
			if c0.Type == gjson.String {
				return c0, true
			}
			return gjson.Result{}, false
		}
		if content.Type == gjson.String {
			return content, true
		}
	}
	return gjson.Result{}, false
}

// splitReasoning separates the reasoning summary from the final answer.
func splitReasoning(output gjson.Result) (thinking, answer string) {
	for _, item := range output.Array() {
		switch item.Get("type").String() {
		case "reasoning":
			summary := item.Get("summary")
			switch {
			case summary.IsArray() && len(summary.Array()) > 0:
				var texts []string
				for _, s := range summary.Array() {
					if s.Get("type").String() == "summary_text" && truthy(s.Get("text")) {
						texts = append(texts, s.Get("text").String())
					}
				}
				if len(texts) > 0 {
					thinking = strings.Join(texts, "\n\n")
				} else if t := summary.Get("0.text"); truthy(t) {
					thinking = t.String()
				}
			case summary.IsObject():
				if t := summary.Get("text"); truthy(t) {
					thinking = t.String()
				}
			case truthy(item.Get("text")):
				thinking = item.Get("text").String()
			}
		case "message":
			content := item.Get("content")
			switch {
			case content.IsArray():
				for _, c := range content.Array() {
					if t := c.Get("text"); truthy(t) {
						answer = t.String()
						break
					}
				}
			case truthy(content.Get("text")):
				answer = content.Get("text").String()
			case truthy(item.Get("text")):
				answer = item.Get("text").String()
			}
		}
	}
	return thinking, answer
}
