package nodes

import (
	"context"
	"sort"
	"strconv"
	"unicode/utf8"

	"github.com/dshills/nodeflow/graph/ctxpath"
	"github.com/dshills/nodeflow/graph/model"
)

// defaultKeyEnv lists the environment variables consulted, in order, for the
// API key of each dialect when the node carries none.
var defaultKeyEnv = map[model.Dialect][]string{
	model.DialectChat:      {"OPENAI_API_KEY", "DEFAULT_OPENAI_KEY"},
	model.DialectResponses: {"OPENAI_API_KEY", "DEFAULT_OPENAI_KEY"},
	model.DialectAnthropic: {"ANTHROPIC_API_KEY"},
	model.DialectGemini:    {"GOOGLE_API_KEY"},
}

var dialectLabels = map[model.Dialect]string{
	model.DialectChat:      "Standard",
	model.DialectResponses: "Doubao",
	model.DialectAnthropic: "Anthropic",
	model.DialectGemini:    "Gemini",
}

var endpoints = map[model.Dialect]string{
	model.DialectChat:      "/chat/completions",
	model.DialectResponses: "/responses",
	model.DialectAnthropic: "/messages",
	model.DialectGemini:    "/models",
}

// llm sends the prompt and input sources of the node to a model. Without an
// API key a deterministic mock text is produced instead.
func (e *Executor) llm(ctx context.Context, c *Call) (Outputs, error) {
	prompt := c.Doc.Render(c.String("prompt"))
	baseURL := model.NormalizeBaseURL(c.String("baseURL"))
	modelName := c.String("model")
	if modelName == "" {
		modelName = model.DefaultModel
	}
	dialect := model.SelectDialect(modelName, baseURL, c.String("dialect"))

	parts, notes := model.Assemble(model.Assembly{
		Model:  modelName,
		Prompt: prompt,
		Inputs: e.llmInputs(c),
		Files:  stringList(c.Config["files"]),
		Images: stringList(c.Config["images"]),
	}, e.images)
	for _, note := range notes {
		c.Infof("%s", note)
	}
	if dialect == model.DialectResponses {
		c.Infof("Doubao content: %s", model.Summary(parts, dialect))
	} else {
		c.Infof("messageContent: %s", model.Summary(parts, dialect))
	}

	outPath := c.OutputPath("vars." + c.Node.ID + ".text")
	apiKey := e.apiKey(c, dialect)
	if apiKey == "" {
		text := model.MockText(modelName, parts)
		c.Doc.Set(outPath, text)
		c.Infof("mock LLM -> %s", outPath)
		e.metrics.IncrementLLMRequests(string(dialect), "mock")
		return Outputs{"text": text}, nil
	}

	c.Infof("request -> %s%s model=%s (%s)", baseURL, endpoints[dialect], modelName, dialectLabels[dialect])
	publish := func(text string) {
		c.Doc.Set(outPath, text)
		c.Write("text", text)
	}
	resp, err := e.provider.Complete(ctx, model.Request{
		Model:   modelName,
		BaseURL: baseURL,
		APIKey:  apiKey,
		Dialect: dialect,
		Parts:   parts,
	}, publish)
	if err != nil {
		text := resp.Text
		if text == "" {
			text = "LLM request failed: " + err.Error()
		}
		publish(text)
		c.Errorf("LLM request failed: %s", err.Error())
		e.metrics.IncrementLLMRequests(string(dialect), "error")
		return nil, err
	}

	out := Outputs{"text": resp.Text}
	c.Doc.Set(outPath, resp.Text)
	if dialect == model.DialectResponses {
		if keys := topLevelKeys(resp.Full); keys != "" {
			c.Infof("Doubao response structure: %s", keys)
		}
		if resp.Split {
			base := "vars." + c.Node.ID + "."
			c.Doc.Set(base+"thinking", resp.Thinking)
			c.Doc.Set(base+"answer", resp.Answer)
			out["thinking"] = resp.Thinking
			out["answer"] = resp.Answer
			c.Infof("Doubao-Seed: thinking length=%d, answer length=%d",
				utf8.RuneCountInString(resp.Thinking), utf8.RuneCountInString(resp.Answer))
		}
		c.Doc.Set("vars."+c.Node.ID+".fullResponse", resp.Full)
		out["fullResponse"] = resp.Full
	}

	if resp.Streamed {
		c.Infof("LLM stream completed -> %s", outPath)
	} else {
		c.Infof("LLM response received -> %s (text length: %d)", outPath, utf8.RuneCountInString(resp.Text))
		c.Infof("LLM response completed -> %s", outPath)
	}
	e.metrics.IncrementLLMRequests(string(dialect), "success")
	return out, nil
}

// llmInputs resolves config.inputSources in order. A mapped input on port
// input-<i> takes priority over source i.
func (e *Executor) llmInputs(c *Call) []model.Input {
	sources := parseSources(c.Config["inputSources"])
	inputs := make([]model.Input, 0, len(sources))
	for i, s := range sources {
		if s == nil {
			continue
		}
		in := model.Input{Format: s.format()}
		if v, ok := c.Input("input-" + strconv.Itoa(i)); ok {
			in.Value, in.Defined = v, true
		} else {
			in.Value, in.Defined = s.lookup(c.Doc)
		}
		if !in.Defined {
			in.Value, in.Defined = s.fallback()
		}
		inputs = append(inputs, in)
	}
	return inputs
}

// apiKey returns config.apiKey, else the variable named by
// config.apiKeyAlias, else the dialect's default variables.
func (e *Executor) apiKey(c *Call, d model.Dialect) string {
	if key := c.String("apiKey"); key != "" {
		return key
	}
	if alias := c.String("apiKeyAlias"); alias != "" {
		if key := e.getenv(alias); key != "" {
			return key
		}
	}
	for _, name := range defaultKeyEnv[d] {
		if key := e.getenv(name); key != "" {
			return key
		}
	}
	return ""
}

func stringList(v any) []string {
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func topLevelKeys(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	keys := make([]any, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].(string) < keys[j].(string) })
	return ctxpath.MarshalText(keys)
}
