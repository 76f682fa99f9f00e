package model

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	responsesModel   = regexp.MustCompile(`(?i)doubao`)
	responsesBaseURL = regexp.MustCompile(`(?i)volces\.com`)
	seedModel        = regexp.MustCompile(`(?i)doubao-seed-1-8`)
	visionModel      = regexp.MustCompile(`(?i)(gpt-4o|gpt-4-vision|gpt-4\.1|gpt-5|vision|vl|gemini|doubao|qwen-vl|hunyuan|glm-4v|deepseek-vl)`)
)

// Defaults applied when a node leaves the field empty.
const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"
)

// SelectDialect picks the wire dialect for a model and base URL. A non-empty
// override naming a known dialect wins over detection.
func SelectDialect(model, baseURL, override string) Dialect {
	switch d := Dialect(strings.ToLower(strings.TrimSpace(override))); d {
	case DialectChat, DialectResponses, DialectAnthropic, DialectGemini:
		return d
	}
	if responsesModel.MatchString(model) || responsesBaseURL.MatchString(baseURL) {
		return DialectResponses
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return DialectChat
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case host == "api.anthropic.com" || strings.HasSuffix(host, ".anthropic.com"):
		return DialectAnthropic
	case host == "generativelanguage.googleapis.com" && !strings.Contains(u.Path, "/openai"):
		return DialectGemini
	}
	return DialectChat
}

// SupportsVision reports whether model is known to accept image input.
func SupportsVision(model string) bool {
	return visionModel.MatchString(model)
}

// SplitsReasoning reports whether model returns separate reasoning and
// answer sections that should be surfaced as distinct outputs.
func SplitsReasoning(model string) bool {
	return seedModel.MatchString(model)
}

// NormalizeBaseURL strips trailing slashes, applying DefaultBaseURL when empty.
func NormalizeBaseURL(raw string) string {
	if strings.TrimSpace(raw) == "" {
		raw = DefaultBaseURL
	}
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}
