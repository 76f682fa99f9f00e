package model

import (
	"fmt"
	"strings"

	"github.com/dshills/nodeflow/graph/ctxpath"
)

// Input formats accepted in an Assembly.
const (
	FormatText  = "text"
	FormatFile  = "file"
	FormatImage = "image"
)

// Input is one resolved input source of an LLM node. Defined is false when
// the source resolved to nothing at all.
type Input struct {
	Format  string
	Value   any
	Defined bool
}

// Assembly describes the content of a single LLM call before it is reduced
// to parts.
type Assembly struct {
	Model  string
	Prompt string
	Inputs []Input

	// Files and Images are the legacy attachment lists; they are appended
	// after every input. Images go through the same vision gating and
	// inlining as image inputs.
	Files  []string
	Images []string
}

// ImageInliner converts an image URL into something a provider can fetch,
// typically a data: URL for images only reachable from this host. ok is
// false when the URL should be used as is.
type ImageInliner interface {
	Inline(url string) (inlined string, ok bool, err error)
}

// Assemble reduces a into an ordered list of content parts.
//
// Text accumulates until an image is met, at which point it is flushed as a
// single part joined by blank lines. For models without vision support every
// image input is replaced with a note naming the model. The result is never
// empty. notes collects messages worth surfacing in the run log.
func Assemble(a Assembly, inliner ImageInliner) (parts []Part, notes []string) {
	vision := SupportsVision(a.Model)
	var pending []string
	if a.Prompt != "" {
		pending = append(pending, a.Prompt)
	}
	flush := func() {
		if len(pending) == 0 {
			return
		}
		parts = append(parts, TextPart(strings.Join(pending, "\n\n")))
		pending = pending[:0]
	}
	addImage := func(url string) {
		if inliner != nil {
			inlined, ok, err := inliner.Inline(url)
			switch {
			case err != nil:
				notes = append(notes, fmt.Sprintf("Failed to inline image, using original URL: %s (%v)", url, err))
			case ok:
				url = inlined
			}
		}
		parts = append(parts, ImagePart(url))
	}

	for _, in := range a.Inputs {
		format := in.Format
		if format == "" {
			format = FormatText
		}
		switch format {
		case FormatText, FormatFile:
			if !in.Defined || in.Value == nil {
				continue
			}
			text := inputText(in.Value)
			if format == FormatFile {
				text = "[file] " + text
			}
			if trimmed := strings.TrimSpace(text); trimmed != "" {
				pending = append(pending, trimmed)
			}
		case FormatImage:
			if !vision {
				pending = append(pending, imageNote(imageCount(in), a.Model))
				continue
			}
			if !in.Defined || in.Value == nil {
				continue
			}
			flush()
			for _, url := range imageURLs(in.Value) {
				addImage(url)
			}
		}
	}
	flush()

	for _, f := range a.Files {
		parts = append(parts, TextPart("[file] "+f))
	}
	if len(a.Images) > 0 && !vision {
		parts = append(parts, TextPart(imageNote(len(a.Images), a.Model)))
	} else {
		for _, img := range a.Images {
			addImage(img)
		}
	}

	if len(parts) == 0 {
		parts = append(parts, TextPart(a.Prompt))
	}
	return parts, notes
}

func imageNote(n int, model string) string {
	return fmt.Sprintf("[%d image(s) attached; model %s does not accept image input, use a vision model such as gpt-4o]", n, model)
}

func inputText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		lines := make([]string, len(t))
		for i, el := range t {
			lines[i] = ctxpath.ToText(el)
		}
		return strings.Join(lines, "\n")
	default:
		return ctxpath.ToText(t)
	}
}

func imageCount(in Input) int {
	if !in.Defined {
		return 0
	}
	switch t := in.Value.(type) {
	case nil:
		return 0
	case string:
		return 1
	case []any:
		return len(t)
	case bool:
		if !t {
			return 0
		}
		return 1
	case float64:
		if t == 0 {
			return 0
		}
		return 1
	default:
		return 1
	}
}

// imageURLs reads image references from a string, a list of strings or
// {url} objects, or a single {url} object.
func imageURLs(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []any:
		var urls []string
		for _, el := range t {
			switch item := el.(type) {
			case string:
				if item != "" {
					urls = append(urls, item)
				}
			case map[string]any:
				if u, _ := item["url"].(string); u != "" {
					urls = append(urls, u)
				}
			}
		}
		return urls
	case map[string]any:
		if u, _ := t["url"].(string); u != "" {
			return []string{u}
		}
	}
	return nil
}

// JoinedText returns the text parts joined by blank lines.
func JoinedText(parts []Part) string {
	var texts []string
	for _, p := range parts {
		if p.Kind == PartText {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n\n")
}

// MockText is the completion reported when no API key is available.
func MockText(model string, parts []Part) string {
	return fmt.Sprintf("MOCK_LLM(%s): %s", model, truncateRunes(JoinedText(parts), 200))
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Summary describes the shape of parts as the dialect would name them, for
// run logs. Image data is never included.
func Summary(parts []Part, d Dialect) string {
	textType, imageType := "text", "image_url"
	if d == DialectResponses {
		textType, imageType = "input_text", "input_image"
	}
	entries := make([]any, len(parts))
	for i, p := range parts {
		typ := textType
		if p.Kind == PartImage {
			typ = imageType
		}
		entries[i] = map[string]any{
			"type":     typ,
			"hasText":  p.Kind == PartText && p.Text != "",
			"hasImage": p.Kind == PartImage && p.ImageURL != "",
		}
	}
	return ctxpath.MarshalText(entries)
}
