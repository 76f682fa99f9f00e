package nodes

import (
	"github.com/dshills/nodeflow/graph"
	"github.com/dshills/nodeflow/graph/ctxpath"
)

// Source modes.
const (
	modeConst = "const"
	modeAll   = "all"
)

// source is one entry of inputMap or inputSources.
type source struct {
	Mode       string
	NodeID     string
	PortID     string
	Path       string
	Format     string
	Default    any
	HasDefault bool
	Refs       []sourceRef
}

type sourceRef struct {
	NodeID string
	PortID string
}

func parseSource(v any) *source {
	m, ok := v.(map[string]any)
	if !ok || m == nil {
		return nil
	}
	s := &source{
		Mode:   str(m["mode"]),
		NodeID: str(m["sourceNodeId"]),
		PortID: str(m["sourcePortId"]),
		Path:   str(m["sourcePath"]),
		Format: str(m["format"]),
	}
	s.Default, s.HasDefault = m["defaultValue"]
	if refs, ok := m["sourceRefs"].([]any); ok {
		for _, r := range refs {
			rm, _ := r.(map[string]any)
			s.Refs = append(s.Refs, sourceRef{NodeID: str(rm["sourceNodeId"]), PortID: str(rm["sourcePortId"])})
		}
	}
	return s
}

// parseSources decodes an inputSources list. Entries that are not objects
// stay as nil so indexes line up with port names.
func parseSources(v any) []*source {
	list, _ := v.([]any)
	out := make([]*source, len(list))
	for i, item := range list {
		out[i] = parseSource(item)
	}
	return out
}

func (s *source) format() string {
	if s.Format == "" {
		return "text"
	}
	return s.Format
}

// linked reports whether the source points at another node's port.
func (s *source) linked() bool {
	return s.NodeID != "" && s.PortID != ""
}

// port reads the referenced output port without applying Path.
func (s *source) port(doc *ctxpath.Store) (any, bool) {
	return doc.Get("_outputs." + s.NodeID + "." + s.PortID)
}

// follow applies Path to a port value.
func (s *source) follow(v any, found bool) (any, bool) {
	if !found || s.Path == "" {
		return v, found
	}
	return ctxpath.Get(v, s.Path)
}

// fallback returns the parsed default value.
func (s *source) fallback() (any, bool) {
	if !s.HasDefault {
		return nil, false
	}
	return ctxpath.ParseLiteral(s.Default), true
}

// lookup resolves the source without falling back to its default.
func (s *source) lookup(doc *ctxpath.Store) (any, bool) {
	switch {
	case s.Mode == modeConst:
		return s.fallback()
	case s.linked():
		return s.follow(s.port(doc))
	}
	return nil, false
}

// resolve resolves the source, using the default when nothing was found.
func (s *source) resolve(doc *ctxpath.Store) (any, bool) {
	if v, ok := s.lookup(doc); ok {
		return v, true
	}
	return s.fallback()
}

// resolveInputMap resolves config.inputMap into a map of port values. Ports
// that resolve to nothing are left out.
func resolveInputMap(node graph.Node, doc *ctxpath.Store) map[string]any {
	out := map[string]any{}
	inputMap, _ := node.Config["inputMap"].(map[string]any)
	for port, raw := range inputMap {
		s := parseSource(raw)
		if s == nil {
			continue
		}
		if v, ok := s.resolve(doc); ok {
			out[port] = v
		}
	}
	return out
}

// extractImageURLs collects image URLs from strings, lists of strings and
// objects carrying url or path, unwrapping JSON encoded strings first.
func extractImageURLs(v any) []string {
	switch t := ctxpath.Unwrap(v, ctxpath.UnwrapDepth).(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []any:
		var out []string
		for _, item := range t {
			out = append(out, extractImageURLs(item)...)
		}
		return out
	case map[string]any:
		u, ok := t["url"]
		if !ok || u == nil {
			u = t["path"]
		}
		if s, ok := u.(string); ok && s != "" {
			return []string{s}
		}
	}
	return nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// truthy mirrors how workflow configs treat optional values: nil, false,
// zero and the empty string are unset.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	}
	return true
}
