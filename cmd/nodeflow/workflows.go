package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	yaml "go.yaml.in/yaml/v2"

	"github.com/dshills/nodeflow/graph"
	"github.com/dshills/nodeflow/graph/nodes"
)

// loadWorkflows reads every .json, .yaml and .yml file in dir, ordered by
// file name. A missing directory yields no workflows. A workflow without an
// id takes the file name without its extension.
func loadWorkflows(dir string, logger *slog.Logger) ([]*graph.Workflow, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("workflows directory not found", "dir", dir)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read workflows directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var out []*graph.Workflow
	seen := map[string]string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".json" && ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		wf, err := parseWorkflowFile(path)
		if err != nil {
			return nil, err
		}
		if wf.ID == "" {
			wf.ID = strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		}
		if prev, dup := seen[wf.ID]; dup {
			return nil, fmt.Errorf("workflow %q defined in both %s and %s", wf.ID, prev, path)
		}
		seen[wf.ID] = path

		for _, n := range wf.Nodes {
			if !nodes.Supported(n.Type) {
				logger.Warn("unsupported node type", "workflow_id", wf.ID, "node_id", n.ID, "type", n.Type)
			}
		}
		out = append(out, wf)
	}
	return out, nil
}

// parseWorkflowFile decodes one definition. YAML is converted to JSON first
// so both formats produce the same value types in node configs.
func parseWorkflowFile(path string) (*graph.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow %s: %w", path, err)
	}
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".yaml" || ext == ".yml" {
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse workflow %s: %w", path, err)
		}
		if data, err = json.Marshal(jsonCompatible(raw)); err != nil {
			return nil, fmt.Errorf("failed to convert workflow %s: %w", path, err)
		}
	}
	var wf graph.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("failed to parse workflow %s: %w", path, err)
	}
	return &wf, nil
}

// jsonCompatible rewrites the map[interface{}]interface{} values produced by
// yaml.v2 into string-keyed maps.
func jsonCompatible(v any) any {
	switch t := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = jsonCompatible(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = jsonCompatible(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = jsonCompatible(val)
		}
		return out
	default:
		return v
	}
}
