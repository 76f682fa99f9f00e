package graph

import (
	"fmt"
	"strings"
)

// Node types understood by the engine and the default executor.
const (
	TypeStart            = "start"
	TypeCron             = "cron"
	TypeWebhook          = "webhook"
	TypeTextInput        = "text-input"
	TypeImageInput       = "image-input"
	TypeTextOutput       = "text-output"
	TypeImageOutput      = "image-output"
	TypeEnd              = "end"
	TypeLog              = "log"
	TypeDisplay          = "display"
	TypeTime             = "time"
	TypeText             = "text"
	TypeCondition        = "condition"
	TypeLoop             = "loop"
	TypeHTTP             = "http"
	TypeFile             = "file"
	TypeSaveFile         = "save-file"
	TypeImagePlaceholder = "image-placeholder"
	TypeVideoPlaceholder = "video-placeholder"
	TypeLLM              = "llm"
	TypeLLMFile          = "llm-file"
	TypeLLMGeneric       = "llm-generic"
	TypeLLMClaude        = "llm-claude"
	TypeDoubao18         = "doubao-1-8"
)

// IsTrigger reports whether nodeType starts runs.
func IsTrigger(nodeType string) bool {
	switch nodeType {
	case TypeStart, TypeCron, TypeWebhook:
		return true
	}
	return false
}

// Workflow is a graph definition. The engine treats it as read-only.
type Workflow struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Node is a typed vertex. Config is interpreted by the handler for Type.
type Node struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Name   string         `json:"name"`
	Config map[string]any `json:"config,omitempty"`
}

// Label is the name used in run log lines, falling back to the id.
func (n Node) Label() string {
	if n.Name != "" {
		return n.Name
	}
	return n.ID
}

// Edge connects two nodes. Label selects the branch of a condition source.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label,omitempty"`
}

// Validate checks that node ids are present and unique and that every edge
// references existing nodes.
func (w *Workflow) Validate() error {
	var problems []string
	seen := make(map[string]bool, len(w.Nodes))
	for i, n := range w.Nodes {
		switch {
		case n.ID == "":
			problems = append(problems, fmt.Sprintf("node %d has no id", i))
		case seen[n.ID]:
			problems = append(problems, fmt.Sprintf("duplicate node id %q", n.ID))
		}
		seen[n.ID] = true
	}
	for _, e := range w.Edges {
		if !seen[e.Source] {
			problems = append(problems, fmt.Sprintf("edge %q references unknown source %q", e.ID, e.Source))
		}
		if !seen[e.Target] {
			problems = append(problems, fmt.Sprintf("edge %q references unknown target %q", e.ID, e.Target))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return &EngineError{
		Message: strings.Join(problems, "; "),
		Code:    CodeInvalidWorkflow,
		Cause:   ErrInvalidWorkflow,
	}
}

// Node returns the node with the given id.
func (w *Workflow) Node(id string) (Node, bool) {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}
