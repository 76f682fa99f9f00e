package graph

import "fmt"

// DesiredTrigger picks the trigger kind of a run from its initial context:
// cron when trigger.type is "cron", webhook when a webhook payload is present,
// start otherwise.
func DesiredTrigger(initial map[string]any) string {
	if trig, ok := initial["trigger"].(map[string]any); ok {
		if t, _ := trig["type"].(string); t == TypeCron {
			return TypeCron
		}
	}
	if wh, ok := initial["webhook"]; ok && wh != nil {
		return TypeWebhook
	}
	return TypeStart
}

// Plan is the participating subgraph of one run.
type Plan struct {
	// Trigger is the kind the entry set was selected by.
	Trigger string

	// Entries are the trigger nodes, in workflow order.
	Entries []Node

	// Reachable is R: everything downstream of an entry plus every node
	// feeding a member of R.
	Reachable map[string]bool

	// Deps counts, per member of R, the in-edges whose source is also in R.
	Deps map[string]int

	// Ready lists members of R with no dependencies, in workflow order.
	Ready []string

	nodes map[string]Node
	out   map[string][]Edge
	in    map[string][]Edge
}

// Analyze computes the plan for running wf from the given trigger kind. The
// indices are built fresh; wf is not modified.
func Analyze(wf *Workflow, trigger string) (*Plan, error) {
	p := &Plan{
		Trigger: trigger,
		nodes:   make(map[string]Node, len(wf.Nodes)),
		out:     make(map[string][]Edge),
		in:      make(map[string][]Edge),
	}
	for _, n := range wf.Nodes {
		p.nodes[n.ID] = n
	}
	for _, e := range wf.Edges {
		p.out[e.Source] = append(p.out[e.Source], e)
		p.in[e.Target] = append(p.in[e.Target], e)
	}

	for _, n := range wf.Nodes {
		if n.Type == trigger {
			p.Entries = append(p.Entries, n)
		}
	}
	if len(p.Entries) == 0 && len(wf.Nodes) > 0 {
		return nil, &EngineError{
			Message: fmt.Sprintf("No trigger nodes found for type %q", trigger),
			Code:    CodeNoTriggerNodes,
			Cause:   ErrNoTriggerNodes,
		}
	}

	p.Reachable = p.closeUpstream(p.forward())

	p.Deps = make(map[string]int, len(p.Reachable))
	for id := range p.Reachable {
		deps := 0
		for _, e := range p.in[id] {
			if p.Reachable[e.Source] {
				deps++
			}
		}
		p.Deps[id] = deps
	}
	for _, n := range wf.Nodes {
		if p.Reachable[n.ID] && p.Deps[n.ID] == 0 {
			p.Ready = append(p.Ready, n.ID)
		}
	}
	if len(p.Ready) == 0 && len(wf.Nodes) > 0 {
		return nil, &EngineError{
			Message: "No executable nodes in trigger subgraph. Check trigger connections.",
			Code:    CodeNoExecutableNodes,
			Cause:   ErrNoExecutableNodes,
		}
	}
	return p, nil
}

// forward walks out-edges depth first from the entry set.
func (p *Plan) forward() map[string]bool {
	reached := make(map[string]bool)
	stack := make([]string, 0, len(p.Entries))
	for _, n := range p.Entries {
		stack = append(stack, n.ID)
	}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reached[current] {
			continue
		}
		reached[current] = true
		for _, e := range p.out[current] {
			if _, known := p.nodes[e.Target]; known && !reached[e.Target] {
				stack = append(stack, e.Target)
			}
		}
	}
	return reached
}

// closeUpstream adds every node feeding a member of set until nothing
// changes. set is extended in place and returned.
func (p *Plan) closeUpstream(set map[string]bool) map[string]bool {
	stack := make([]string, 0, len(set))
	for id := range set {
		stack = append(stack, id)
	}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range p.in[current] {
			if _, known := p.nodes[e.Source]; known && !set[e.Source] {
				set[e.Source] = true
				stack = append(stack, e.Source)
			}
		}
	}
	return set
}

// Node returns a node of the planned workflow.
func (p *Plan) Node(id string) (Node, bool) {
	n, ok := p.nodes[id]
	return n, ok
}

// OutEdges returns the edges leaving id, in definition order.
func (p *Plan) OutEdges(id string) []Edge {
	return p.out[id]
}
