// Package nodes implements the built-in node types of nodeflow workflows.
//
// Every node runs the same way: its inputMap is resolved against the run
// context into inputs.<port>, mapped inputs override the matching config
// keys, and the handler for its type does the work. Handlers return the
// values of their output ports, which are written to _outputs.<node>.<port>
// (and mirrored through config.outputMap) before the node is reported done.
package nodes

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dshills/nodeflow/graph"
	"github.com/dshills/nodeflow/graph/ctxpath"
	"github.com/dshills/nodeflow/graph/expr"
	"github.com/dshills/nodeflow/graph/model"
	"github.com/dshills/nodeflow/graph/model/anthropic"
	"github.com/dshills/nodeflow/graph/model/google"
	"github.com/dshills/nodeflow/graph/model/openai"
	"github.com/dshills/nodeflow/graph/tool"
)

// Defaults for Executor configuration.
const (
	DefaultUploadDir = "uploads"
	UploadURLPrefix  = "/uploads/"
)

// UnsupportedNodeTypeError describes a node whose type has no handler.
type UnsupportedNodeTypeError struct {
	Type string
}

func (e *UnsupportedNodeTypeError) Error() string {
	return "unsupported node type " + e.Type
}

// Outputs maps port names to the values a handler produced.
type Outputs map[string]any

type handler func(e *Executor, ctx context.Context, c *Call) (Outputs, error)

type entry struct {
	run handler
	// quiet handlers do not log their outputs.
	quiet bool
}

var handlers = map[string]entry{
	graph.TypeStart:            {run: (*Executor).start},
	graph.TypeCron:             {run: (*Executor).cron},
	graph.TypeWebhook:          {run: (*Executor).webhook},
	graph.TypeTextInput:        {run: (*Executor).textInput},
	graph.TypeImageInput:       {run: (*Executor).imageInput},
	graph.TypeTextOutput:       {run: (*Executor).textOutput},
	graph.TypeImageOutput:      {run: (*Executor).imageOutput},
	graph.TypeEnd:              {run: (*Executor).end},
	graph.TypeLog:              {run: (*Executor).logMessage, quiet: true},
	graph.TypeDisplay:          {run: (*Executor).display},
	graph.TypeTime:             {run: (*Executor).timestamp},
	graph.TypeText:             {run: (*Executor).text},
	graph.TypeCondition:        {run: (*Executor).condition},
	graph.TypeLoop:             {run: (*Executor).loop},
	graph.TypeHTTP:             {run: (*Executor).httpRequest},
	graph.TypeFile:             {run: (*Executor).saveFile},
	graph.TypeSaveFile:         {run: (*Executor).saveFile},
	graph.TypeImagePlaceholder: {run: (*Executor).imagePlaceholder},
	graph.TypeVideoPlaceholder: {run: (*Executor).videoPlaceholder},
	graph.TypeLLM:              {run: (*Executor).llm},
	graph.TypeLLMFile:          {run: (*Executor).llm},
	graph.TypeLLMGeneric:       {run: (*Executor).llm},
	graph.TypeLLMClaude:        {run: (*Executor).llm},
	graph.TypeDoubao18:         {run: (*Executor).llm},
}

// Supported reports whether typ has a handler.
func Supported(typ string) bool {
	_, ok := handlers[typ]
	return ok
}

// Executor runs nodes of every built-in type. It implements graph.Executor
// and is safe for concurrent use.
type Executor struct {
	provider  model.Provider
	http      tool.Tool
	eval      *expr.Evaluator
	metrics   *graph.PrometheusMetrics
	uploadDir string
	images    model.ImageInliner
	getenv    func(string) string
	clock     func() time.Time
	location  *time.Location
}

// Option configures an Executor.
type Option func(*Executor)

// WithProvider sets the provider LLM nodes call. The default routes each
// dialect to its provider package.
func WithProvider(p model.Provider) Option {
	return func(e *Executor) {
		if p != nil {
			e.provider = p
		}
	}
}

// WithHTTPTool sets the tool http nodes call.
func WithHTTPTool(t tool.Tool) Option {
	return func(e *Executor) {
		if t != nil {
			e.http = t
		}
	}
}

// WithUploadDir sets the directory file nodes write to and local image
// URLs are read from.
func WithUploadDir(dir string) Option {
	return func(e *Executor) {
		if dir != "" {
			e.uploadDir = dir
		}
	}
}

// WithMetrics records LLM request outcomes on m.
func WithMetrics(m *graph.PrometheusMetrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithGetenv sets the lookup used for API keys. Defaults to os.Getenv.
func WithGetenv(getenv func(string) string) Option {
	return func(e *Executor) {
		if getenv != nil {
			e.getenv = getenv
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.clock = now
		}
	}
}

// WithDisplayLocation sets the zone of the report a start node writes.
func WithDisplayLocation(loc *time.Location) Option {
	return func(e *Executor) {
		if loc != nil {
			e.location = loc
		}
	}
}

// New creates an Executor.
func New(opts ...Option) *Executor {
	e := &Executor{
		provider: model.Router{
			model.DialectChat:      openai.New(),
			model.DialectResponses: openai.New(),
			model.DialectAnthropic: anthropic.New(),
			model.DialectGemini:    google.New(),
		},
		http:      tool.NewHTTPTool(),
		eval:      expr.New(),
		uploadDir: DefaultUploadDir,
		getenv:    os.Getenv,
		clock:     time.Now,
		location:  graph.DefaultDisplayLocation(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.images = model.LocalImages{Root: e.uploadDir, Prefix: UploadURLPrefix}
	return e
}

// Execute implements graph.Executor.
func (e *Executor) Execute(ctx context.Context, node graph.Node, doc *ctxpath.Store, log graph.RunLog) (graph.Outcome, error) {
	inputs := resolveInputMap(node, doc)
	doc.Set("inputs."+node.ID, inputs)
	c := &Call{
		Node:   node,
		Config: effectiveConfig(node.Config, inputs),
		Inputs: inputs,
		Doc:    doc,
		Log:    log,
	}
	c.Infof("inputs: %s", ctxpath.FormatLogValue(inputs))

	h, ok := handlers[node.Type]
	if !ok {
		err := &UnsupportedNodeTypeError{Type: node.Type}
		c.Errorf("%s", err.Error())
		return graph.Outcome{Unsupported: true}, nil
	}

	out, err := h.run(e, ctx, c)
	if err != nil {
		return graph.Outcome{}, err
	}
	ports := make([]string, 0, len(out))
	for port := range out {
		ports = append(ports, port)
	}
	sort.Strings(ports)
	for _, port := range ports {
		graph.WriteOutput(doc, node, port, out[port])
	}
	if !h.quiet {
		v, _ := doc.Get("_outputs." + node.ID)
		c.Infof("outputs: %s", ctxpath.FormatLogValue(v))
	}
	return graph.Outcome{Condition: c.condition}, nil
}

// Call is the state of one node execution.
type Call struct {
	Node graph.Node
	// Config is the node config with mapped inputs overriding keys that
	// exist in both.
	Config map[string]any
	// Inputs holds the resolved inputMap values by port.
	Inputs map[string]any
	Doc    *ctxpath.Store
	Log    graph.RunLog

	condition *bool
}

// Label returns the node name used in log lines.
func (c *Call) Label() string {
	return c.Node.Label()
}

// Infof logs an info line prefixed with the node label.
func (c *Call) Infof(format string, args ...any) {
	if c.Log == nil {
		return
	}
	c.Log.Info("[" + c.Label() + "] " + fmt.Sprintf(format, args...))
}

// Errorf logs an error line prefixed with the node label.
func (c *Call) Errorf(format string, args ...any) {
	if c.Log == nil {
		return
	}
	c.Log.Error("[" + c.Label() + "] " + fmt.Sprintf(format, args...))
}

// String returns config[key] when it is a string.
func (c *Call) String(key string) string {
	s, _ := c.Config[key].(string)
	return s
}

// Input returns the mapped input of port.
func (c *Call) Input(port string) (any, bool) {
	v, ok := c.Inputs[port]
	return v, ok
}

// OutputPath returns config.outputPath, or fallback when unset.
func (c *Call) OutputPath(fallback string) string {
	if p, ok := c.Config["outputPath"].(string); ok && p != "" {
		return p
	}
	return fallback
}

// Write publishes value on port immediately, ahead of the handler returning.
// Streaming handlers use it for partial results.
func (c *Call) Write(port string, value any) {
	graph.WriteOutput(c.Doc, c.Node, port, value)
}

// SetCondition records the result of a condition node.
func (c *Call) SetCondition(result bool) {
	c.condition = &result
}

func (e *Executor) now() time.Time {
	return e.clock()
}

// effectiveConfig copies cfg, replacing every key that inputs also carries.
func effectiveConfig(cfg, inputs map[string]any) map[string]any {
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		out[k] = v
	}
	for k, v := range inputs {
		if _, ok := cfg[k]; ok {
			out[k] = v
		}
	}
	return out
}
