// Package trigger starts workflow runs from timers and inbound webhooks.
//
// A Registry holds the registered workflows. For every cron node with an
// interval above MinInterval it runs a ticker that starts a run on each
// tick; for every webhook node with a key it routes deliveries of that key to
// the workflow. Registering a workflow again replaces its schedules and the
// webhook routes are rebuilt from scratch.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dshills/nodeflow/graph"
	"github.com/dshills/nodeflow/graph/emit"
)

// MinInterval is the cron floor. Only intervals longer than it are
// scheduled; cron nodes at or below it, or without an interval, never fire.
const MinInterval = 5 * time.Second

// Trigger kinds reported in events and metrics.
const (
	KindManual  = "manual"
	KindCron    = "cron"
	KindWebhook = "webhook"
)

var (
	// ErrUnknownWebhook is returned for a key no registered workflow listens on.
	ErrUnknownWebhook = errors.New("webhook key not found")

	// ErrUnknownWorkflow is returned by Fire for an unregistered workflow id.
	ErrUnknownWorkflow = errors.New("workflow not found")

	// ErrClosed is returned once the registry has been closed.
	ErrClosed = errors.New("trigger registry closed")
)

// Launcher starts runs. *graph.Engine implements it.
type Launcher interface {
	CreateRun(ctx context.Context, wf *graph.Workflow, initial map[string]any) (*graph.Run, error)
}

// Ticker delivers ticks until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// NewTimeTicker returns a Ticker backed by time.Ticker.
func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// Option configures a Registry.
type Option func(*Registry)

// WithEmitter reports trigger_fired events to e.
func WithEmitter(e emit.Emitter) Option {
	return func(r *Registry) {
		if e != nil {
			r.emitter = e
		}
	}
}

// WithMetrics counts fired triggers on m.
func WithMetrics(m *graph.PrometheusMetrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithLogger sets the logger for failures to start runs.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock sets the time source of trigger timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.clock = now
		}
	}
}

// WithTicker replaces the ticker constructor, typically with a manual one in
// tests.
func WithTicker(newTicker func(time.Duration) Ticker) Option {
	return func(r *Registry) {
		if newTicker != nil {
			r.newTicker = newTicker
		}
	}
}

// Registry tracks registered workflows and their triggers. It is safe for
// concurrent use.
type Registry struct {
	launcher  Launcher
	emitter   emit.Emitter
	metrics   *graph.PrometheusMetrics
	logger    *slog.Logger
	clock     func() time.Time
	newTicker func(time.Duration) Ticker

	mu        sync.Mutex
	workflows map[string]*graph.Workflow
	schedules map[string][]*schedule
	webhooks  map[string][]string
	closed    bool

	wg sync.WaitGroup
}

// schedule is one running cron ticker.
type schedule struct {
	nodeID   string
	interval float64
	ticker   Ticker
	stop     chan struct{}
}

// New creates a Registry that starts runs through l.
func New(l Launcher, opts ...Option) *Registry {
	r := &Registry{
		launcher:  l,
		emitter:   emit.NewNullEmitter(),
		logger:    slog.New(slog.DiscardHandler),
		clock:     time.Now,
		newTicker: NewTimeTicker,
		workflows: make(map[string]*graph.Workflow),
		schedules: make(map[string][]*schedule),
		webhooks:  make(map[string][]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds wf, replacing any workflow with the same id together with
// its schedules. It returns the number of cron schedules started.
func (r *Registry) Register(wf *graph.Workflow) (int, error) {
	if wf == nil || wf.ID == "" {
		return 0, errors.New("workflow id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrClosed
	}

	r.stopLocked(wf.ID)
	snapshot := *wf
	r.workflows[wf.ID] = &snapshot

	for _, n := range snapshot.Nodes {
		if n.Type != graph.TypeCron {
			continue
		}
		seconds := IntervalSeconds(n.Config["intervalSeconds"])
		d := time.Duration(seconds * float64(time.Second))
		if d <= MinInterval {
			continue
		}
		s := &schedule{nodeID: n.ID, interval: seconds, ticker: r.newTicker(d), stop: make(chan struct{})}
		r.schedules[wf.ID] = append(r.schedules[wf.ID], s)
		r.wg.Add(1)
		go r.tick(&snapshot, s)
	}
	r.rebuildWebhooksLocked()
	return len(r.schedules[wf.ID]), nil
}

// Unregister removes workflow id and stops its schedules.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked(id)
	delete(r.workflows, id)
	r.rebuildWebhooksLocked()
}

// Workflow returns the registered workflow id.
func (r *Registry) Workflow(id string) (*graph.Workflow, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wf, ok := r.workflows[id]
	return wf, ok
}

// Workflows returns the registered workflows ordered by id.
func (r *Registry) Workflows() []*graph.Workflow {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*graph.Workflow, 0, len(r.workflows))
	for _, wf := range r.workflows {
		out = append(out, wf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Schedules returns the cron node ids scheduled for workflow id.
func (r *Registry) Schedules(id string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, s := range r.schedules[id] {
		out = append(out, s.nodeID)
	}
	return out
}

// Fire starts a run of workflow id seeded with initial.
func (r *Registry) Fire(ctx context.Context, id string, initial map[string]any) (*graph.Run, error) {
	wf, ok := r.Workflow(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, id)
	}
	return r.launch(ctx, wf, KindManual, initial)
}

// RouteWebhook returns the workflow ids listening on key, ordered by
// workflow id. A workflow with several webhook nodes on the key appears once
// per node.
func (r *Registry) RouteWebhook(key string) ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids, ok := r.webhooks[key]
	if !ok {
		return nil, false
	}
	return append([]string(nil), ids...), true
}

// Delivery is an inbound webhook request.
type Delivery struct {
	Payload any
	Headers map[string]any
	Query   map[string]any
}

// FireWebhook starts one run per route of key and returns their ids.
func (r *Registry) FireWebhook(ctx context.Context, key string, d Delivery) ([]string, error) {
	ids, ok := r.RouteWebhook(key)
	if !ok {
		return nil, ErrUnknownWebhook
	}
	headers, query := d.Headers, d.Query
	if headers == nil {
		headers = map[string]any{}
	}
	if query == nil {
		query = map[string]any{}
	}

	runs := []string{}
	var errs []error
	for _, id := range ids {
		wf, ok := r.Workflow(id)
		if !ok {
			continue
		}
		initial := map[string]any{"webhook": map[string]any{
			"key":     key,
			"ts":      r.timestamp(),
			"payload": d.Payload,
			"headers": headers,
			"query":   query,
		}}
		run, err := r.launch(ctx, wf, KindWebhook, initial)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		runs = append(runs, run.ID)
	}
	return runs, errors.Join(errs...)
}

// Close stops every schedule and waits for the ticker goroutines to exit.
// Runs already started are not affected.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for id := range r.schedules {
		r.stopLocked(id)
	}
	r.mu.Unlock()
	r.wg.Wait()
	return nil
}

func (r *Registry) tick(wf *graph.Workflow, s *schedule) {
	defer r.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case <-s.ticker.C():
			initial := map[string]any{"trigger": map[string]any{
				"type":            KindCron,
				"nodeId":          s.nodeID,
				"ts":              r.timestamp(),
				"intervalSeconds": s.interval,
			}}
			if _, err := r.launch(context.Background(), wf, KindCron, initial); err != nil {
				r.logger.Error("cron trigger failed", "workflow_id", wf.ID, "node_id", s.nodeID, "error", err)
			}
		}
	}
}

func (r *Registry) launch(ctx context.Context, wf *graph.Workflow, kind string, initial map[string]any) (*graph.Run, error) {
	run, err := r.launcher.CreateRun(ctx, wf, initial)
	if err != nil {
		return nil, err
	}
	r.metrics.IncrementTriggers(kind)
	r.emitter.Emit(emit.Event{
		RunID:      run.ID,
		WorkflowID: wf.ID,
		Msg:        emit.TriggerFired,
		Meta:       map[string]any{"trigger": kind},
	})
	return run, nil
}

func (r *Registry) timestamp() string {
	return r.clock().UTC().Format(graph.TimestampLayout)
}

// stopLocked stops the schedules of workflow id. r.mu must be held.
func (r *Registry) stopLocked(id string) {
	for _, s := range r.schedules[id] {
		s.ticker.Stop()
		close(s.stop)
	}
	delete(r.schedules, id)
}

// rebuildWebhooksLocked recomputes the key routes. r.mu must be held.
func (r *Registry) rebuildWebhooksLocked() {
	ids := make([]string, 0, len(r.workflows))
	for id := range r.workflows {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	r.webhooks = make(map[string][]string)
	for _, id := range ids {
		for _, n := range r.workflows[id].Nodes {
			if n.Type != graph.TypeWebhook {
				continue
			}
			key := keyString(n.Config["key"])
			if key == "" {
				continue
			}
			r.webhooks[key] = append(r.webhooks[key], id)
		}
	}
}

// IntervalSeconds reads a cron interval given as a number or numeric string.
// Anything else is zero.
func IntervalSeconds(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err == nil {
			return f
		}
	}
	return 0
}

func keyString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if !t {
			return ""
		}
	case float64:
		if t == 0 {
			return ""
		}
	}
	return fmt.Sprint(v)
}
