package graph

import (
	"errors"
	"log/slog"
	"time"

	"github.com/dshills/nodeflow/graph/emit"
	"github.com/dshills/nodeflow/graph/store"
)

// Option is a functional option for configuring an Engine.
//
// Example:
//
//	engine, err := graph.New(
//	    nodes.New(),
//	    graph.WithMaxConcurrent(16),
//	    graph.WithStore(store.NewMemStore[graph.RunRecord]()),
//	    graph.WithEmitter(emit.NewLogEmitter(os.Stdout, false)),
//	)
type Option func(*engineConfig) error

// engineConfig collects options before they are applied to an Engine.
type engineConfig struct {
	maxConcurrent int
	store         store.Store[RunRecord]
	emitter       emit.Emitter
	metrics       *PrometheusMetrics
	logger        *slog.Logger
	clock         func() time.Time
	location      *time.Location
}

func defaultConfig() engineConfig {
	return engineConfig{
		emitter:  emit.NewNullEmitter(),
		logger:   slog.New(slog.DiscardHandler),
		clock:    time.Now,
		location: DefaultDisplayLocation(),
	}
}

// WithMaxConcurrent caps how many nodes of one batch execute at the same
// time. Zero, the default, runs a whole batch at once.
//
// The cap never breaks the batch barrier: the next batch starts only after
// every node of the current one has finished.
func WithMaxConcurrent(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 0 {
			return errors.New("max concurrent must be >= 0")
		}
		cfg.maxConcurrent = n
		return nil
	}
}

// WithStore persists runs on creation, on each status transition and at
// termination. Run and Logs fall back to the store for runs the engine no
// longer holds.
func WithStore(s store.Store[RunRecord]) Option {
	return func(cfg *engineConfig) error {
		cfg.store = s
		return nil
	}
}

// WithEmitter sets the destination of observability events.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *engineConfig) error {
		if e == nil {
			e = emit.NewNullEmitter()
		}
		cfg.emitter = e
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection.
//
// Example:
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewPrometheusMetrics(registry)
//	engine, err := graph.New(exec, graph.WithMetrics(metrics))
func WithMetrics(m *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.metrics = m
		return nil
	}
}

// WithLogger sets the logger for engine diagnostics that do not belong in a
// run log, such as store failures.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *engineConfig) error {
		if l == nil {
			return errors.New("logger must not be nil")
		}
		cfg.logger = l
		return nil
	}
}

// WithClock replaces time.Now. Tests use it to pin timestamps.
func WithClock(now func() time.Time) Option {
	return func(cfg *engineConfig) error {
		if now == nil {
			return errors.New("clock must not be nil")
		}
		cfg.clock = now
		return nil
	}
}

// WithDisplayLocation sets the timezone of the start node's closing report.
// Default: Asia/Shanghai.
func WithDisplayLocation(loc *time.Location) Option {
	return func(cfg *engineConfig) error {
		if loc == nil {
			return errors.New("location must not be nil")
		}
		cfg.location = loc
		return nil
	}
}
