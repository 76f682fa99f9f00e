package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects engine metrics for Prometheus scraping.
//
// Metrics exposed (all namespaced with "nodeflow_"):
//
//  1. inflight_nodes (gauge): nodes executing right now, across all runs.
//  2. batch_size (gauge): size of the most recently dispatched batch.
//  3. node_latency_ms (histogram): node execution duration.
//     Labels: node_type, status (success/error/unsupported).
//  4. runs_total (counter): finished runs. Labels: status.
//  5. triggers_fired_total (counter): runs started by triggers. Labels: kind.
//  6. llm_requests_total (counter): LLM calls. Labels: dialect, outcome
//     (success/error/mock).
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewPrometheusMetrics(registry)
//	engine, _ := graph.New(exec, graph.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// A nil *PrometheusMetrics is valid and records nothing.
type PrometheusMetrics struct {
	inflightNodes prometheus.Gauge
	batchSize     prometheus.Gauge

	nodeLatency *prometheus.HistogramVec

	runs        *prometheus.CounterVec
	triggers    *prometheus.CounterVec
	llmRequests *prometheus.CounterVec

	registry prometheus.Registerer

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers all engine metrics with
// registry. A nil registry means prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	pm := &PrometheusMetrics{
		registry: registry,
		enabled:  true,
	}

	pm.inflightNodes = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "nodeflow",
		Name:      "inflight_nodes",
		Help:      "Current number of nodes executing across all runs",
	})

	pm.batchSize = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "nodeflow",
		Name:      "batch_size",
		Help:      "Number of nodes in the most recently dispatched scheduler batch",
	})

	pm.nodeLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "nodeflow",
		Name:      "node_latency_ms",
		Help:      "Node execution duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000},
	}, []string{"node_type", "status"})

	pm.runs = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nodeflow",
		Name:      "runs_total",
		Help:      "Finished workflow runs by terminal status",
	}, []string{"status"})

	pm.triggers = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nodeflow",
		Name:      "triggers_fired_total",
		Help:      "Runs started through the trigger registry by kind",
	}, []string{"kind"})

	pm.llmRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nodeflow",
		Name:      "llm_requests_total",
		Help:      "LLM node calls by dialect and outcome",
	}, []string{"dialect", "outcome"})

	return pm
}

func (pm *PrometheusMetrics) on() bool {
	if pm == nil {
		return false
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// AddInflightNodes adjusts the inflight gauge by delta.
func (pm *PrometheusMetrics) AddInflightNodes(delta int) {
	if !pm.on() {
		return
	}
	pm.inflightNodes.Add(float64(delta))
}

// UpdateBatchSize records the size of a dispatched batch.
func (pm *PrometheusMetrics) UpdateBatchSize(size int) {
	if !pm.on() {
		return
	}
	pm.batchSize.Set(float64(size))
}

// RecordNodeLatency observes one node execution.
func (pm *PrometheusMetrics) RecordNodeLatency(nodeType string, latency time.Duration, status string) {
	if !pm.on() {
		return
	}
	pm.nodeLatency.WithLabelValues(nodeType, status).Observe(float64(latency.Milliseconds()))
}

// IncrementRuns counts a run reaching status.
func (pm *PrometheusMetrics) IncrementRuns(status string) {
	if !pm.on() {
		return
	}
	pm.runs.WithLabelValues(status).Inc()
}

// IncrementTriggers counts a trigger firing.
func (pm *PrometheusMetrics) IncrementTriggers(kind string) {
	if !pm.on() {
		return
	}
	pm.triggers.WithLabelValues(kind).Inc()
}

// IncrementLLMRequests counts an LLM call.
func (pm *PrometheusMetrics) IncrementLLMRequests(dialect, outcome string) {
	if !pm.on() {
		return
	}
	pm.llmRequests.WithLabelValues(dialect, outcome).Inc()
}

// Disable stops metric recording. Useful for benchmarks.
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable resumes metric recording after Disable.
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}

// Reset zeroes gauges and clears the labelled series. Intended for tests.
func (pm *PrometheusMetrics) Reset() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.inflightNodes.Set(0)
	pm.batchSize.Set(0)
	pm.nodeLatency.Reset()
	pm.runs.Reset()
	pm.triggers.Reset()
	pm.llmRequests.Reset()
}
