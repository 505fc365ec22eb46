// Package telemetry holds the Prometheus collectors and tracer shared by the
// orchestrator, gateway and HTTP server.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "partyplanner"

// Metrics groups the service collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	runs           *prometheus.CounterVec
	steps          *prometheus.CounterVec
	gatewayCalls   *prometheus.CounterVec
	gatewayLatency *prometheus.HistogramVec
	embeddings     *prometheus.CounterVec
	queueEvents    *prometheus.CounterVec
	queueBacklog   *prometheus.GaugeVec
}

// NewMetrics creates collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "partyplanner_runs_total",
			Help: "Orchestration runs by final status",
		}, []string{"status"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "partyplanner_steps_total",
			Help: "Plan steps processed by outcome tag",
		}, []string{"tag"}),
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "partyplanner_gateway_calls_total",
			Help: "Model backend round trips by operation and result",
		}, []string{"op", "result"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "partyplanner_gateway_latency_seconds",
			Help:    "Model backend round trip latency",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"op"}),
		embeddings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "partyplanner_embedding_inputs_total",
			Help: "Texts embedded by model",
		}, []string{"model"}),
		queueEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "partyplanner_queue_events_total",
			Help: "Run queue events by kind",
		}, []string{"event"}),
		queueBacklog: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "partyplanner_queue_backlog",
			Help: "Run queue entries pending acknowledgement or not yet delivered",
		}, []string{"state"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.runs, m.steps, m.gatewayCalls, m.gatewayLatency, m.embeddings, m.queueEvents, m.queueBacklog,
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the collected metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RunFinished counts a run by status: complete, partial or failed.
func (m *Metrics) RunFinished(status string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
}

// StepProcessed counts one step outcome.
func (m *Metrics) StepProcessed(tag string) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(tag).Inc()
}

// GatewayCall records a backend round trip. result is ok, error or timeout.
func (m *Metrics) GatewayCall(op, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.gatewayCalls.WithLabelValues(op, result).Inc()
	m.gatewayLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// EmbeddingInputs counts embedded texts.
func (m *Metrics) EmbeddingInputs(model string, n int) {
	if m == nil {
		return
	}
	m.embeddings.WithLabelValues(model).Add(float64(n))
}

// QueueEvent counts a run queue event such as published, acked or failed.
func (m *Metrics) QueueEvent(event string) {
	if m == nil {
		return
	}
	m.queueEvents.WithLabelValues(event).Inc()
}

// QueueBacklog sets the consumer group backlog gauges.
func (m *Metrics) QueueBacklog(pending, lag int64) {
	if m == nil {
		return
	}
	m.queueBacklog.WithLabelValues("pending").Set(float64(pending))
	m.queueBacklog.WithLabelValues("undelivered").Set(float64(lag))
}

// Tracer returns the service tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartSpan starts a span on the service tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return Tracer().Start(ctx, name, opts...)
}
