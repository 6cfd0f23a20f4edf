// Package metrics exposes Prometheus collectors and OpenTelemetry spans for
// the import pipeline. A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const namespace = "familyfinance"

type Metrics struct {
	registry *prometheus.Registry
	tracer   trace.Tracer

	importJobs       *prometheus.CounterVec
	importRows       *prometheus.CounterVec
	importDuration   prometheus.Histogram
	categorizeBatch  *prometheus.CounterVec
	categorizedRows  prometheus.Counter
	schemasInferred  *prometheus.CounterVec
	tasksRetried     prometheus.Counter
	handoffEvictions prometheus.Counter
}

// New registers the pipeline collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tracer:   otel.Tracer("github.com/FACorreiaa/familyfinance"),
		importJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "jobs_total",
			Help:      "Import jobs that reached a terminal import status.",
		}, []string{"status", "parser"}),
		importRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "rows_total",
			Help:      "Rows processed by the import engine.",
		}, []string{"outcome"}),
		importDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "duration_seconds",
			Help:      "Time spent processing one import file.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		categorizeBatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "categorization",
			Name:      "batches_total",
			Help:      "Categorization batches by result.",
		}, []string{"result"}),
		categorizedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "categorization",
			Name:      "rows_total",
			Help:      "Transactions moved out of Uncategorized.",
		}),
		schemasInferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "schema",
			Name:      "inferred_total",
			Help:      "Schema inference attempts by result.",
		}, []string{"result"}),
		tasksRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "retries_total",
			Help:      "Pipeline stage retries.",
		}),
		handoffEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "handoff",
			Name:      "evictions_total",
			Help:      "Expired hand-off entries removed by the sweeper.",
		}),
	}

	m.registry.MustRegister(
		m.importJobs,
		m.importRows,
		m.importDuration,
		m.categorizeBatch,
		m.categorizedRows,
		m.schemasInferred,
		m.tasksRetried,
		m.handoffEvictions,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ImportFinished(status, parser string, imported, duplicates int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.importJobs.WithLabelValues(status, parser).Inc()
	m.importRows.WithLabelValues("imported").Add(float64(imported))
	m.importRows.WithLabelValues("duplicate").Add(float64(duplicates))
	m.importDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) CategorizationBatch(ok bool, categorized int) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.categorizeBatch.WithLabelValues(result).Inc()
	m.categorizedRows.Add(float64(categorized))
}

func (m *Metrics) SchemaInferred(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.schemasInferred.WithLabelValues("ok").Inc()
		return
	}
	m.schemasInferred.WithLabelValues("error").Inc()
}

func (m *Metrics) TaskRetried() {
	if m == nil {
		return
	}
	m.tasksRetried.Inc()
}

func (m *Metrics) HandoffEvicted(n int) {
	if m == nil {
		return
	}
	m.handoffEvictions.Add(float64(n))
}

// StartSpan opens a span named name. It falls back to the global tracer when
// m is nil so callers can always defer span.End().
func (m *Metrics) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("github.com/FACorreiaa/familyfinance")
	if m != nil {
		tracer = m.tracer
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
