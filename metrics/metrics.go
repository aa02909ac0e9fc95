// Package metrics exposes Prometheus counters for the record pipeline and
// serves them over a dedicated listener.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer owns a private registry and the HTTP server publishing it.
type MetricsServer struct {
	*http.Server

	registry *prometheus.Registry

	stageTotal    *prometheus.CounterVec
	stageFailures *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	authDecisions *prometheus.CounterVec
	blobBytes     prometheus.Counter
}

// New creates a metrics server for the given namespace, listening on addr.
// The registry includes Go runtime and process collectors alongside the
// pipeline counters.
func New(namespace, addr string) (*MetricsServer, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &MetricsServer{
		registry: registry,
		stageTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_total",
			Help:      "Pipeline stage executions by stage name.",
		}, []string{"stage"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_failures_total",
			Help:      "Pipeline stage failures by stage name.",
		}, []string{"stage"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Pipeline stage latency by stage name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		authDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorization_decisions_total",
			Help:      "Authorization outcomes by decision.",
		}, []string{"decision"}),
		blobBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blob_bytes_stored_total",
			Help:      "Total sealed payload bytes written to blob storage.",
		}),
	}
	registry.MustRegister(m.stageTotal, m.stageFailures, m.stageDuration, m.authDecisions, m.blobBytes)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	m.Server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return m, nil
}

// RecordStage counts one stage execution and its latency, and the failure
// if err is non-nil.
func (m *MetricsServer) RecordStage(stage string, d time.Duration, err error) {
	m.stageTotal.WithLabelValues(stage).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if err != nil {
		m.stageFailures.WithLabelValues(stage).Inc()
	}
}

// RecordAuthorization counts one authorization outcome, "granted" or "denied".
func (m *MetricsServer) RecordAuthorization(decision string) {
	m.authDecisions.WithLabelValues(decision).Inc()
}

// RecordBlobBytes counts sealed bytes written to blob storage.
func (m *MetricsServer) RecordBlobBytes(n int) {
	m.blobBytes.Add(float64(n))
}
