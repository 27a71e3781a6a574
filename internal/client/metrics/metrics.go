// Package metrics holds the prometheus collectors of the client. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "memovault"

type Metrics struct {
	registry *prometheus.Registry

	syncRuns       *prometheus.CounterVec
	syncDuration   prometheus.Histogram
	syncUploaded   prometheus.Counter
	syncDownloaded prometheus.Counter
	queueAttempts  *prometheus.CounterVec
	queueDepth     *prometheus.GaugeVec
	conflicts      *prometheus.CounterVec
	searchLatency  prometheus.Histogram
	archiveOps     *prometheus.CounterVec
}

// New creates collectors registered on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "runs_total",
			Help: "Sync runs by result.",
		}, []string{"result"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "sync", Name: "duration_seconds",
			Help:    "Duration of sync runs.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		syncUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "uploaded_total",
			Help: "Change objects uploaded.",
		}),
		syncDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "downloaded_total",
			Help: "Change objects downloaded and applied.",
		}),
		queueAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "queue", Name: "attempts_total",
			Help: "Queue entry attempts by operation and outcome.",
		}, []string{"operation", "outcome"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "queue", Name: "entries",
			Help: "Queue entries by status.",
		}, []string{"status"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "conflicts_total",
			Help: "Resolved conflicts by winner.",
		}, []string{"winner"}),
		searchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "search", Name: "query_duration_seconds",
			Help:    "Full-text query latency.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		archiveOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "archive", Name: "operations_total",
			Help: "Exports and imports by result.",
		}, []string{"operation", "result"}),
	}
	reg.MustRegister(m.syncRuns, m.syncDuration, m.syncUploaded, m.syncDownloaded,
		m.queueAttempts, m.queueDepth, m.conflicts, m.searchLatency, m.archiveOps)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the collected metrics in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SyncFinished(result string, d time.Duration, uploaded, downloaded int) {
	if m == nil {
		return
	}
	m.syncRuns.WithLabelValues(result).Inc()
	m.syncDuration.Observe(d.Seconds())
	m.syncUploaded.Add(float64(uploaded))
	m.syncDownloaded.Add(float64(downloaded))
}

func (m *Metrics) QueueAttempt(operation, outcome string) {
	if m == nil {
		return
	}
	m.queueAttempts.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) QueueDepth(counts map[string]int) {
	if m == nil {
		return
	}
	m.queueDepth.Reset()
	for status, n := range counts {
		m.queueDepth.WithLabelValues(status).Set(float64(n))
	}
}

func (m *Metrics) Conflict(winner string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(winner).Inc()
}

func (m *Metrics) SearchQuery(d time.Duration) {
	if m == nil {
		return
	}
	m.searchLatency.Observe(d.Seconds())
}

func (m *Metrics) Archive(operation, result string) {
	if m == nil {
		return
	}
	m.archiveOps.WithLabelValues(operation, result).Inc()
}
