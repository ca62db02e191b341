// Package metrics provides Prometheus instrumentation for the triage
// service. It exposes counters for message and decision throughput,
// histograms for classifier latency and batch sizing, and a gauge for
// in-flight batches.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesAnalyzed counts every message accepted for analysis,
	// including cache hits and fast-path allows.
	MessagesAnalyzed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "triage_messages_analyzed_total",
		Help: "Total number of messages accepted for analysis",
	})

	// DecisionsTotal counts fresh decisions, labeled by verdict:
	// "allow", "watch", or "block".
	DecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_decisions_total",
		Help: "Total number of fresh triage decisions",
	}, []string{"decision"}) // decision = "allow", "watch", "block"

	// CacheHits counts messages resolved from the decision cache
	// without re-analysis.
	CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "triage_cache_hits_total",
		Help: "Total number of decisions served from the cache",
	})

	// ClassifierFailures counts classifier or sentiment calls that
	// errored or timed out and fell back to a neutral result.
	ClassifierFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "triage_classifier_failures_total",
		Help: "Total number of failed classifier calls",
	})

	// ClassifierLatency records end-to-end classifier call latency in
	// seconds, including sentiment scoring.
	ClassifierLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "triage_classifier_latency_seconds",
		Help:    "Classifier call latency in seconds",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15},
	})

	// BatchesInflight tracks the number of analyze batches currently
	// being processed.
	BatchesInflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "triage_batches_inflight",
		Help: "Number of analyze batches currently in flight",
	})

	// BatchSize records the number of messages per analyze batch.
	BatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "triage_batch_size",
		Help:    "Messages per analyze batch",
		Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
	})
)

func init() {
	prometheus.MustRegister(
		MessagesAnalyzed,
		DecisionsTotal,
		CacheHits,
		ClassifierFailures,
		ClassifierLatency,
		BatchesInflight,
		BatchSize,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
