// Package metrics exposes Prometheus collectors for the annotator service.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	edgeRequestsTotal       *prometheus.CounterVec
	edgeCacheLookupsTotal   *prometheus.CounterVec
	edgeInjectionsTotal     *prometheus.CounterVec
	edgeSubmissionsTotal    *prometheus.CounterVec
	analysisJobsTotal       *prometheus.CounterVec
	analyzerDurationSeconds *prometheus.HistogramVec
	retrySweepEnqueuedTotal prometheus.Counter
	queueDepthGauge         prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		edgeRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edge_requests_total",
				Help: "Total edge requests, labeled by outcome (skipped, injected, passthrough, origin_error).",
			},
			[]string{"outcome"},
		)

		edgeCacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edge_cache_lookups_total",
				Help: "Total metadata cache lookups, labeled by result.",
			},
			[]string{"result"},
		)

		edgeInjectionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edge_injections_total",
				Help: "Total JSON-LD injection attempts, labeled by result.",
			},
			[]string{"result"},
		)

		edgeSubmissionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edge_submissions_total",
				Help: "Total background analysis submissions, labeled by result and site.",
			},
			[]string{"result", "site"},
		)

		analysisJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analysis_jobs_total",
				Help: "Total analysis jobs processed, labeled by status.",
			},
			[]string{"status"},
		)

		analyzerDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "analyzer_duration_seconds",
				Help:    "Histogram of content analyzer call latencies, labeled by provider.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"provider"},
		)

		retrySweepEnqueuedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "retry_sweep_enqueued_total",
				Help: "Total jobs re-enqueued by the retry sweeper.",
			},
		)

		queueDepthGauge = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "analysis_queue_depth",
				Help: "Number of jobs currently waiting in the work queue.",
			},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL for use as a label.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveEdgeRequest increments the edge request counter.
func ObserveEdgeRequest(outcome string) {
	edgeRequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveCacheLookup increments the cache lookup counter.
func ObserveCacheLookup(result string) {
	edgeCacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveInjection increments the injection counter.
func ObserveInjection(result string) {
	edgeInjectionsTotal.WithLabelValues(result).Inc()
}

// ObserveSubmission increments the background submission counter. The site
// label is the page's hostname, sanitized via SanitizeSite.
func ObserveSubmission(result, site string) {
	edgeSubmissionsTotal.WithLabelValues(result, site).Inc()
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	analysisJobsTotal.WithLabelValues(status).Inc()
}

// ObserveAnalyzer records the duration of a content analyzer call.
func ObserveAnalyzer(provider string, duration time.Duration) {
	analyzerDurationSeconds.WithLabelValues(provider).Observe(duration.Seconds())
}

// ObserveRetryEnqueue increments the sweeper re-enqueue counter.
func ObserveRetryEnqueue() {
	retrySweepEnqueuedTotal.Inc()
}

// SetQueueDepth records the current work queue depth.
func SetQueueDepth(depth int) {
	queueDepthGauge.Set(float64(depth))
}
