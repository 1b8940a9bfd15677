// Package metrics exposes Prometheus collectors for the roster crawler.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Record outcomes.
const (
	OutcomeEmitted  = "emitted"
	OutcomeRejected = "rejected"
)

var (
	fetchesTotal               *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	bytesTotal                 *prometheus.CounterVec
	pagesTotal                 *prometheus.CounterVec
	recordsTotal               *prometheus.CounterVec
	invalidResponsesTotal      *prometheus.CounterVec
	sourcesTotal               *prometheus.CounterVec
	activeSources              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_fetches_total",
				Help: "Total number of source fetches, labeled by source, request kind and status.",
			},
			[]string{"source", "kind", "status"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "roster_fetch_duration_seconds",
				Help:    "Histogram of source fetch latencies, labeled by source and request kind.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"source", "kind"},
		)

		bytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_bytes_total",
				Help: "Total number of response bytes fetched, labeled by source.",
			},
			[]string{"source"},
		)

		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_query_pages_total",
				Help: "Total number of roster pages consumed, labeled by source.",
			},
			[]string{"source"},
		)

		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_records_total",
				Help: "Total number of booking records, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		invalidResponsesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_invalid_responses_total",
				Help: "Total number of responses that did not carry a usable payload.",
			},
			[]string{"source", "kind"},
		)

		sourcesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_sources_total",
				Help: "Total number of source harvests finished, labeled by status.",
			},
			[]string{"status"},
		)

		activeSources = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "roster_active_sources",
				Help: "Number of sources currently being harvested.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "roster_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests served, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
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

// ObserveFetch records one completed fetch attempt.
func ObserveFetch(source, kind, status string, bytesFetched int, duration time.Duration) {
	Init()
	fetchesTotal.WithLabelValues(source, kind, status).Inc()
	fetchDurationSeconds.WithLabelValues(source, kind).Observe(duration.Seconds())
	if bytesFetched > 0 {
		bytesTotal.WithLabelValues(source).Add(float64(bytesFetched))
	}
}

// ObservePage counts a consumed roster page.
func ObservePage(source string) {
	Init()
	pagesTotal.WithLabelValues(source).Inc()
}

// ObserveRecord counts a record by outcome.
func ObserveRecord(source, outcome string) {
	Init()
	recordsTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveInvalidResponse counts a payload rejected by the normalizer.
func ObserveInvalidResponse(source, kind string) {
	Init()
	invalidResponsesTotal.WithLabelValues(source, kind).Inc()
}

// ObserveSource counts a finished source harvest.
func ObserveSource(status string) {
	Init()
	sourcesTotal.WithLabelValues(status).Inc()
}

// IncActiveSources increments the active sources gauge.
func IncActiveSources() {
	Init()
	activeSources.Inc()
}

// DecActiveSources decrements the active sources gauge.
func DecActiveSources() {
	Init()
	activeSources.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
