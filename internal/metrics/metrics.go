// Package metrics exposes Prometheus collectors for the scraper service.
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

// Scrape outcomes recorded per URL.
const (
	OutcomeCached = "cached"
	OutcomeFresh  = "fresh"
	OutcomeFailed = "failed"
)

var (
	scrapeResultsTotal         *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	jobsTotal                  *prometheus.CounterVec
	jobRetriesTotal            prometheus.Counter
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	persistenceFailuresTotal   *prometheus.CounterVec
	registrySweptJobsTotal     *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scrapeResultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_results_total",
				Help: "Total number of per-URL scrape results, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies, labeled by site.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"site"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
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

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_jobs_total",
				Help: "Total number of jobs reaching a terminal status, labeled by status.",
			},
			[]string{"status"},
		)

		jobRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_job_retries_total",
				Help: "Total number of job-level retries scheduled after pipeline faults.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		persistenceFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_persistence_failures_total",
				Help: "Total number of failed cache reads and writes, labeled by operation.",
			},
			[]string{"op"},
		)

		registrySweptJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_registry_swept_jobs_total",
				Help: "Total number of terminal jobs evicted from the status registry.",
			},
			[]string{"status"},
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
	Init()
	return promhttp.Handler()
}

// ObserveScrape increments the per-URL result counter.
func ObserveScrape(site string, outcome string) {
	Init()
	scrapeResultsTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
}

// ObserveFetch records the latency of one page fetch.
func ObserveFetch(site string, duration time.Duration) {
	Init()
	fetchDurationSeconds.WithLabelValues(SanitizeSite(site)).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	Init()
	jobsTotal.WithLabelValues(status).Inc()
}

// ObserveJobRetry increments the job retry counter.
func ObserveJobRetry() {
	Init()
	jobRetriesTotal.Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObservePersistenceFailure counts a failed cache read or write.
func ObservePersistenceFailure(op string) {
	Init()
	persistenceFailuresTotal.WithLabelValues(op).Inc()
}

// ObserveSwept records how many jobs of a status the registry evicted.
func ObserveSwept(status string, n int) {
	if n <= 0 {
		return
	}
	Init()
	registrySweptJobsTotal.WithLabelValues(status).Add(float64(n))
}
