// Package metrics exposes Prometheus collectors for the content crawler.
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

var (
	sourceRequestsTotal        *prometheus.CounterVec
	recordsTotal               *prometheus.CounterVec
	crawlDurationSeconds       *prometheus.HistogramVec
	faultsTotal                *prometheus.CounterVec
	watermarkMissesTotal       *prometheus.CounterVec
	storedRecordsTotal         *prometheus.CounterVec
	exportsTotal               *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		sourceRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contentcrawler_source_requests_total",
				Help: "Total number of page requests issued, labeled by source.",
			},
			[]string{"source"},
		)

		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contentcrawler_records_total",
				Help: "Total number of records returned by crawls, labeled by source and mode.",
			},
			[]string{"source", "mode"},
		)

		crawlDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "contentcrawler_crawl_duration_seconds",
				Help:    "Histogram of crawl latencies, labeled by source and mode.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"source", "mode"},
		)

		faultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contentcrawler_faults_total",
				Help: "Total number of failed crawls, labeled by source and fault kind.",
			},
			[]string{"source", "kind"},
		)

		watermarkMissesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contentcrawler_watermark_misses_total",
				Help: "Incremental crawls that exhausted the source without meeting the watermark.",
			},
			[]string{"source"},
		)

		storedRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contentcrawler_stored_records_total",
				Help: "Total number of records written to the record store, labeled by source.",
			},
			[]string{"source"},
		)

		exportsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contentcrawler_exports_total",
				Help: "Total number of export artifacts written, labeled by format.",
			},
			[]string{"format"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "contentcrawler_fetch_duration_seconds",
				Help:    "Histogram of upstream API fetch latencies, labeled by host and status.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"host", "status"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30},
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

// ObserveCrawl records a finished crawl.
func ObserveCrawl(source, mode string, requests, records int, duration time.Duration) {
	Init()
	sourceRequestsTotal.WithLabelValues(source).Add(float64(requests))
	recordsTotal.WithLabelValues(source, mode).Add(float64(records))
	crawlDurationSeconds.WithLabelValues(source, mode).Observe(duration.Seconds())
}

// ObserveFault counts a failed crawl by fault kind.
func ObserveFault(source, kind string) {
	Init()
	faultsTotal.WithLabelValues(source, kind).Inc()
}

// ObserveWatermarkMiss counts an incremental crawl that never met its watermark.
func ObserveWatermarkMiss(source string) {
	Init()
	watermarkMissesTotal.WithLabelValues(source).Inc()
}

// ObserveStored counts records persisted for a source.
func ObserveStored(source string, n int) {
	Init()
	storedRecordsTotal.WithLabelValues(source).Add(float64(n))
}

// ObserveExport counts a written export artifact.
func ObserveExport(format string) {
	Init()
	exportsTotal.WithLabelValues(format).Inc()
}

// ObserveFetch records one upstream request.
func ObserveFetch(rawURL string, status int, duration time.Duration) {
	Init()
	fetchDurationSeconds.WithLabelValues(SanitizeSite(rawURL), strconv.Itoa(status)).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
