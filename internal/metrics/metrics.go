// Package metrics exposes Prometheus collectors for the batch crawler service.
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

// Delay kinds recorded by ObserveDelay.
const (
	DelayBreak    = "break"
	DelayRandom   = "random"
	DelayAdaptive = "adaptive"
	DelayHost     = "host"
)

var (
	itemsTotal                 *prometheus.CounterVec
	itemDurationSeconds        *prometheus.HistogramVec
	fetchesTotal               *prometheus.CounterVec
	batchesTotal               *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	delaySeconds               *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batchcrawl_items_total",
				Help: "Total number of batch items processed, labeled by final status.",
			},
			[]string{"status"},
		)

		itemDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "batchcrawl_item_duration_seconds",
				Help:    "Histogram of crawl-and-extract durations per item.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"status"},
		)

		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batchcrawl_fetches_total",
				Help: "Total number of page fetches, labeled by site, fetcher and status class.",
			},
			[]string{"site", "fetcher", "status"},
		)

		batchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batchcrawl_batches_total",
				Help: "Total number of batch runs that ended, labeled by resulting status.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "batchcrawl_active_workers",
				Help: "Number of workers currently processing an item.",
			},
		)

		delaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "batchcrawl_rate_limit_delay_seconds",
				Help:    "Histogram of politeness delays, labeled by kind.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"kind"},
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

// StatusClass buckets an HTTP status code into 2xx/3xx/4xx/5xx, or "error" when zero.
func StatusClass(code int) string {
	if code < 100 || code > 599 {
		return "error"
	}
	return strconv.Itoa(code/100) + "xx"
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveItem records the outcome and duration of one processed item.
func ObserveItem(status string, duration time.Duration) {
	Init()
	itemsTotal.WithLabelValues(status).Inc()
	itemDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
}

// ObserveFetch records one page fetch.
func ObserveFetch(rawURL, fetcher string, code int) {
	Init()
	fetchesTotal.WithLabelValues(SanitizeSite(rawURL), fetcher, StatusClass(code)).Inc()
}

// ObserveBatch increments the batch counter for the given final status.
func ObserveBatch(status string) {
	Init()
	batchesTotal.WithLabelValues(status).Inc()
}

// ObserveDelay records a politeness delay. Zero delays are ignored.
func ObserveDelay(kind string, d time.Duration) {
	if d <= 0 {
		return
	}
	Init()
	delaySeconds.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
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
