// Package metrics exposes Prometheus collectors for the sitewatch service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	checksTotal                *prometheus.CounterVec
	notificationsTotal         *prometheus.CounterVec
	fetchDurationSeconds       prometheus.Histogram
	fetchBytesTotal            prometheus.Counter
	lastCheckTimestampSeconds  prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		checksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewatch_checks_total",
				Help: "Total number of watcher cycles, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewatch_notifications_total",
				Help: "Total number of chat notifications, labeled by kind and status.",
			},
			[]string{"kind", "status"},
		)

		fetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sitewatch_fetch_duration_seconds",
				Help:    "Histogram of successful page fetch latencies.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		)

		fetchBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sitewatch_fetch_bytes_total",
				Help: "Total number of page bytes fetched.",
			},
		)

		lastCheckTimestampSeconds = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sitewatch_last_check_timestamp_seconds",
				Help: "Unix time of the most recent watcher cycle.",
			},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCheck counts a watcher cycle and records when it ran.
func ObserveCheck(outcome string, at time.Time) {
	checksTotal.WithLabelValues(outcome).Inc()
	if !at.IsZero() {
		lastCheckTimestampSeconds.Set(float64(at.Unix()))
	}
}

// ObserveNotification counts a notification attempt.
func ObserveNotification(kind, status string) {
	notificationsTotal.WithLabelValues(kind, status).Inc()
}

// ObserveFetch records the latency and size of a successful page fetch.
func ObserveFetch(duration time.Duration, bytesFetched int) {
	fetchDurationSeconds.Observe(duration.Seconds())
	if bytesFetched > 0 {
		fetchBytesTotal.Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
