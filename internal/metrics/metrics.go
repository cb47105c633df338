// Package metrics exposes Prometheus collectors for the price engine.
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
	fetchesTotal               *prometheus.CounterVec
	activeFetches              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	throttleEventsTotal        *prometheus.CounterVec
	domainRate                 *prometheus.GaugeVec
	alertsTotal                *prometheus.CounterVec
	notificationFailuresTotal  *prometheus.CounterVec
	notificationsDroppedTotal  prometheus.Counter
	cyclesTotal                *prometheus.CounterVec
	cycleDurationSeconds       prometheus.Histogram
	robotsFallbackTotal        prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricewatch_fetches_total",
				Help: "Total number of price fetch attempts, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		activeFetches = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pricewatch_active_fetches",
				Help: "Number of URL fetches currently in flight.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pricewatch_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		throttleEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricewatch_throttle_events_total",
				Help: "Total number of throttling signals received, labeled by domain.",
			},
			[]string{"domain"},
		)

		domainRate = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pricewatch_domain_rate_rps",
				Help: "Current refill rate of each domain's token bucket.",
			},
			[]string{"domain"},
		)

		alertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricewatch_alerts_total",
				Help: "Total number of alerts raised, labeled by kind.",
			},
			[]string{"kind"},
		)

		notificationFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricewatch_notification_failures_total",
				Help: "Total number of alerts that could not be delivered, labeled by transport.",
			},
			[]string{"transport"},
		)

		notificationsDroppedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pricewatch_notifications_dropped_total",
				Help: "Total number of alerts dropped by the notification cap.",
			},
		)

		cyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricewatch_cycles_total",
				Help: "Total number of check cycles, labeled by completion status.",
			},
			[]string{"status"},
		)

		cycleDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pricewatch_cycle_duration_seconds",
				Help:    "Histogram of check cycle durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		)

		robotsFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pricewatch_robots_fallback_total",
				Help: "Total robots.txt probes that fell back to allow-all after TLS handshake timeouts.",
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
	Init()
	return promhttp.Handler()
}

// ObserveFetch counts one fetch attempt for site with the given outcome.
func ObserveFetch(site string, outcome string) {
	Init()
	fetchesTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
}

// IncActiveFetches increments the in-flight fetch gauge.
func IncActiveFetches() {
	Init()
	activeFetches.Inc()
}

// DecActiveFetches decrements the in-flight fetch gauge.
func DecActiveFetches() {
	Init()
	activeFetches.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveThrottle counts a throttling signal and records the new rate.
func ObserveThrottle(domain string, rps float64) {
	Init()
	throttleEventsTotal.WithLabelValues(domain).Inc()
	domainRate.WithLabelValues(domain).Set(rps)
}

// SetDomainRate records the current refill rate of a domain.
func SetDomainRate(domain string, rps float64) {
	Init()
	domainRate.WithLabelValues(domain).Set(rps)
}

// ObserveAlert counts a raised alert.
func ObserveAlert(kind string) {
	Init()
	alertsTotal.WithLabelValues(kind).Inc()
}

// ObserveNotificationFailure counts an undelivered alert.
func ObserveNotificationFailure(transport string) {
	Init()
	notificationFailuresTotal.WithLabelValues(transport).Inc()
}

// ObserveNotificationDropped counts an alert suppressed by the cap.
func ObserveNotificationDropped() {
	Init()
	notificationsDroppedTotal.Inc()
}

// ObserveCycle records a finished cycle.
func ObserveCycle(duration time.Duration, timedOut bool) {
	Init()
	status := "completed"
	if timedOut {
		status = "timed_out"
	}
	cyclesTotal.WithLabelValues(status).Inc()
	cycleDurationSeconds.Observe(duration.Seconds())
}

// ObserveRobotsFallback increments the robots.txt fallback counter.
func ObserveRobotsFallback() {
	Init()
	robotsFallbackTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
