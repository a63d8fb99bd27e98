package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "valetgate_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "valetgate_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	keyValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "valetgate_key_validations_total",
		Help: "Count of access key validation attempts by outcome",
	}, []string{"outcome"})

	tokensIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "valetgate_tokens_issued_total",
		Help: "Count of session tokens issued by kind (login or refresh)",
	}, []string{"kind"})

	reportDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "valetgate_report_duration_seconds",
		Help:    "Duration of report aggregation by report name",
		Buckets: prometheus.DefBuckets,
	}, []string{"report"})

	reportCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "valetgate_report_cache_total",
		Help: "Report cache lookups by result (hit or miss)",
	}, []string{"result"})

	liveFeedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "valetgate_live_feed_clients",
		Help: "Number of connected validation feed websocket clients",
	})
)

// ObserveHTTPRequest records an HTTP request metric
func ObserveHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// ObserveValidation counts one key validation attempt by outcome.
func ObserveValidation(outcome string) {
	keyValidations.WithLabelValues(outcome).Inc()
}

// ObserveTokenIssued counts one issued session token.
func ObserveTokenIssued(kind string) {
	tokensIssued.WithLabelValues(kind).Inc()
}

// ObserveReport records the duration of one report aggregation.
func ObserveReport(report string, duration time.Duration) {
	reportDuration.WithLabelValues(report).Observe(duration.Seconds())
}

// ObserveReportCache counts a report cache hit or miss.
func ObserveReportCache(result string) {
	reportCacheHits.WithLabelValues(result).Inc()
}

// IncrementLiveFeedClients increments the websocket client gauge.
func IncrementLiveFeedClients() {
	liveFeedClients.Inc()
}

// DecrementLiveFeedClients decrements the websocket client gauge.
func DecrementLiveFeedClients() {
	liveFeedClients.Dec()
}
