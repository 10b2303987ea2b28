package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	RowsWrittenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "donations_rows_written_total",
		Help: "Total number of donation records written to the store",
	}, []string{"source"})

	SourceRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "donations_source_runs_total",
		Help: "Total number of per-source ingestion runs by outcome (written, empty, failed)",
	}, []string{"source", "outcome"})

	SourceRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "donations_source_run_duration_seconds",
		Help:    "Time taken by one per-source ingestion run",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"source"})

	// Provider metrics
	ProviderRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "donations_provider_requests_total",
		Help: "Total number of upstream provider requests by HTTP status code",
	}, []string{"provider", "code"})

	RateLimitRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "donations_provider_rate_limit_retries_total",
		Help: "Total number of retries after a provider rate-limit response",
	}, []string{"provider"})

	// Currency metrics
	CurrencyFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "donations_currency_default_rate_used_total",
		Help: "Total number of times the hardcoded default cross rate replaced the live one",
	}, []string{"currency"})
)

// HTTP metrics
var HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "donations_http_requests_total",
	Help: "Total number of API requests by route and status code",
}, []string{"method", "route", "code"})
