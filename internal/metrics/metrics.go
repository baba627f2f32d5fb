package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	CatalogRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spacescope",
		Name:      "catalog_requests_total",
		Help:      "Total catalog API calls by operation and result status.",
	}, []string{"op", "status"})

	CatalogRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "spacescope",
		Name:      "catalog_request_duration_seconds",
		Help:      "Catalog API call duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10},
	}, []string{"op"})

	RetryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spacescope",
		Name:      "retry_attempts_total",
		Help:      "Operations re-invoked by the retry controller, by stream and outcome.",
	}, []string{"stream", "outcome"})

	StaleResponsesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spacescope",
		Name:      "stale_responses_total",
		Help:      "Responses dropped because a newer request superseded them.",
	}, []string{"stream"})

	HistoryFallbacksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spacescope",
		Name:      "history_fallbacks_total",
		Help:      "History operations served by the local cache after a backend failure.",
	}, []string{"op"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spacescope",
		Name:      "http_requests_total",
		Help:      "Reference server requests by method, route and status code.",
	}, []string{"method", "route", "status"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		CatalogRequestsTotal,
		CatalogRequestDuration,
		RetryAttemptsTotal,
		StaleResponsesTotal,
		HistoryFallbacksTotal,
		HTTPRequestsTotal,
	)
}
