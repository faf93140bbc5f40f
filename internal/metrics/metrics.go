package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "panel",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "panel",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.3, 0.5, 1, 2, 5},
	}, []string{"method", "path"})

	BackendRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "panel",
		Name:      "backend_requests_total",
		Help:      "Total requests to the recommendation backend by endpoint and result status.",
	}, []string{"endpoint", "status"})

	BackendRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "panel",
		Name:      "backend_request_duration_seconds",
		Help:      "Recommendation backend request duration in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	RecommendOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "panel",
		Name:      "recommend_outcomes_total",
		Help:      "Recommend flow outcomes: succeeded, validation, server_error, connect_error.",
	}, []string{"outcome"})

	SuggestionsDiscardedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "panel",
		Name:      "suggestions_discarded_total",
		Help:      "Suggestion responses dropped because a newer fetch was dispatched.",
	})

	ActivePanels = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "panel",
		Name:      "active_panels",
		Help:      "Number of live panel sessions.",
	})

	WSConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "panel",
		Name:      "ws_connections",
		Help:      "Number of open WebSocket connections.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		BackendRequestsTotal,
		BackendRequestDuration,
		RecommendOutcomesTotal,
		SuggestionsDiscardedTotal,
		ActivePanels,
		WSConnections,
	)
}
