package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WeatherAPICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agriadvisor_weather_api_calls_total",
			Help: "Total weather provider API calls",
		},
		[]string{"endpoint", "status"},
	)

	WeatherAPILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agriadvisor_weather_api_latency_seconds",
			Help:    "Weather provider API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// WeatherBreakerState is 0 closed, 1 half-open, 2 open.
	WeatherBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agriadvisor_weather_breaker_state",
			Help: "Weather provider circuit breaker state",
		},
	)

	PredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agriadvisor_predictions_total",
			Help: "Total recommendations produced by the engine",
		},
		[]string{"recommendation"},
	)

	PersistenceTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agriadvisor_persistence_total",
			Help: "Persistence attempts by outcome and the step that failed",
		},
		[]string{"outcome", "failed_step"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agriadvisor_http_requests_total",
			Help: "HTTP requests served",
		},
		[]string{"route", "method", "status"},
	)
)
