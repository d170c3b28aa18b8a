package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of the HTTP ingress.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ResponseBytes    *prometheus.HistogramVec
	InFlightRequests prometheus.Gauge
}

// NewMetrics creates and registers the ingress metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcp_bridge",
				Name:      "http_requests_total",
				Help:      "Total HTTP requests served, by route, method and status class",
			},
			[]string{"route", "method", "code"}, // code=2xx/3xx/4xx/5xx
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mcp_bridge",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds, including the upstream round trip",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"route", "method"},
		),
		ResponseBytes: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mcp_bridge",
				Name:      "http_response_size_bytes",
				Help:      "Size of response bodies written to callers",
				Buckets:   prometheus.ExponentialBuckets(64, 4, 9), // 64B to 4MiB
			},
			[]string{"route"},
		),
		InFlightRequests: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "mcp_bridge",
				Name:      "http_in_flight_requests",
				Help:      "Number of HTTP requests currently being served",
			},
		),
	}
}
