package http

import (
	"net/http"
	"strings"
	"time"
)

// MetricsMiddleware records request count, latency, response size and
// in-flight requests. Scrapes and health checks are not counted.
func MetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" || r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			metrics.InFlightRequests.Inc()
			defer metrics.InFlightRequests.Dec()

			start := time.Now()
			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			route := routeLabel(r.URL.Path)
			metrics.RequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
			metrics.RequestsTotal.WithLabelValues(route, r.Method, statusClass(rec.status)).Inc()
			metrics.ResponseBytes.WithLabelValues(route).Observe(float64(rec.written))
		})
	}
}

// responseRecorder captures the status code and body size of a response.
type responseRecorder struct {
	http.ResponseWriter
	status  int
	written int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.written += n
	return n, err
}

// Flush delegates to the underlying ResponseWriter if it supports http.Flusher.
func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// routeLabel collapses request paths onto the served routes so that
// arbitrary paths cannot grow label cardinality.
func routeLabel(path string) string {
	switch {
	case path == "/mcp" || strings.HasPrefix(path, "/mcp/"):
		return "/mcp"
	case path == "/":
		return "/"
	default:
		return "other"
	}
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
