package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/Sentinel-Gate/mcp-bridge/internal/domain/session"
)

// defaultProbeTimeout bounds the upstream probe of one health check.
const defaultProbeTimeout = 5 * time.Second

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`            // "ok" or "degraded"
	Checks  map[string]string `json:"checks"`            // Component check results
	Version string            `json:"version,omitempty"` // Optional version info
}

// UpstreamProber checks whether the upstream answers.
type UpstreamProber interface {
	Probe(ctx context.Context) error
}

// SessionReporter exposes the shared upstream session.
type SessionReporter interface {
	State() session.State
	Current() (session.Session, bool)
}

// HealthChecker verifies component health.
type HealthChecker struct {
	prober       UpstreamProber
	sessions     SessionReporter
	upstreamURL  string
	version      string
	probeTimeout time.Duration
}

// NewHealthChecker creates a HealthChecker. Pass nil for components that
// aren't available.
func NewHealthChecker(prober UpstreamProber, sessions SessionReporter, upstreamURL, version string) *HealthChecker {
	return &HealthChecker{
		prober:       prober,
		sessions:     sessions,
		upstreamURL:  upstreamURL,
		version:      version,
		probeTimeout: defaultProbeTimeout,
	}
}

// Check performs health checks on all components. Only an unreachable
// upstream degrades the status; having no session is normal.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.prober != nil {
		pctx, cancel := context.WithTimeout(ctx, h.probeTimeout)
		err := h.prober.Probe(pctx)
		cancel()
		if err != nil {
			checks["upstream"] = "unreachable"
			healthy = false
		} else {
			checks["upstream"] = "ok"
		}
	} else {
		checks["upstream"] = "not configured"
	}
	if h.upstreamURL != "" {
		checks["upstream_url"] = h.upstreamURL
	}

	if h.sessions != nil {
		checks["session"] = string(h.sessions.State())
		if cur, ok := h.sessions.Current(); ok {
			checks["session_fingerprint"] = cur.Fingerprint()
			checks["session_age"] = time.Since(cur.CreatedAt).Truncate(time.Second).String()
		}
	} else {
		checks["session"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "ok"
	if !healthy {
		status = "degraded"
	}

	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable) // 503
		} else {
			w.WriteHeader(http.StatusOK) // 200
		}

		_ = json.NewEncoder(w).Encode(health)
	})
}
