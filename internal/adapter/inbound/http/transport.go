package http

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Sentinel-Gate/mcp-bridge/internal/port/inbound"
)

// shutdownTimeout bounds graceful shutdown of the server and the hooks.
const shutdownTimeout = 10 * time.Second

// HTTPTransport is the inbound adapter that exposes the gateway to callers
// speaking plain JSON-RPC over HTTP.
type HTTPTransport struct {
	gateway        inbound.Gateway
	server         *http.Server
	addr           string
	allowedOrigins []string
	certFile       string
	keyFile        string
	logger         *slog.Logger
	registry       *prometheus.Registry
	metrics        *Metrics       // Prometheus metrics
	healthChecker  *HealthChecker // Health check handler
	info           endpointInfo
	shutdownHooks  []func(context.Context) error

	mu       sync.Mutex
	listener net.Listener
}

// Option is a functional option for configuring HTTPTransport.
type Option func(*HTTPTransport)

// WithAddr sets the listen address for the HTTP server.
// Default is "0.0.0.0:8002".
func WithAddr(addr string) Option {
	return func(t *HTTPTransport) {
		t.addr = addr
	}
}

// WithTLS enables TLS with the provided certificate and key files.
// If not set, the server runs without TLS (plain HTTP).
func WithTLS(certFile, keyFile string) Option {
	return func(t *HTTPTransport) {
		t.certFile = certFile
		t.keyFile = keyFile
	}
}

// WithAllowedOrigins sets the allowed origins for DNS rebinding protection.
// If empty, all requests with an Origin header are blocked (local-only mode).
// Example: []string{"https://example.com", "http://localhost:3000"}
func WithAllowedOrigins(origins []string) Option {
	return func(t *HTTPTransport) {
		t.allowedOrigins = origins
	}
}

// WithLogger sets the logger for the HTTP transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *HTTPTransport) {
		t.logger = logger
	}
}

// WithHealthChecker sets the health checker for the /health endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(t *HTTPTransport) {
		t.healthChecker = hc
	}
}

// WithRegistry sets the Prometheus registry served on /metrics. The caller
// is responsible for registering runtime collectors on it.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(t *HTTPTransport) {
		t.registry = reg
	}
}

// WithEndpointInfo sets the details shown by GET / and GET /mcp.
func WithEndpointInfo(upstreamURL, protocolVersion, version string) Option {
	return func(t *HTTPTransport) {
		t.info = endpointInfo{
			UpstreamURL:     upstreamURL,
			ProtocolVersion: protocolVersion,
			Version:         version,
		}
	}
}

// WithShutdownHook registers fn to run after the server stopped accepting
// requests, e.g. to terminate the upstream session.
func WithShutdownHook(fn func(context.Context) error) Option {
	return func(t *HTTPTransport) {
		t.shutdownHooks = append(t.shutdownHooks, fn)
	}
}

// NewHTTPTransport creates an HTTP transport adapter wrapping the given gateway.
func NewHTTPTransport(gateway inbound.Gateway, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		gateway:        gateway,
		addr:           "0.0.0.0:8002",
		allowedOrigins: []string{},
		logger:         slog.Default(),
		info:           endpointInfo{ProtocolVersion: "2024-11-05"},
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.registry == nil {
		t.registry = prometheus.NewRegistry()
		t.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	t.metrics = NewMetrics(t.registry)

	return t
}

// Handler builds the routed and instrumented handler served by Start.
func (t *HTTPTransport) Handler() http.Handler {
	// Middleware order (outermost first):
	// 1. MetricsMiddleware - Record duration and status (MUST be outermost to capture full duration)
	// 2. RequestID - Extract/generate request ID and enrich logger
	// 3. RealIP - Add the caller address to the logger
	// 4. DNSRebinding - Security check for Origin header
	// 5. Handler - JSON-RPC handling
	wrap := func(h http.Handler) http.Handler {
		h = DNSRebindingProtection(t.allowedOrigins)(h)
		h = RealIPMiddleware(h)
		h = RequestIDMiddleware(t.logger)(h)
		return MetricsMiddleware(t.metrics)(h)
	}

	mux := http.NewServeMux()
	if t.healthChecker != nil {
		mux.Handle("/health", t.healthChecker.Handler())
	} else {
		// Fallback to simple handler if no checker configured
		mux.Handle("/health", healthHandler())
	}
	mux.Handle("/metrics", promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{
		Registry: t.registry,
	}))
	// Favicon handler to prevent browser 404 noise in logs
	mux.Handle("/favicon.ico", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	mux.Handle("/mcp", wrap(mcpHandler(t.gateway, t.info)))
	mux.Handle("/mcp/", wrap(mcpHandler(t.gateway, t.info)))
	mux.Handle("/", wrap(rootHandler(t.gateway, t.info)))
	return mux
}

// Start begins accepting HTTP connections and translating calls.
// It blocks until the context is cancelled or an error occurs.
func (t *HTTPTransport) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", t.addr, err)
	}

	t.mu.Lock()
	t.listener = ln
	t.server = &http.Server{
		Handler:           t.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if t.certFile != "" && t.keyFile != "" {
		t.server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}
	server := t.server
	t.mu.Unlock()

	errCh := make(chan error, 1)

	go func() {
		var err error
		if t.certFile != "" && t.keyFile != "" {
			t.logger.Info("starting HTTPS server", "addr", ln.Addr().String())
			err = server.ServeTLS(ln, t.certFile, t.keyFile)
		} else {
			t.logger.Info("starting HTTP server", "addr", ln.Addr().String())
			err = server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP server")
		return t.shutdown()
	case err := <-errCh:
		return err
	}
}

// Addr returns the bound listen address once Start is running.
func (t *HTTPTransport) Addr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

// shutdown performs graceful shutdown of the HTTP server, then runs the
// shutdown hooks.
func (t *HTTPTransport) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	t.mu.Lock()
	server := t.server
	t.mu.Unlock()

	var errs []error
	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			t.logger.Error("error during server shutdown", "error", err)
			errs = append(errs, err)
		}
	}

	for _, hook := range t.shutdownHooks {
		if err := hook(ctx); err != nil {
			t.logger.Warn("shutdown hook failed", "error", err)
			errs = append(errs, err)
		}
	}

	t.logger.Info("HTTP server shutdown complete")
	return errors.Join(errs...)
}

// Close gracefully shuts down the transport.
func (t *HTTPTransport) Close() error {
	t.mu.Lock()
	started := t.server != nil
	t.mu.Unlock()
	if !started {
		return nil
	}
	return t.shutdown()
}

// healthHandler returns an HTTP handler that responds with 200 OK for health checks.
func healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
}

// Compile-time check that HTTPTransport implements the Server interface.
var _ inbound.Server = (*HTTPTransport)(nil)
