package http

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/Sentinel-Gate/mcp-bridge/internal/ctxkey"
)

// HeaderRequestID carries the correlation id shared with callers and the
// upstream.
const HeaderRequestID = "X-Request-ID"

const maxRequestIDLen = 128

type clientIPContextKey struct{}

// RequestIDKey is the context key for the request id.
var RequestIDKey = ctxkey.RequestIDKey{}

// ClientIPKey is the context key for the caller's address.
var ClientIPKey = clientIPContextKey{}

// LoggerKey is the context key for the request-scoped logger.
var LoggerKey = ctxkey.LoggerKey{}

// RequestIDMiddleware adopts the caller's X-Request-ID, or generates one, and
// stores it with a logger carrying request_id in the context. The id is
// echoed on the response.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(HeaderRequestID)
			if !validRequestID(requestID) {
				requestID = uuid.NewString()
			}

			ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
			ctx = context.WithValue(ctx, LoggerKey, logger.With("request_id", requestID))

			w.Header().Set(HeaderRequestID, requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// validRequestID accepts short ids made of printable ASCII. Anything else is
// replaced so it cannot reach logs or the upstream request.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

// LoggerFromContext returns the request-scoped logger, or slog.Default().
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// DNSRebindingProtection rejects browser requests whose Origin is not in
// allowedOrigins. Requests without an Origin header come from non-browser
// clients and pass. With an empty allowlist every browser origin is refused.
func DNSRebindingProtection(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[strings.TrimRight(origin, "/")] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			if _, ok := allowed[origin]; !ok {
				LoggerFromContext(r.Context()).Warn("rejected request from disallowed origin", "origin", origin)
				http.Error(w, "Forbidden: origin not allowed", http.StatusForbidden)
				return
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Expose-Headers", HeaderRequestID)
			next.ServeHTTP(w, r)
		})
	}
}

// RealIPMiddleware stores the caller's address in the context and adds it to
// the request logger as client_ip.
func RealIPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := extractRealIP(r)
		ctx := context.WithValue(r.Context(), ClientIPKey, ip)
		ctx = context.WithValue(ctx, LoggerKey, LoggerFromContext(ctx).With("client_ip", ip))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractRealIP prefers the first X-Forwarded-For hop, then X-Real-IP, then
// the connection's remote address.
func extractRealIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
