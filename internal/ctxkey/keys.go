// Package ctxkey defines context keys shared by the ingress and egress
// adapters and the service layer. It imports nothing from this module.
package ctxkey

// LoggerKey holds the request-scoped *slog.Logger set by the HTTP middleware.
type LoggerKey struct{}

// RequestIDKey holds the caller's request id. The upstream client forwards it
// as X-Request-ID.
type RequestIDKey struct{}
