// Package http provides the HTTP ingress of the bridge.
//
// Callers send plain JSON-RPC 2.0 messages in POST bodies and receive a
// single JSON-RPC response in the reply. They never see the event-stream
// framing or the session header of the upstream; the gateway service hides
// both.
//
// # Usage
//
//	transport := http.NewHTTPTransport(gateway,
//	    http.WithAddr("0.0.0.0:8002"),
//	    http.WithAllowedOrigins([]string{"https://chat.example.com"}),
//	    http.WithHealthChecker(http.NewHealthChecker(client, gateway.Sessions(), upstreamURL, version)),
//	    http.WithLogger(logger),
//	)
//	err := transport.Start(ctx)
//
// # Endpoints
//
//	POST /mcp    - Send JSON-RPC message, receive JSON-RPC response
//	POST /       - Same as POST /mcp
//	GET /mcp     - Endpoint usage document
//	GET /        - Service document
//	GET /health  - Upstream reachability and session state (200 ok, 503 degraded)
//	GET /metrics - Prometheus metrics
//
// # Status Codes
//
// Every JSON-RPC response, including gateway errors, is sent with 200 OK.
// Notifications (messages without an id) are answered with 202 Accepted and
// no body. Gateway errors use these codes:
//
//	-32700 parse error            -32600 invalid request
//	-32001 upstream unavailable   -32002 bad upstream response
//	-32003 upstream session invalid after one replay
//
// # Middleware Chain
//
// Requests pass through middleware in this order:
//
//  1. MetricsMiddleware - Request counts, latency and response sizes
//  2. RequestIDMiddleware - X-Request-ID and the request-scoped logger
//  3. RealIPMiddleware - Caller address from proxy headers
//  4. DNSRebindingProtection - Validates Origin header
//  5. Handler - Validation and translation
package http
