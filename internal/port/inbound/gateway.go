// Package inbound defines the inbound port interfaces for the gateway core.
// Inbound adapters (HTTP) call these interfaces.
package inbound

import (
	"context"

	"github.com/Sentinel-Gate/mcp-bridge/pkg/mcp"
)

// Gateway translates one caller message into the caller's response.
type Gateway interface {
	// Handle returns the JSON-RPC response bytes for msg, or nil when msg
	// is a notification. Failures are encoded as JSON-RPC error responses.
	Handle(ctx context.Context, msg *mcp.Message) []byte
}

// Server is an inbound adapter exposing the gateway to callers.
type Server interface {
	// Start begins accepting callers.
	// Blocks until context is cancelled or an error occurs.
	// Returns nil on graceful shutdown, error on failure.
	Start(ctx context.Context) error

	// Close gracefully shuts down the server and cleans up resources.
	Close() error
}
