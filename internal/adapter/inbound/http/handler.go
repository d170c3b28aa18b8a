// Package http provides the HTTP ingress adapter for the bridge.
package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/elnormous/contenttype"

	"github.com/Sentinel-Gate/mcp-bridge/internal/port/inbound"
	"github.com/Sentinel-Gate/mcp-bridge/pkg/mcp"
)

// maxRequestBodySize is the maximum allowed request body size (1 MB).
const maxRequestBodySize = 1 << 20

var jsonMediaType = contenttype.NewMediaType("application/json")

// mcpHandler creates the handler for the /mcp endpoint.
// It routes requests by HTTP method.
func mcpHandler(gateway inbound.Gateway, info endpointInfo) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			handlePost(w, r, gateway)
		case http.MethodGet:
			writeJSON(w, http.StatusOK, info.mcpDocument())
		case http.MethodOptions:
			handleOptions(w, r)
		default:
			w.Header().Set("Allow", "GET, POST, OPTIONS")
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		}
	})
}

// rootHandler serves the service document on GET / and accepts JSON-RPC on
// POST / for callers configured with the bare base address.
func rootHandler(gateway inbound.Gateway, info endpointInfo) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		switch r.Method {
		case http.MethodPost:
			handlePost(w, r, gateway)
		case http.MethodGet:
			writeJSON(w, http.StatusOK, info.rootDocument())
		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		}
	})
}

// handlePost validates a JSON-RPC message from the caller, passes it to the
// gateway and writes the response.
func handlePost(w http.ResponseWriter, r *http.Request, gateway inbound.Gateway) {
	logger := LoggerFromContext(r.Context())

	// Validate content type (before reading body to fail fast)
	if r.Header.Get("Content-Type") != "" {
		ctype, err := contenttype.GetMediaType(r)
		if err != nil || !ctype.Matches(jsonMediaType) {
			writeJSONRPCError(w, nil, mcp.CodeParseError, "Parse error: content type must be application/json")
			return
		}
	}

	// Apply payload size limit before reading body
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer func() { _ = r.Body.Close() }()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeJSONRPCError(w, nil, mcp.CodeParseError, "Parse error: request body too large (max 1MB)")
			return
		}
		writeJSONRPCError(w, nil, mcp.CodeParseError, "Parse error: failed to read request body")
		return
	}

	if len(body) == 0 {
		writeJSONRPCError(w, nil, mcp.CodeParseError, "Parse error: empty request body")
		return
	}

	if !json.Valid(body) {
		writeJSONRPCError(w, nil, mcp.CodeParseError, "Parse error: invalid JSON")
		return
	}

	// Validate JSON-RPC required fields
	var rpcRequest struct {
		JSONRPC string          `json:"jsonrpc"`
		Method  string          `json:"method"`
		ID      json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(body, &rpcRequest); err != nil {
		// JSON is valid but not an object, e.g. a batch array or a string.
		writeJSONRPCError(w, nil, mcp.CodeInvalidRequest, "Invalid Request: request must be a JSON object")
		return
	}
	id := rawID(rpcRequest.ID)
	if rpcRequest.JSONRPC != "2.0" {
		writeJSONRPCError(w, id, mcp.CodeInvalidRequest, "Invalid Request: missing or invalid jsonrpc version (must be \"2.0\")")
		return
	}
	if rpcRequest.Method == "" {
		writeJSONRPCError(w, id, mcp.CodeInvalidRequest, "Invalid Request: missing method field")
		return
	}

	msg, err := mcp.WrapMessage(body, mcp.ClientToServer)
	if err != nil || !msg.IsRequest() {
		writeJSONRPCError(w, id, mcp.CodeInvalidRequest, "Invalid Request: malformed JSON-RPC message")
		return
	}

	logger.Debug("inbound call", "method", msg.Method(), "notification", msg.IsNotification())

	ctx := r.Context()
	resp := gateway.Handle(ctx, msg)
	if ctx.Err() != nil {
		// Client disconnected, don't write response
		return
	}

	// Notifications get no body; Streamable HTTP and plain callers alike
	// accept 202 here.
	if msg.IsNotification() {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp)
}

// rawID returns id for echoing in an error, or nil when absent or null.
func rawID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 || string(id) == "null" {
		return nil
	}
	return id
}

// handleOptions handles CORS preflight requests.
func handleOptions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
	w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours
	w.WriteHeader(http.StatusNoContent)
}

// writeJSONRPCError writes a JSON-RPC error response.
func writeJSONRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK) // JSON-RPC errors still return 200 OK
	_, _ = w.Write(mcp.EncodeError(id, code, message))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
