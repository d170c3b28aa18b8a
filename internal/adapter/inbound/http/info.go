package http

// endpointInfo describes the bridge in the GET / and GET /mcp documents.
type endpointInfo struct {
	UpstreamURL     string
	ProtocolVersion string
	Version         string
}

type usageExample struct {
	Method      string         `json:"method"`
	ContentType string         `json:"content_type"`
	Body        map[string]any `json:"body"`
}

type mcpDocument struct {
	Protocol       string       `json:"protocol"`
	Version        string       `json:"version"`
	Transport      string       `json:"transport"`
	Note           string       `json:"note"`
	UpstreamServer string       `json:"upstream_server"`
	Usage          usageExample `json:"usage"`
}

type rootDocument struct {
	Service        string            `json:"service"`
	Description    string            `json:"description"`
	Version        string            `json:"version,omitempty"`
	UpstreamServer string            `json:"upstream_server"`
	Endpoints      map[string]string `json:"endpoints"`
}

func (i endpointInfo) mcpDocument() mcpDocument {
	return mcpDocument{
		Protocol:       "MCP JSON-RPC",
		Version:        i.ProtocolVersion,
		Transport:      "HTTP POST",
		Note:           "This endpoint accepts POST requests with JSON-RPC messages",
		UpstreamServer: i.UpstreamURL,
		Usage: usageExample{
			Method:      "POST",
			ContentType: "application/json",
			Body: map[string]any{
				"jsonrpc": "2.0",
				"id":      1,
				"method":  "tools/list",
				"params":  map[string]any{},
			},
		},
	}
}

func (i endpointInfo) rootDocument() rootDocument {
	return rootDocument{
		Service:        "MCP Bridge Server",
		Description:    "Translates plain JSON-RPC calls to an MCP Streamable HTTP upstream",
		Version:        i.Version,
		UpstreamServer: i.UpstreamURL,
		Endpoints: map[string]string{
			"mcp":     "/mcp (POST - JSON-RPC endpoint)",
			"health":  "/health (GET - health check)",
			"metrics": "/metrics (GET - Prometheus metrics)",
		},
	}
}
