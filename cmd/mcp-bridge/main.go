// Command mcp-bridge exposes a Streamable HTTP MCP server to callers that
// speak plain JSON-RPC over HTTP.
package main

import "github.com/Sentinel-Gate/mcp-bridge/cmd/mcp-bridge/cmd"

func main() {
	cmd.Execute()
}
