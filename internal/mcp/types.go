package mcp

// Transport selects how the MCP server is reached by its client.
type Transport string

const (
	// TransportStdio speaks MCP over the process's stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP serves the MCP Streamable HTTP protocol on a
	// TCP listener.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}
