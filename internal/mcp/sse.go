package mcp

import (
	"net/http"

	"github.com/mark3labs/mcp-go/server"
)

// SSETransport mounts the MCP server on an existing HTTP router. The
// stream endpoint announces a per-session message URL keyed by a
// generated session id; responses to posted messages arrive on the
// stream as message events.
type SSETransport struct {
	sse *server.SSEServer
}

// NewSSETransport wraps a Server for HTTP serving.
func NewSSETransport(s *Server) *SSETransport {
	return &SSETransport{sse: server.NewSSEServer(s.mcp)}
}

// HandleSSE opens the event stream for one client.
func (t *SSETransport) HandleSSE(w http.ResponseWriter, r *http.Request) {
	t.sse.SSEHandler().ServeHTTP(w, r)
}

// HandleMessage accepts one JSON-RPC message for a connected client.
func (t *SSETransport) HandleMessage(w http.ResponseWriter, r *http.Request) {
	t.sse.MessageHandler().ServeHTTP(w, r)
}
