// Package mcp exposes the observation store over the Model Context
// Protocol, so any MCP-capable agent can record and recall session
// memory without going through the worker's HTTP API.
package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/cookiesen77-rgb/claude-memory/internal/db/sqlite"
	"github.com/cookiesen77-rgb/claude-memory/internal/digest"
)

const instructions = `claude-memory records what happened in each coding session and serves
it back later. Call init_session when a session begins, record_observation after
meaningful tool use, and finalize_summary when the session ends. Use get_context
at the start of a session to recover prior work on the project, and search to
find specific past changes.`

// Server dispatches the memory tools over any MCP transport.
type Server struct {
	mcp          *server.MCPServer
	sessions     *sqlite.SessionStore
	observations *sqlite.ObservationStore
	summaries    *sqlite.SummaryStore
	prompts      *sqlite.PromptStore
	synthesizer  *digest.Synthesizer
}

// NewServer registers the memory tools on a fresh MCP server.
func NewServer(version string, sessions *sqlite.SessionStore, observations *sqlite.ObservationStore, summaries *sqlite.SummaryStore, prompts *sqlite.PromptStore, synthesizer *digest.Synthesizer) *Server {
	s := &Server{
		sessions:     sessions,
		observations: observations,
		summaries:    summaries,
		prompts:      prompts,
		synthesizer:  synthesizer,
	}

	s.mcp = server.NewMCPServer(
		"claude-memory",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)
	s.registerTools()
	return s
}

// ServeStdio serves newline-delimited JSON-RPC over stdin and stdout
// until the stream closes. Logging must stay on stderr while this runs.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}
