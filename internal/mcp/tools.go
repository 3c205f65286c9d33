package mcp

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog/log"

	"github.com/cookiesen77-rgb/claude-memory/internal/digest"
	"github.com/cookiesen77-rgb/claude-memory/internal/privacy"
	"github.com/cookiesen77-rgb/claude-memory/internal/tokens"
	"github.com/cookiesen77-rgb/claude-memory/internal/worker/observe"
)

// DefaultSearchLimit caps search results unless the caller asks for more.
const DefaultSearchLimit = 20

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("init_session",
		mcp.WithDescription(
			"Start or resume a memory session. Creates the session on first call and "+
				"advances the turn counter on every call. Returns the database id and the "+
				"current prompt number.",
		),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Stable session token, unique per conversation"),
		),
		mcp.WithString("project",
			mcp.Required(),
			mcp.Description("Project the session works on"),
		),
		mcp.WithString("user_prompt",
			mcp.Description("The user's opening message for this turn"),
		),
	), s.handleInitSession)

	s.mcp.AddTool(mcp.NewTool("record_observation",
		mcp.WithDescription(
			"Record one tool event as an observation. Pure reads and listings are "+
				"filtered out; everything else is classified and stored immediately.",
		),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session token from init_session"),
		),
		mcp.WithString("project",
			mcp.Description("Project override; defaults to the session's project"),
		),
		mcp.WithString("tool_name",
			mcp.Required(),
			mcp.Description("Name of the tool that ran"),
		),
		mcp.WithString("tool_input",
			mcp.Description("Tool input as JSON"),
		),
		mcp.WithString("tool_output",
			mcp.Description("Tool output text"),
		),
		mcp.WithString("cwd",
			mcp.Description("Working directory, used to shorten file paths"),
		),
	), s.handleRecordObservation)

	s.mcp.AddTool(mcp.NewTool("finalize_summary",
		mcp.WithDescription(
			"Finish a session: stores a summary derived from the last exchange and "+
				"marks the session completed.",
		),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session token from init_session"),
		),
		mcp.WithString("last_user_message",
			mcp.Description("The user's final message"),
		),
		mcp.WithString("last_assistant_message",
			mcp.Description("The assistant's final message"),
		),
	), s.handleFinalizeSummary)

	s.mcp.AddTool(mcp.NewTool("get_context",
		mcp.WithDescription(
			"Render the context digest for a project: recent observations grouped by "+
				"day plus the last session summary.",
		),
		mcp.WithString("project",
			mcp.Required(),
			mcp.Description("Project to summarize"),
		),
	), s.handleGetContext)

	s.mcp.AddTool(mcp.NewTool("search",
		mcp.WithDescription(
			"Full-text search over stored observations, newest first. Returns id, "+
				"type, title, subtitle, project, and created_at per hit.",
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search keywords"),
		),
		mcp.WithString("project",
			mcp.Description("Restrict results to one project"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max results (default: 20)"),
		),
	), s.handleSearch)

	s.mcp.AddTool(mcp.NewTool("get_observation",
		mcp.WithDescription("Fetch one observation in full by id."),
		mcp.WithNumber("id",
			mcp.Required(),
			mcp.Description("Observation id from a search result"),
		),
	), s.handleGetObservation)

	s.mcp.AddTool(mcp.NewTool("list_projects",
		mcp.WithDescription("List every project that has recorded sessions."),
	), s.handleListProjects)
}

func (s *Server) handleInitSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := req.GetString("session_id", "")
	project := req.GetString("project", "")
	if sessionID == "" || project == "" {
		return mcp.NewToolResultError("session_id and project are required"), nil
	}
	userPrompt := privacy.Clean(req.GetString("user_prompt", ""))

	dbID, err := s.sessions.CreateSDKSession(ctx, sessionID, project, userPrompt)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("create session: %v", err)), nil
	}

	promptNumber, err := s.sessions.IncrementPromptCounter(ctx, sessionID)
	if err != nil {
		log.Warn().Err(err).Str("sessionId", sessionID).Msg("Prompt counter increment failed")
		promptNumber = 1
	}

	if userPrompt != "" {
		if _, err := s.prompts.SaveUserPrompt(ctx, sessionID, int(promptNumber), userPrompt); err != nil {
			log.Warn().Err(err).Str("sessionId", sessionID).Msg("Prompt save failed")
		}
	}

	return jsonResult(map[string]interface{}{
		"dbId":         dbID,
		"promptNumber": promptNumber,
	})
}

func (s *Server) handleRecordObservation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := req.GetString("session_id", "")
	toolName := req.GetString("tool_name", "")
	if sessionID == "" || toolName == "" {
		return mcp.NewToolResultError("session_id and tool_name are required"), nil
	}
	toolOutput := req.GetString("tool_output", "")

	parsed, ok := observe.ClassifyTool(toolName, rawArg(req, "tool_input"), toolOutput, req.GetString("cwd", ""))
	if !ok {
		return jsonResult(map[string]interface{}{"accepted": false})
	}

	project := req.GetString("project", "")
	if project == "" {
		if row, err := s.sessions.GetSessionByID(ctx, sessionID); err == nil && row != nil {
			project = row.Project
		}
	}

	promptNumber, err := s.sessions.GetPromptCounter(ctx, sessionID)
	if err != nil {
		promptNumber = 1
	}

	id, _, err := s.observations.StoreObservation(ctx, sessionID, project, parsed, int(promptNumber), int64(tokens.Estimate(toolOutput)))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("store observation: %v", err)), nil
	}

	return jsonResult(map[string]interface{}{
		"accepted": true,
		"id":       id,
	})
}

func (s *Server) handleFinalizeSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := req.GetString("session_id", "")
	if sessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}

	row, err := s.sessions.GetSessionByID(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("session lookup: %v", err)), nil
	}
	if row == nil {
		return mcp.NewToolResultError(fmt.Sprintf("unknown session: %s", sessionID)), nil
	}

	lastAssistant := req.GetString("last_assistant_message", "")
	summary := observe.FallbackSummary(req.GetString("last_user_message", ""), lastAssistant)

	promptNumber, err := s.sessions.GetPromptCounter(ctx, sessionID)
	if err != nil {
		promptNumber = 1
	}

	id, _, err := s.summaries.StoreSummary(ctx, sessionID, row.Project, summary, int(promptNumber), int64(tokens.Estimate(lastAssistant)))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("store summary: %v", err)), nil
	}

	if err := s.sessions.MarkSessionCompleted(ctx, sessionID); err != nil {
		log.Warn().Err(err).Str("sessionId", sessionID).Msg("Session completion mark failed")
	}

	return jsonResult(map[string]interface{}{
		"accepted": true,
		"id":       id,
	})
}

func (s *Server) handleGetContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project := req.GetString("project", "")
	if project == "" {
		return mcp.NewToolResultError("project is required"), nil
	}

	text, err := s.synthesizer.Build(ctx, digest.Options{Project: project})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("build context: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// searchHit is the per-result shape of the search tool.
type searchHit struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title,omitempty"`
	Subtitle  string `json:"subtitle,omitempty"`
	Project   string `json:"project"`
	CreatedAt int64  `json:"created_at"`
}

func (s *Server) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}
	project := req.GetString("project", "")
	limit := intArg(req, "limit", DefaultSearchLimit)

	rows, err := s.observations.SearchObservations(ctx, query, project, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search: %v", err)), nil
	}

	hits := make([]searchHit, 0, len(rows))
	for _, row := range rows {
		hits = append(hits, searchHit{
			ID:        row.ID,
			Type:      string(row.Type),
			Title:     row.Title.String,
			Subtitle:  row.Subtitle.String,
			Project:   row.Project,
			CreatedAt: row.CreatedAtEpoch,
		})
	}
	return jsonResult(hits)
}

func (s *Server) handleGetObservation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := intArg(req, "id", 0)
	if id <= 0 {
		return mcp.NewToolResultError("id is required"), nil
	}

	row, err := s.observations.GetObservationByID(ctx, int64(id))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("fetch observation: %v", err)), nil
	}
	if row == nil {
		return mcp.NewToolResultError(fmt.Sprintf("observation %d not found", id)), nil
	}
	return jsonResult(row)
}

func (s *Server) handleListProjects(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	names, err := s.sessions.GetAllProjects(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list projects: %v", err)), nil
	}
	if names == nil {
		names = []string{}
	}
	return jsonResult(names)
}

// jsonResult wraps a JSON payload as a text tool result.
func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// intArg reads a numeric argument; JSON numbers arrive as float64.
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// rawArg returns an argument as JSON bytes whether the caller passed a
// string or a structured value.
func rawArg(req mcp.CallToolRequest, key string) []byte {
	v, ok := req.GetArguments()[key]
	if !ok || v == nil {
		return nil
	}
	if s, ok := v.(string); ok {
		return []byte(s)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
