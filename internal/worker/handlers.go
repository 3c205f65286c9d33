package worker

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/cookiesen77-rgb/claude-memory/internal/config"
	"github.com/cookiesen77-rgb/claude-memory/internal/db/sqlite"
	"github.com/cookiesen77-rgb/claude-memory/internal/digest"
	"github.com/cookiesen77-rgb/claude-memory/internal/privacy"
	"github.com/cookiesen77-rgb/claude-memory/internal/profiles"
	"github.com/cookiesen77-rgb/claude-memory/internal/search"
	"github.com/cookiesen77-rgb/claude-memory/internal/tokens"
	"github.com/cookiesen77-rgb/claude-memory/internal/worker/observe"
	"github.com/cookiesen77-rgb/claude-memory/internal/worker/session"
	"github.com/cookiesen77-rgb/claude-memory/pkg/models"
)

// duplicateThreshold is the Jaccard similarity at which two observations
// count as the same piece of work in search responses.
const duplicateThreshold = 0.4

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "starting"
	if s.ready.Load() {
		status = "ready"
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": s.version,
	})
}

func (s *Service) handleVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"version":  s.version,
		"instance": s.instanceID,
	})
}

func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		respondError(w, http.StatusServiceUnavailable, "worker is starting")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// requireReady rejects API calls until the service finishes starting.
func (s *Service) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			respondError(w, http.StatusServiceUnavailable, "worker is starting")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// countRequests feeds the total-requests counter.
func (s *Service) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.stats.RecordRequest()
		next.ServeHTTP(w, r)
	})
}

type sessionInitRequest struct {
	ClaudeSessionID string `json:"claudeSessionId"`
	Project         string `json:"project"`
	Prompt          string `json:"prompt"`
	CWD             string `json:"cwd"`
}

// handleSessionInit creates or refreshes the session row, advances the
// turn counter, records the prompt, and registers the live session.
func (s *Service) handleSessionInit(w http.ResponseWriter, r *http.Request) {
	var req sessionInitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ClaudeSessionID == "" || req.Project == "" {
		respondError(w, http.StatusBadRequest, "claudeSessionId and project are required")
		return
	}

	// Private tags never reach the store, in the prompt log or anywhere else.
	prompt := privacy.Clean(req.Prompt)

	ctx := r.Context()
	dbID, err := s.sessionStore.CreateSDKSession(ctx, req.ClaudeSessionID, req.Project, prompt)
	if err != nil {
		log.Error().Err(err).Str("sessionId", req.ClaudeSessionID).Msg("Session create failed")
		respondError(w, http.StatusInternalServerError, "create session failed")
		return
	}

	promptNumber, err := s.sessionStore.IncrementPromptCounter(ctx, req.ClaudeSessionID)
	if err != nil {
		log.Warn().Err(err).Str("sessionId", req.ClaudeSessionID).Msg("Prompt counter increment failed")
		promptNumber = 1
	}

	if prompt != "" {
		if _, err := s.promptStore.SaveUserPrompt(ctx, req.ClaudeSessionID, int(promptNumber), prompt); err != nil {
			log.Warn().Err(err).Str("sessionId", req.ClaudeSessionID).Msg("Prompt save failed")
		}
	}

	s.sessionManager.Register(dbID, req.ClaudeSessionID, req.Project, prompt, int(promptNumber))

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"dbId":         dbID,
		"promptNumber": promptNumber,
	})
}

type observationRequest struct {
	ClaudeSessionID string          `json:"claudeSessionId"`
	Project         string          `json:"project"`
	ToolName        string          `json:"toolName"`
	ToolInput       json.RawMessage `json:"toolInput"`
	ToolResponse    json.RawMessage `json:"toolResponse"`
	PromptNumber    int             `json:"promptNumber"`
	CWD             string          `json:"cwd"`
}

// handleObservations accepts one tool event. Filtered tools are
// acknowledged with accepted=false and never queued; everything else is
// queued for the processor.
func (s *Service) handleObservations(w http.ResponseWriter, r *http.Request) {
	var req observationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ClaudeSessionID == "" || req.ToolName == "" {
		respondError(w, http.StatusBadRequest, "claudeSessionId and toolName are required")
		return
	}

	// Classification is deterministic, so the accept decision can be
	// made here without consuming the queue slot.
	if _, ok := observe.ClassifyTool(req.ToolName, req.ToolInput, toolOutputText(req.ToolResponse), req.CWD); !ok {
		respondJSON(w, http.StatusOK, map[string]bool{"accepted": false})
		return
	}

	ctx := r.Context()
	sess := s.sessionManager.GetByClaudeID(req.ClaudeSessionID)
	if sess == nil {
		var err error
		sess, err = s.restoreSession(ctx, req.ClaudeSessionID, req.Project)
		if err != nil {
			log.Error().Err(err).Str("sessionId", req.ClaudeSessionID).Msg("Session restore failed")
			respondError(w, http.StatusInternalServerError, "session restore failed")
			return
		}
	}
	if sess == nil {
		// Never-seen session, typically an event arriving after a
		// worker restart erased the registry and the row.
		if req.Project == "" {
			respondError(w, http.StatusBadRequest, "project is required for unknown sessions")
			return
		}
		dbID, err := s.sessionStore.CreateSDKSession(ctx, req.ClaudeSessionID, req.Project, "")
		if err != nil {
			log.Error().Err(err).Str("sessionId", req.ClaudeSessionID).Msg("Session create failed")
			respondError(w, http.StatusInternalServerError, "create session failed")
			return
		}
		sess = s.sessionManager.Register(dbID, req.ClaudeSessionID, req.Project, "", 1)
	}

	promptNumber := req.PromptNumber
	if promptNumber <= 0 {
		promptNumber = sess.LastPromptNumber
	}

	s.sessionManager.Enqueue(sess.SessionDBID, session.PendingMessage{
		Type: session.MessageTypeObservation,
		Observation: &session.ObservationData{
			ToolName:     req.ToolName,
			ToolInput:    req.ToolInput,
			ToolResponse: req.ToolResponse,
			PromptNumber: promptNumber,
			CWD:          req.CWD,
		},
	})

	respondJSON(w, http.StatusOK, map[string]bool{"accepted": true})
}

// restoreSession re-registers a session the worker no longer tracks
// from its stored row. Returns nil when the store has never seen the
// session either.
func (s *Service) restoreSession(ctx context.Context, claudeSessionID, project string) (*session.ActiveSession, error) {
	row, err := s.sessionStore.GetSessionByID(ctx, claudeSessionID)
	if err != nil || row == nil {
		return nil, err
	}

	if project == "" {
		project = row.Project
	}
	counter := int(row.PromptCounter)
	if counter <= 0 {
		counter = 1
	}
	return s.sessionManager.Register(row.ID, claudeSessionID, project, row.UserPrompt.String, counter), nil
}

type summarizeRequest struct {
	LastUserMessage      string `json:"lastUserMessage"`
	LastAssistantMessage string `json:"lastAssistantMessage"`
}

// handleSummarize finalizes a session: the fallback summary is queued
// and the queue drained before responding, so the caller sees the
// summary stored.
func (s *Service) handleSummarize(w http.ResponseWriter, r *http.Request) {
	claudeSessionID := chi.URLParam(r, "id")

	var req summarizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	sess := s.sessionManager.GetByClaudeID(claudeSessionID)
	if sess == nil {
		var err error
		sess, err = s.restoreSession(ctx, claudeSessionID, "")
		if err != nil {
			log.Error().Err(err).Str("sessionId", claudeSessionID).Msg("Session restore failed")
			respondError(w, http.StatusInternalServerError, "session restore failed")
			return
		}
		if sess == nil {
			respondError(w, http.StatusNotFound, "session not found")
			return
		}
	}

	s.sessionManager.Enqueue(sess.SessionDBID, session.PendingMessage{
		Type: session.MessageTypeSummarize,
		Summarize: &session.SummarizeData{
			LastUserMessage:      req.LastUserMessage,
			LastAssistantMessage: req.LastAssistantMessage,
		},
	})
	s.processor.ProcessSession(ctx, sess.SessionDBID)

	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type subagentCompleteRequest struct {
	ClaudeSessionID string `json:"claudeSessionId"`
}

// handleSubagentComplete drains any work a subagent queued so its
// observations land before the parent session continues.
func (s *Service) handleSubagentComplete(w http.ResponseWriter, r *http.Request) {
	var req subagentCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ClaudeSessionID == "" {
		respondError(w, http.StatusBadRequest, "claudeSessionId is required")
		return
	}

	if sess := s.sessionManager.GetByClaudeID(req.ClaudeSessionID); sess != nil {
		s.processor.ProcessSession(r.Context(), sess.SessionDBID)
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleGetSession looks up a stored session by its token.
func (s *Service) handleGetSession(w http.ResponseWriter, r *http.Request) {
	claudeSessionID := r.URL.Query().Get("claudeSessionId")
	if claudeSessionID == "" {
		respondError(w, http.StatusBadRequest, "claudeSessionId is required")
		return
	}

	row, err := s.sessionStore.GetSessionByID(r.Context(), claudeSessionID)
	if err != nil {
		log.Error().Err(err).Str("sessionId", claudeSessionID).Msg("Session lookup failed")
		respondError(w, http.StatusInternalServerError, "session lookup failed")
		return
	}
	if row == nil {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}

	respondJSON(w, http.StatusOK, row)
}

// handleContextInject renders the digest for a project, applying any
// profile overrides for digest sizing and standing notes.
func (s *Service) handleContextInject(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")
	if project == "" {
		respondError(w, http.StatusBadRequest, "project is required")
		return
	}
	cwd := r.URL.Query().Get("cwd")

	opts := digest.Options{
		Project:          project,
		CWD:              cwd,
		ObservationLimit: s.config.ContextObservations,
		SummaryLimit:     s.config.ContextSummaries,
	}

	var notes string
	reg, err := profiles.Load(config.ProfilesPath())
	if err != nil {
		log.Warn().Err(err).Msg("Profile registry unreadable, using defaults")
	} else if prof, ok := reg.Get(project); ok {
		if prof.ObservationLimit > 0 {
			opts.ObservationLimit = prof.ObservationLimit
		}
		if prof.SummaryLimit > 0 {
			opts.SummaryLimit = prof.SummaryLimit
		}
		notes = prof.ResolveNotes(cwd)
	}

	ctx := r.Context()
	text, err := s.synthesizer.Build(ctx, opts)
	if err != nil {
		log.Error().Err(err).Str("project", project).Msg("Digest build failed")
		respondError(w, http.StatusInternalServerError, "digest build failed")
		return
	}

	if notes != "" {
		text += "\n## Standing notes\n\n" + notes + "\n"
	}

	s.stats.RecordContextInjection(ctx, tokens.Count(text))

	respondJSON(w, http.StatusOK, map[string]string{"context": text})
}

// handleContextSearch runs the unified search and suppresses
// near-duplicate observation hits before responding.
func (s *Service) handleContextSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("query") == "" {
		respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	params := search.SearchParams{
		Query:   q.Get("query"),
		Project: q.Get("project"),
		Type:    q.Get("type"),
		Format:  q.Get("format"),
		Limit:   sqlite.ParseLimitParam(r, search.DefaultLimit),
	}

	ctx := r.Context()
	result, err := s.searchManager.UnifiedSearch(ctx, params)
	if err != nil {
		log.Error().Err(err).Str("query", params.Query).Msg("Search failed")
		respondError(w, http.StatusInternalServerError, "search failed")
		return
	}

	result.Results = s.suppressNearDuplicates(ctx, result.Results)
	result.TotalCount = len(result.Results)

	s.stats.RecordSearch(ctx)
	served := 0
	for _, res := range result.Results {
		if res.Type == search.DocTypeObservation {
			served++
		}
	}
	s.stats.RecordObservationsServed(ctx, served)

	respondJSON(w, http.StatusOK, result)
}

// suppressNearDuplicates drops observation hits that cluster with a
// higher-ranked one. Summary and prompt hits pass through untouched.
func (s *Service) suppressNearDuplicates(ctx context.Context, results []search.SearchResult) []search.SearchResult {
	var obsIDs []int64
	for _, res := range results {
		if res.Type == search.DocTypeObservation {
			obsIDs = append(obsIDs, res.ID)
		}
	}
	if len(obsIDs) < 2 {
		return results
	}

	rows, err := s.observationStore.GetObservationsByIDs(ctx, obsIDs, "", 0)
	if err != nil {
		log.Warn().Err(err).Msg("Duplicate suppression skipped")
		return results
	}

	// Cluster in ranking order so the best hit represents its cluster.
	byID := make(map[int64]*models.Observation, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}
	ordered := make([]*models.Observation, 0, len(rows))
	for _, id := range obsIDs {
		if row := byID[id]; row != nil {
			ordered = append(ordered, row)
		}
	}

	kept := make(map[int64]bool, len(ordered))
	for _, row := range clusterObservations(ordered, duplicateThreshold) {
		kept[row.ID] = true
	}

	filtered := make([]search.SearchResult, 0, len(results))
	for _, res := range results {
		if res.Type == search.DocTypeObservation && !kept[res.ID] {
			continue
		}
		filtered = append(filtered, res)
	}
	return filtered
}

// handleListObservations returns recent observations, optionally scoped
// to a project, as a bare JSON array.
func (s *Service) handleListObservations(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")
	limit := sqlite.ParseLimitParam(r, 50)

	ctx := r.Context()
	var rows []*models.Observation
	var err error
	if project != "" {
		rows, err = s.observationStore.GetRecentObservations(ctx, project, limit)
	} else {
		rows, err = s.observationStore.GetAllRecentObservations(ctx, limit)
	}
	if err != nil {
		log.Error().Err(err).Msg("Observation list failed")
		respondError(w, http.StatusInternalServerError, "observation list failed")
		return
	}
	if rows == nil {
		rows = []*models.Observation{}
	}

	s.stats.RecordObservationsServed(ctx, len(rows))
	respondJSON(w, http.StatusOK, rows)
}

// handleGetObservation returns one observation by id.
func (s *Service) handleGetObservation(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid observation id")
		return
	}

	ctx := r.Context()
	row, err := s.observationStore.GetObservationByID(ctx, id)
	if err != nil {
		log.Error().Err(err).Int64("id", id).Msg("Observation lookup failed")
		respondError(w, http.StatusInternalServerError, "observation lookup failed")
		return
	}
	if row == nil {
		respondError(w, http.StatusNotFound, "observation not found")
		return
	}

	s.stats.RecordObservationsServed(ctx, 1)
	respondJSON(w, http.StatusOK, row)
}

// handleProjects lists every project with its observation count.
func (s *Service) handleProjects(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	names, err := s.sessionStore.GetAllProjects(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Project list failed")
		respondError(w, http.StatusInternalServerError, "project list failed")
		return
	}

	type projectInfo struct {
		Name             string `json:"name"`
		ObservationCount int    `json:"observation_count"`
	}
	infos := make([]projectInfo, 0, len(names))
	for _, name := range names {
		count, err := s.observationStore.CountByProject(ctx, name)
		if err != nil {
			log.Warn().Err(err).Str("project", name).Msg("Observation count failed")
		}
		infos = append(infos, projectInfo{Name: name, ObservationCount: count})
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"projects": infos})
}

// handleStats reports liveness and serving counters for the statusline
// and dashboard.
func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionsToday, err := s.sessionStore.GetSessionsToday(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Today's session count failed")
	}

	projects := make(map[string]int)
	if names, err := s.sessionStore.GetAllProjects(ctx); err == nil {
		for _, name := range names {
			count, err := s.observationStore.CountByProject(ctx, name)
			if err != nil {
				continue
			}
			projects[name] = count
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"version":         s.version,
		"uptime_seconds":  int64(time.Since(s.startTime).Seconds()),
		"active_sessions": s.sessionManager.GetActiveSessionCount(),
		"queue_depth":     s.sessionManager.GetTotalQueueDepth(),
		"processing":      s.sessionManager.IsAnySessionProcessing(),
		"sessions_today":  sessionsToday,
		"retrieval":       s.stats.Snapshot(),
		"projects":        projects,
	})
}
