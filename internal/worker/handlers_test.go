package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cookiesen77-rgb/claude-memory/internal/config"
	"github.com/cookiesen77-rgb/claude-memory/internal/db/sqlite"
	"github.com/cookiesen77-rgb/claude-memory/pkg/models"
)

// testService creates a fully wired Service over a temp-dir database.
func testService(t *testing.T) (*Service, func()) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "claude-memory.db")
	store, err := sqlite.NewStore(sqlite.StoreConfig{Path: path, WALMode: true})
	require.NoError(t, err)

	svc := NewService("test-version", config.Default(), store)
	svc.ready.Store(true)

	cleanup := func() {
		svc.sessionManager.ShutdownAll(context.Background())
		_ = store.Close()
	}
	return svc, cleanup
}

// createTestObservation stores one observation directly, bypassing HTTP.
func createTestObservation(t *testing.T, store *sqlite.ObservationStore, project, title, narrative string, concepts []string) int64 {
	t.Helper()

	obs := &models.ParsedObservation{
		Type:      models.ObsTypeDiscovery,
		Title:     title,
		Narrative: narrative,
		Concepts:  concepts,
	}

	id, _, err := store.StoreObservation(context.Background(), "test-session", project, obs, 1, 100)
	require.NoError(t, err)
	return id
}

// postJSON marshals body and serves a POST through the full router.
func postJSON(t *testing.T, svc *Service, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	svc.router.ServeHTTP(rec, req)
	return rec
}

// getJSON serves a GET through the full router.
func getJSON(t *testing.T, svc *Service, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	svc.router.ServeHTTP(rec, req)
	return rec
}

// initSession runs the init endpoint and returns the assigned db id.
func initSession(t *testing.T, svc *Service, claudeSessionID, project, prompt string) int64 {
	t.Helper()

	rec := postJSON(t, svc, "/api/sessions/init", map[string]string{
		"claudeSessionId": claudeSessionID,
		"project":         project,
		"prompt":          prompt,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return int64(resp["dbId"].(float64))
}

// TestHandleSessionInit tests session creation and the turn counter.
func TestHandleSessionInit(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	rec := postJSON(t, svc, "/api/sessions/init", map[string]string{
		"claudeSessionId": "sess-init",
		"project":         "proj-a",
		"prompt":          "fix the login flow",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Greater(t, resp["dbId"].(float64), float64(0))
	assert.Equal(t, float64(1), resp["promptNumber"])

	// The same session on the next turn advances the counter.
	rec = postJSON(t, svc, "/api/sessions/init", map[string]string{
		"claudeSessionId": "sess-init",
		"project":         "proj-a",
		"prompt":          "now add tests",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(2), resp["promptNumber"])

	// The live registry tracks the session.
	assert.Equal(t, 1, svc.sessionManager.GetActiveSessionCount())
}

// TestHandleSessionInit_RequiredFields tests input validation.
func TestHandleSessionInit_RequiredFields(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	tests := []struct {
		body map[string]string
		name string
	}{
		{
			name: "missing claudeSessionId",
			body: map[string]string{"project": "proj"},
		},
		{
			name: "missing project",
			body: map[string]string{"claudeSessionId": "sess"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, svc, "/api/sessions/init", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

// TestHandleObservations_Accepted tests that a recordable tool event is
// queued and lands in the store once processed.
func TestHandleObservations_Accepted(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	dbID := initSession(t, svc, "sess-obs", "proj-a", "refactor auth")

	rec := postJSON(t, svc, "/api/sessions/observations", map[string]interface{}{
		"claudeSessionId": "sess-obs",
		"project":         "proj-a",
		"toolName":        "Write",
		"toolInput":       map[string]string{"file_path": "/work/auth.go"},
		"toolResponse":    "rewrote the token refresh path",
		"promptNumber":    1,
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp["accepted"])

	svc.processor.ProcessSession(context.Background(), dbID)

	rows, err := svc.observationStore.GetRecentObservations(context.Background(), "proj-a", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Modified auth.go", rows[0].Title.String)
	assert.Equal(t, "sess-obs", rows[0].SessionID)
}

// TestHandleObservations_FilteredTool tests that read-only tools are
// acknowledged but never stored.
func TestHandleObservations_FilteredTool(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	dbID := initSession(t, svc, "sess-filtered", "proj-a", "look around")

	rec := postJSON(t, svc, "/api/sessions/observations", map[string]interface{}{
		"claudeSessionId": "sess-filtered",
		"project":         "proj-a",
		"toolName":        "Grep",
		"toolInput":       map[string]string{"pattern": "token"},
		"toolResponse":    "three matches",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp["accepted"])

	svc.processor.ProcessSession(context.Background(), dbID)

	rows, err := svc.observationStore.GetRecentObservations(context.Background(), "proj-a", 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

// TestHandleObservations_UnknownSession tests the restart path: an event
// for a session the registry has never seen creates the row on the fly.
func TestHandleObservations_UnknownSession(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	rec := postJSON(t, svc, "/api/sessions/observations", map[string]interface{}{
		"claudeSessionId": "sess-orphan",
		"project":         "proj-b",
		"toolName":        "Bash",
		"toolInput":       map[string]string{"command": "go test ./..."},
		"toolResponse":    "ok",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp["accepted"])

	row, err := svc.sessionStore.GetSessionByID(context.Background(), "sess-orphan")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "proj-b", row.Project)
}

// TestHandleObservations_UnknownSessionNoProject tests that an unknown
// session without a project cannot be auto-created.
func TestHandleObservations_UnknownSessionNoProject(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	rec := postJSON(t, svc, "/api/sessions/observations", map[string]interface{}{
		"claudeSessionId": "sess-no-project",
		"toolName":        "Bash",
		"toolInput":       map[string]string{"command": "ls"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// TestHandleSummarize tests the finalize path: summary stored, session
// marked completed, registry entry dropped.
func TestHandleSummarize(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	initSession(t, svc, "sess-sum", "proj-a", "ship the feature")

	rec := postJSON(t, svc, "/api/sessions/sess-sum/summarize", map[string]string{
		"lastUserMessage":      "ship the feature\nwith tests",
		"lastAssistantMessage": "Done. The feature is shipped and covered by tests.",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	summaries, err := svc.summaryStore.GetRecentSummaries(context.Background(), "proj-a", 10)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "ship the feature", summaries[0].Request.String)

	row, err := svc.sessionStore.GetSessionByID(context.Background(), "sess-sum")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, models.SessionStatusCompleted, row.Status)

	assert.Nil(t, svc.sessionManager.GetByClaudeID("sess-sum"))
}

// TestHandleSummarize_FlushesQueuedObservations tests that observations
// still waiting in the queue are stored before the summary.
func TestHandleSummarize_FlushesQueuedObservations(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	initSession(t, svc, "sess-flush", "proj-a", "do the work")

	rec := postJSON(t, svc, "/api/sessions/observations", map[string]interface{}{
		"claudeSessionId": "sess-flush",
		"toolName":        "Edit",
		"toolInput":       map[string]string{"file_path": "/work/server.go"},
		"toolResponse":    "patched the handler",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(t, svc, "/api/sessions/sess-flush/summarize", map[string]string{
		"lastUserMessage":      "do the work",
		"lastAssistantMessage": "Patched the handler.",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rows, err := svc.observationStore.GetRecentObservations(context.Background(), "proj-a", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Modified server.go", rows[0].Title.String)
}

// TestHandleSummarize_UnknownSession tests that finalizing a session
// nobody ever started is a 404.
func TestHandleSummarize_UnknownSession(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	rec := postJSON(t, svc, "/api/sessions/never-seen/summarize", map[string]string{
		"lastUserMessage": "hello?",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// TestHandleSubagentComplete tests that a subagent's queued work is
// drained without ending the session.
func TestHandleSubagentComplete(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	initSession(t, svc, "sess-sub", "proj-a", "delegate some work")

	rec := postJSON(t, svc, "/api/sessions/observations", map[string]interface{}{
		"claudeSessionId": "sess-sub",
		"toolName":        "Write",
		"toolInput":       map[string]string{"file_path": "/work/util.go"},
		"toolResponse":    "added helper",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(t, svc, "/api/sessions/subagent-complete", map[string]string{
		"claudeSessionId": "sess-sub",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rows, err := svc.observationStore.GetRecentObservations(context.Background(), "proj-a", 10)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	// The session keeps running after the subagent finishes.
	assert.NotNil(t, svc.sessionManager.GetByClaudeID("sess-sub"))
}

// TestHandleSubagentComplete_UnknownSession tests that an unknown
// session is acknowledged rather than failed.
func TestHandleSubagentComplete_UnknownSession(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	rec := postJSON(t, svc, "/api/sessions/subagent-complete", map[string]string{
		"claudeSessionId": "never-seen",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

// TestHandleGetSession tests the session lookup endpoint.
func TestHandleGetSession(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	initSession(t, svc, "sess-lookup", "proj-a", "just looking")

	rec := getJSON(t, svc, "/api/sessions?claudeSessionId=sess-lookup")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sess-lookup", resp["claude_session_id"])
	assert.Equal(t, "proj-a", resp["project"])
	assert.Equal(t, "active", resp["status"])

	rec = getJSON(t, svc, "/api/sessions?claudeSessionId=missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = getJSON(t, svc, "/api/sessions")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// TestHandleContextInject_RequiresProject tests input validation.
func TestHandleContextInject_RequiresProject(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	rec := getJSON(t, svc, "/api/context/inject")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// TestHandleContextInject_EmptyProject tests the digest for a project
// with no stored history.
func TestHandleContextInject_EmptyProject(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	rec := getJSON(t, svc, "/api/context/inject?project=fresh-project")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp["context"], "No previous sessions found for project fresh-project")
}

// TestHandleContextInject_ReturnsDigest tests that stored work shows up
// in the digest text.
func TestHandleContextInject_ReturnsDigest(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	createTestObservation(t, svc.observationStore, "proj-digest",
		"Fixed token refresh race",
		"The refresh goroutine now holds the lock across the rotation",
		[]string{"auth"})

	rec := getJSON(t, svc, "/api/context/inject?project=proj-digest")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp["context"], "Fixed token refresh race")
}

// TestHandleContextInject_ProfileNotes tests that a matching profile
// appends its standing notes to the digest.
func TestHandleContextInject_ProfileNotes(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	profilesYAML := `profiles:
  - name: proj-profiled
    observation_limit: 5
    path_notes:
      /work: "Deploys go through the staging pipeline first."
`
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".claude-memory"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(home, ".claude-memory", "profiles.yaml"), []byte(profilesYAML), 0o644))

	svc, cleanup := testService(t)
	defer cleanup()

	createTestObservation(t, svc.observationStore, "proj-profiled",
		"Wired the deploy script", "Added the staging gate", []string{"deploy"})

	rec := getJSON(t, svc, "/api/context/inject?project=proj-profiled&cwd=/work/api")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp["context"], "Standing notes")
	assert.Contains(t, resp["context"], "staging pipeline")
}

// TestHandleContextSearch_RequiresQuery tests input validation.
func TestHandleContextSearch_RequiresQuery(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	rec := getJSON(t, svc, "/api/context/search?project=anything")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = getJSON(t, svc, "/api/context/search?query=anything")
	assert.Equal(t, http.StatusOK, rec.Code)
}

// TestHandleContextSearch_ReturnsResults tests the unified search
// envelope.
func TestHandleContextSearch_ReturnsResults(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	createTestObservation(t, svc.observationStore, "proj-a",
		"Postgres connection pooling",
		"Tuned the pool size for the read replicas",
		[]string{"postgres"})

	rec := getJSON(t, svc, "/api/context/search?project=proj-a&query=postgres+pooling")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	results, ok := resp["results"].([]interface{})
	require.True(t, ok, "results should be an array")
	require.NotEmpty(t, results)

	first := results[0].(map[string]interface{})
	assert.Equal(t, "observation", first["type"])
	assert.Equal(t, "Postgres connection pooling", first["title"])
	assert.Equal(t, float64(len(results)), resp["total_count"].(float64))
}

// TestHandleContextSearch_SuppressesDuplicates tests that two
// near-identical observations collapse to one search hit.
func TestHandleContextSearch_SuppressesDuplicates(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	for i := 0; i < 2; i++ {
		createTestObservation(t, svc.observationStore, "proj-dup",
			"Fixed login token refresh bug",
			"The login token refresh path dropped the session cookie",
			[]string{"auth", "login"})
		time.Sleep(time.Millisecond)
	}

	rec := getJSON(t, svc, "/api/context/search?project=proj-dup&query=login+token+refresh")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	results, ok := resp["results"].([]interface{})
	require.True(t, ok)

	observations := 0
	for _, raw := range results {
		if raw.(map[string]interface{})["type"] == "observation" {
			observations++
		}
	}
	assert.Equal(t, 1, observations, "identical observations should collapse to one hit")
}

// TestHandleListObservations tests the recent-observations listing.
func TestHandleListObservations(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	for i := 0; i < 15; i++ {
		createTestObservation(t, svc.observationStore, "proj-list",
			"Observation "+string(rune('A'+i)),
			"Content "+string(rune('A'+i)),
			[]string{"test"})
		time.Sleep(time.Millisecond)
	}
	createTestObservation(t, svc.observationStore, "proj-other",
		"Unrelated work", "Different project entirely", []string{"other"})

	rec := getJSON(t, svc, "/api/observations?limit=10")
	assert.Equal(t, http.StatusOK, rec.Code)

	var all []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Len(t, all, 10)

	rec = getJSON(t, svc, "/api/observations?project=proj-other")
	assert.Equal(t, http.StatusOK, rec.Code)

	var scoped []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &scoped))
	require.Len(t, scoped, 1)
	assert.Equal(t, "Unrelated work", scoped[0]["title"])
}

// TestHandleGetObservation tests single-observation lookup.
func TestHandleGetObservation(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	id := createTestObservation(t, svc.observationStore, "proj-a",
		"Lone observation", "Just the one", []string{"solo"})

	rec := getJSON(t, svc, "/api/observations/"+strconv.FormatInt(id, 10))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Lone observation", resp["title"])

	rec = getJSON(t, svc, "/api/observations/999999")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = getJSON(t, svc, "/api/observations/not-a-number")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// TestHandleProjects tests the project listing with observation counts.
func TestHandleProjects(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	initSession(t, svc, "sess-pa", "proj-a", "work on a")
	initSession(t, svc, "sess-pb", "proj-b", "work on b")

	createTestObservation(t, svc.observationStore, "proj-a", "First", "One", []string{"a"})
	createTestObservation(t, svc.observationStore, "proj-a", "Second", "Two", []string{"a"})
	createTestObservation(t, svc.observationStore, "proj-b", "Third", "Three", []string{"b"})

	rec := getJSON(t, svc, "/api/projects")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Projects []struct {
			Name             string `json:"name"`
			ObservationCount int    `json:"observation_count"`
		} `json:"projects"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Projects, 2)

	counts := make(map[string]int)
	for _, p := range resp.Projects {
		counts[p.Name] = p.ObservationCount
	}
	assert.Equal(t, 2, counts["proj-a"])
	assert.Equal(t, 1, counts["proj-b"])
}

// TestHandleStats tests the stats payload shape.
func TestHandleStats(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	initSession(t, svc, "sess-stats", "proj-a", "count me")

	rec := getJSON(t, svc, "/api/stats")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "test-version", resp["version"])
	assert.Equal(t, float64(1), resp["active_sessions"])
	assert.Equal(t, float64(1), resp["sessions_today"])
	assert.Contains(t, resp, "uptime_seconds")
	assert.Contains(t, resp, "queue_depth")
	assert.Contains(t, resp, "retrieval")
}

// TestRetrievalStats tests that serving counters track requests.
func TestRetrievalStats(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	createTestObservation(t, svc.observationStore, "proj-a",
		"Test observation", "Test narrative", []string{"test"})

	rec := getJSON(t, svc, "/api/context/search?project=proj-a&query=test+observation")
	assert.Equal(t, http.StatusOK, rec.Code)

	stats := svc.GetRetrievalStats()
	assert.Equal(t, int64(1), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.SearchRequests)
	assert.GreaterOrEqual(t, stats.ObservationsServed, int64(1))
}

// TestHandleHealth_ReturnsVersion tests the liveness endpoint.
func TestHandleHealth_ReturnsVersion(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	rec := getJSON(t, svc, "/api/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ready", resp["status"])
	assert.Equal(t, "test-version", resp["version"])
}

// TestHandleVersion tests the version endpoint.
func TestHandleVersion(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	rec := getJSON(t, svc, "/api/version")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "test-version", resp["version"])
	assert.NotEmpty(t, resp["instance"])
}

// TestHandleReady tests both sides of the readiness gate.
func TestHandleReady(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	rec := getJSON(t, svc, "/api/ready")
	assert.Equal(t, http.StatusOK, rec.Code)

	svc.ready.Store(false)
	rec = getJSON(t, svc, "/api/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// TestRequireReadyMiddleware tests that API routes are gated on
// readiness while health stays reachable.
func TestRequireReadyMiddleware(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	svc.ready.Store(false)

	rec := getJSON(t, svc, "/api/observations")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = getJSON(t, svc, "/api/health")
	assert.Equal(t, http.StatusOK, rec.Code)
}
