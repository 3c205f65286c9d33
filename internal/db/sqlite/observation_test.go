package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cookiesen77-rgb/claude-memory/pkg/models"
)

func testObservationStore(t *testing.T) (*ObservationStore, *Store, func()) {
	t.Helper()

	store, cleanup := testStore(t)
	return NewObservationStore(store), store, cleanup
}

// seedObservation inserts an observation row and its index entry
// directly, so tests control ids and epochs without triggering the
// store's async trim.
func seedObservation(t *testing.T, store *Store, sessionID, project, title string, epoch int64) {
	t.Helper()

	res, err := store.DB().Exec(`
		INSERT INTO observations
		(session_id, project, type, title, facts, concepts, files_read, files_modified,
		 discovery_tokens, created_at, created_at_epoch)
		VALUES (?, ?, 'change', ?, '[]', '[]', '[]', '[]', 0, '2025-01-01T00:00:00Z', ?)
	`, sessionID, project, title, epoch)
	require.NoError(t, err)

	id, err := res.LastInsertId()
	require.NoError(t, err)

	_, err = store.DB().Exec(`
		INSERT INTO observations_fts (rowid, title, subtitle, narrative, facts)
		VALUES (?, ?, NULL, NULL, '[]')
	`, id, title)
	require.NoError(t, err)
}

func TestObservationStore_StoreAndRetrieve(t *testing.T) {
	obsStore, _, cleanup := testObservationStore(t)
	defer cleanup()

	ctx := context.Background()

	obs := &models.ParsedObservation{
		Type:          models.ObsTypeDiscovery,
		Title:         "Watcher drops events during rename storms",
		Subtitle:      "fsnotify coalesces rename pairs",
		Narrative:     "Editors that write via rename produce a remove before the create.",
		Facts:         []string{"vim writes through a temp file", "the create lands within 10ms"},
		Concepts:      []string{"gotcha", "how-it-works"},
		FilesRead:     []string{"watcher.go"},
		FilesModified: []string{},
	}

	id, epoch, err := obsStore.StoreObservation(ctx, "session-1", "project-a", obs, 1, 100)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))
	assert.Greater(t, epoch, int64(0))

	retrieved, err := obsStore.GetObservationByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, retrieved)

	assert.Equal(t, id, retrieved.ID)
	assert.Equal(t, "session-1", retrieved.SessionID)
	assert.Equal(t, "project-a", retrieved.Project)
	assert.Equal(t, models.ObsTypeDiscovery, retrieved.Type)
	assert.Equal(t, "Watcher drops events during rename storms", retrieved.Title.String)
	assert.Equal(t, "fsnotify coalesces rename pairs", retrieved.Subtitle.String)
	assert.Equal(t, "Editors that write via rename produce a remove before the create.", retrieved.Narrative.String)
	assert.True(t, retrieved.PromptNumber.Valid)
	assert.Equal(t, int64(1), retrieved.PromptNumber.Int64)
	assert.Equal(t, int64(100), retrieved.DiscoveryTokens)
}

// TestObservationStore_ArrayRoundTrip pins element order and count for
// every array field across a store/fetch cycle.
func TestObservationStore_ArrayRoundTrip(t *testing.T) {
	obsStore, _, cleanup := testObservationStore(t)
	defer cleanup()

	ctx := context.Background()

	obs := &models.ParsedObservation{
		Type:          models.ObsTypeChange,
		Title:         "Round trip",
		Facts:         []string{"a", "b"},
		Concepts:      []string{"c1", "c2", "c3"},
		FilesRead:     []string{"x.go", "y.go"},
		FilesModified: []string{"z.go"},
	}

	id, _, err := obsStore.StoreObservation(ctx, "session-1", "project-a", obs, 1, 0)
	require.NoError(t, err)

	retrieved, err := obsStore.GetObservationByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, retrieved)

	assert.Equal(t, []string{"a", "b"}, []string(retrieved.Facts))
	assert.Equal(t, []string{"c1", "c2", "c3"}, []string(retrieved.Concepts))
	assert.Equal(t, []string{"x.go", "y.go"}, []string(retrieved.FilesRead))
	assert.Equal(t, []string{"z.go"}, []string(retrieved.FilesModified))
}

// TestObservationStore_ArraysNeverNil verifies fetched observations
// expose empty slices, not nil, when nothing was stored.
func TestObservationStore_ArraysNeverNil(t *testing.T) {
	obsStore, _, cleanup := testObservationStore(t)
	defer cleanup()

	ctx := context.Background()

	id, _, err := obsStore.StoreObservation(ctx, "session-1", "project-a",
		&models.ParsedObservation{Type: models.ObsTypeChange, Title: "Bare"}, 0, 0)
	require.NoError(t, err)

	retrieved, err := obsStore.GetObservationByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, retrieved)

	parsed := retrieved.Parsed()
	assert.NotNil(t, parsed.Facts)
	assert.NotNil(t, parsed.Concepts)
	assert.NotNil(t, parsed.FilesRead)
	assert.NotNil(t, parsed.FilesModified)
	assert.Empty(t, parsed.Facts)
}

// TestObservationStore_UnknownTypeCoerced stores a garbled type and
// verifies it comes back as "change".
func TestObservationStore_UnknownTypeCoerced(t *testing.T) {
	obsStore, _, cleanup := testObservationStore(t)
	defer cleanup()

	ctx := context.Background()

	id, _, err := obsStore.StoreObservation(ctx, "session-1", "project-a",
		&models.ParsedObservation{Type: models.ObservationType("foo"), Title: "Oddball"}, 1, 0)
	require.NoError(t, err)

	retrieved, err := obsStore.GetObservationByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, retrieved)
	assert.Equal(t, models.ObsTypeChange, retrieved.Type)
}

// TestObservationStore_AutoCreatesSession verifies storing against an
// uninitialized session creates the session row instead of failing.
func TestObservationStore_AutoCreatesSession(t *testing.T) {
	obsStore, store, cleanup := testObservationStore(t)
	defer cleanup()

	ctx := context.Background()

	_, _, err := obsStore.StoreObservation(ctx, "never-inited", "project-a",
		&models.ParsedObservation{Type: models.ObsTypeChange, Title: "Orphan"}, 0, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, countRows(t, store, "sdk_sessions", "claude_session_id = ?", "never-inited"))
}

func TestObservationStore_GetRecentObservations(t *testing.T) {
	obsStore, _, cleanup := testObservationStore(t)
	defer cleanup()

	ctx := context.Background()

	for i := 0; i < 10; i++ {
		obs := &models.ParsedObservation{
			Type:      models.ObsTypeDiscovery,
			Title:     fmt.Sprintf("Observation %02d", i),
			Narrative: fmt.Sprintf("Content %02d", i),
		}
		_, _, err := obsStore.StoreObservation(ctx, "session-1", "project-a", obs, i+1, 100)
		require.NoError(t, err)
		time.Sleep(time.Millisecond) // distinct epochs
	}

	recent, err := obsStore.GetRecentObservations(ctx, "project-a", 5)
	require.NoError(t, err)
	require.Len(t, recent, 5)
	assert.Equal(t, "Observation 09", recent[0].Title.String)

	// Newest first throughout
	for i := 1; i < len(recent); i++ {
		assert.GreaterOrEqual(t, recent[i-1].CreatedAtEpoch, recent[i].CreatedAtEpoch)
	}

	recent, err = obsStore.GetRecentObservations(ctx, "project-a", 20)
	require.NoError(t, err)
	assert.Len(t, recent, 10)
}

// TestObservationStore_ProjectIsolation verifies reads and searches for
// one project never leak rows from another.
func TestObservationStore_ProjectIsolation(t *testing.T) {
	obsStore, _, cleanup := testObservationStore(t)
	defer cleanup()

	ctx := context.Background()

	_, _, err := obsStore.StoreObservation(ctx, "session-1", "project-a",
		&models.ParsedObservation{Type: models.ObsTypeChange, Title: "Alpha authentication work"}, 1, 0)
	require.NoError(t, err)
	_, _, err = obsStore.StoreObservation(ctx, "session-2", "project-b",
		&models.ParsedObservation{Type: models.ObsTypeChange, Title: "Beta authentication work"}, 1, 0)
	require.NoError(t, err)

	recent, err := obsStore.GetRecentObservations(ctx, "project-a", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "Alpha authentication work", recent[0].Title.String)

	results, err := obsStore.SearchObservations(ctx, "authentication", "project-a", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "project-a", results[0].Project)

	// No project filter searches everything
	results, err = obsStore.SearchObservations(ctx, "authentication", "", 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestObservationStore_SearchObservations(t *testing.T) {
	obsStore, _, cleanup := testObservationStore(t)
	defer cleanup()

	ctx := context.Background()

	observations := []struct {
		title     string
		narrative string
	}{
		{"Watcher debounce added", "Coalesces fsnotify bursts into one reload"},
		{"Broadcaster backpressure", "Slow clients are dropped after the write deadline"},
		{"Tokenizer budget wiring", "Token counts drive the context digest"},
		{"Watcher rename fix", "Fixed the watcher losing renamed config files"},
		{"Profiles loader", "YAML profiles pick the digest shape"},
	}

	for _, o := range observations {
		obs := &models.ParsedObservation{
			Type:      models.ObsTypeDiscovery,
			Title:     o.title,
			Narrative: o.narrative,
		}
		_, _, err := obsStore.StoreObservation(ctx, "session-1", "project-a", obs, 1, 100)
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}

	results, err := obsStore.SearchObservations(ctx, "watcher", "project-a", 50)
	require.NoError(t, err)

	// Matches come back newest first, not by relevance
	require.Len(t, results, 2)
	assert.Equal(t, "Watcher rename fix", results[0].Title.String)
	assert.Equal(t, "Watcher debounce added", results[1].Title.String)

	results, err = obsStore.SearchObservations(ctx, "context digest", "project-a", 50)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(results), 1)

	// Tokenized matching: a partial token is not a substring match
	results, err = obsStore.SearchObservations(ctx, "watch", "project-a", 50)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestObservationStore_SearchObservations_LimitRespected(t *testing.T) {
	obsStore, _, cleanup := testObservationStore(t)
	defer cleanup()

	ctx := context.Background()

	for i := 0; i < 20; i++ {
		obs := &models.ParsedObservation{
			Type:      models.ObsTypeDiscovery,
			Title:     fmt.Sprintf("Testing observation %02d", i),
			Narrative: fmt.Sprintf("This is about testing and quality assurance %02d", i),
		}
		_, _, err := obsStore.StoreObservation(ctx, "session-1", "project-a", obs, 1, 100)
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}

	results, err := obsStore.SearchObservations(ctx, "testing quality", "project-a", 5)
	require.NoError(t, err)
	assert.Len(t, results, 5)

	results, err = obsStore.SearchObservations(ctx, "testing quality", "project-a", 50)
	require.NoError(t, err)
	assert.Len(t, results, 20)
}

// TestObservationStore_SearchShortTermFallsBack covers queries whose
// every word is too short for keyword extraction; they degrade to a
// substring scan instead of returning nothing.
func TestObservationStore_SearchShortTermFallsBack(t *testing.T) {
	obsStore, _, cleanup := testObservationStore(t)
	defer cleanup()

	ctx := context.Background()

	_, _, err := obsStore.StoreObservation(ctx, "session-1", "project-a",
		&models.ParsedObservation{Type: models.ObsTypeChange, Title: "SSE broadcaster rewrite"}, 1, 0)
	require.NoError(t, err)

	results, err := obsStore.SearchObservations(ctx, "SSE", "project-a", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "SSE broadcaster rewrite", results[0].Title.String)
}

func TestObservationStore_GetObservationsByIDs(t *testing.T) {
	obsStore, _, cleanup := testObservationStore(t)
	defer cleanup()

	ctx := context.Background()

	var ids []int64
	for i := 0; i < 5; i++ {
		id, _, err := obsStore.StoreObservation(ctx, "session-1", "project-a",
			&models.ParsedObservation{Type: models.ObsTypeChange, Title: fmt.Sprintf("Obs %d", i)}, 1, 0)
		require.NoError(t, err)
		ids = append(ids, id)
		time.Sleep(time.Millisecond)
	}

	// Empty input short-circuits
	none, err := obsStore.GetObservationsByIDs(ctx, nil, "", 0)
	require.NoError(t, err)
	assert.Nil(t, none)

	got, err := obsStore.GetObservationsByIDs(ctx, ids[:3], "date_asc", 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, ids[0], got[0].ID)

	got, err = obsStore.GetObservationsByIDs(ctx, ids, "", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ids[4], got[0].ID)
}

func TestObservationStore_GetObservationByID_NotFound(t *testing.T) {
	obsStore, _, cleanup := testObservationStore(t)
	defer cleanup()

	obs, err := obsStore.GetObservationByID(context.Background(), 999)
	require.NoError(t, err)
	assert.Nil(t, obs)
}

// TestObservationStore_TrimKeepsNewest seeds rows past the per-project
// cap and verifies cleanup removes exactly the oldest ones, index
// entries included.
func TestObservationStore_TrimKeepsNewest(t *testing.T) {
	obsStore, store, cleanup := testObservationStore(t)
	defer cleanup()

	ctx := context.Background()
	seedSession(t, store, "session-1", "project-a")

	total := MaxObservationsPerProject + 3
	for i := 0; i < total; i++ {
		seedObservation(t, store, "session-1", "project-a",
			fmt.Sprintf("seeded observation %03d", i), int64(1000+i))
	}

	deleted, err := obsStore.CleanupOldObservations(ctx, "project-a")
	require.NoError(t, err)
	assert.Len(t, deleted, 3)

	count, err := obsStore.CountByProject(ctx, "project-a")
	require.NoError(t, err)
	assert.Equal(t, MaxObservationsPerProject, count)

	// The three oldest are gone from the index too
	results, err := obsStore.SearchObservations(ctx, "seeded observation 000", "project-a", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = obsStore.SearchObservations(ctx, fmt.Sprintf("seeded observation %03d", total-1), "project-a", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, results)

	// Repeat run deletes nothing further
	deleted, err = obsStore.CleanupOldObservations(ctx, "project-a")
	require.NoError(t, err)
	assert.Empty(t, deleted)
}

// TestObservationStore_WriteTriggersTrim exercises the async retention
// path behind StoreObservation.
func TestObservationStore_WriteTriggersTrim(t *testing.T) {
	obsStore, store, cleanup := testObservationStore(t)
	defer cleanup()

	ctx := context.Background()
	seedSession(t, store, "session-1", "project-a")

	for i := 0; i < MaxObservationsPerProject; i++ {
		seedObservation(t, store, "session-1", "project-a",
			fmt.Sprintf("filler %03d", i), int64(1000+i))
	}

	var trimmed []int64
	done := make(chan struct{})
	obsStore.SetCleanupFunc(func(ctx context.Context, deletedIDs []int64) {
		trimmed = deletedIDs
		close(done)
	})

	_, _, err := obsStore.StoreObservation(ctx, "session-1", "project-a",
		&models.ParsedObservation{Type: models.ObsTypeChange, Title: "One over the cap"}, 1, 0)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cleanup callback never fired")
	}

	assert.Len(t, trimmed, 1)

	count, err := obsStore.CountByProject(ctx, "project-a")
	require.NoError(t, err)
	assert.Equal(t, MaxObservationsPerProject, count)
}

func TestExtractKeywords(t *testing.T) {
	tests := []struct {
		query    string
		expected []string
	}{
		{
			query:    "why is the broadcaster dropping clients?",
			expected: []string{"broadcaster", "dropping", "clients"},
		},
		{
			query:    "SSE retry_count 30000", // short acronym dropped, underscores and digits kept
			expected: []string{"retry_count", "30000"},
		},
		{
			query:    "timeout TIMEOUT Timeout", // deduplicated
			expected: []string{"timeout"},
		},
		{
			query:    "what does it work like", // all short or stopwords
			expected: nil,
		},
		{
			query:    "",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractKeywords(tt.query))
		})
	}
}
