package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// testStore opens a fully migrated store in a temp directory.
func testStore(t *testing.T) (*Store, func()) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "claude-memory.db")
	store, err := NewStore(StoreConfig{Path: path, WALMode: true})
	require.NoError(t, err)

	return store, func() { _ = store.Close() }
}

// seedSession inserts a session row directly, bypassing the store API.
func seedSession(t *testing.T, store *Store, sessionID, project string) {
	t.Helper()

	_, err := store.DB().Exec(`
		INSERT INTO sdk_sessions (claude_session_id, project, started_at, started_at_epoch, status)
		VALUES (?, ?, '2025-01-01T00:00:00Z', 1735689600000, 'active')
	`, sessionID, project)
	require.NoError(t, err)
}

// countRows counts rows in a table with an optional WHERE clause.
func countRows(t *testing.T, store *Store, table, where string, args ...interface{}) int {
	t.Helper()

	query := "SELECT COUNT(*) FROM " + table
	if where != "" {
		query += " WHERE " + where
	}

	var count int
	require.NoError(t, store.QueryRowContext(context.Background(), query, args...).Scan(&count))
	return count
}
