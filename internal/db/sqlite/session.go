package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cookiesen77-rgb/claude-memory/pkg/models"
)

const sessionColumns = `id, claude_session_id, project, user_prompt, prompt_counter, status,
		started_at, started_at_epoch, completed_at, completed_at_epoch`

// SessionStore provides session-related database operations.
type SessionStore struct {
	store *Store
}

// NewSessionStore creates a new session store.
func NewSessionStore(store *Store) *SessionStore {
	return &SessionStore{store: store}
}

// CreateSDKSession creates a session row for a Claude session token, or
// reuses the existing one. This is what keeps every hook in a session
// pointed at the same row: INSERT OR IGNORE makes the call idempotent.
// Non-empty project and userPrompt values overwrite stored ones; empty
// values never clobber existing data.
func (s *SessionStore) CreateSDKSession(ctx context.Context, sessionID, project, userPrompt string) (int64, error) {
	if sessionID == "" {
		return 0, fmt.Errorf("create session: session id is required")
	}

	now := time.Now()
	const insertQuery = `
		INSERT OR IGNORE INTO sdk_sessions
		(claude_session_id, project, user_prompt, started_at, started_at_epoch, status)
		VALUES (?, ?, ?, ?, ?, 'active')
	`
	result, err := s.store.ExecContext(ctx, insertQuery,
		sessionID, project, nullString(userPrompt),
		now.Format(time.RFC3339), now.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("create session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("create session: rows affected: %w", err)
	}

	if rowsAffected == 0 {
		// Session exists. Refresh only the fields the caller actually
		// supplied.
		if project != "" {
			if _, err := s.store.ExecContext(ctx,
				`UPDATE sdk_sessions SET project = ? WHERE claude_session_id = ?`,
				project, sessionID); err != nil {
				return 0, fmt.Errorf("update session project: %w", err)
			}
		}
		if userPrompt != "" {
			if _, err := s.store.ExecContext(ctx,
				`UPDATE sdk_sessions SET user_prompt = ? WHERE claude_session_id = ?`,
				userPrompt, sessionID); err != nil {
				return 0, fmt.Errorf("update session prompt: %w", err)
			}
		}
	}

	var id int64
	const selectQuery = `SELECT id FROM sdk_sessions WHERE claude_session_id = ? LIMIT 1`
	if err := s.store.QueryRowContext(ctx, selectQuery, sessionID).Scan(&id); err != nil {
		return 0, fmt.Errorf("read session id: %w", err)
	}
	return id, nil
}

// GetSessionByID retrieves a session by its Claude session token.
// Returns nil without error when the session does not exist.
func (s *SessionStore) GetSessionByID(ctx context.Context, sessionID string) (*models.SDKSession, error) {
	const query = `SELECT ` + sessionColumns + `
		FROM sdk_sessions
		WHERE claude_session_id = ?
		LIMIT 1`

	session, err := scanSession(s.store.QueryRowContext(ctx, query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// IncrementPromptCounter bumps the per-session turn counter and returns
// the new value. The single UPDATE is atomic under SQLite's write lock,
// so concurrent increments never lose a turn. A missing session reads
// as turn one rather than failing the caller.
func (s *SessionStore) IncrementPromptCounter(ctx context.Context, sessionID string) (int64, error) {
	const updateQuery = `
		UPDATE sdk_sessions
		SET prompt_counter = COALESCE(prompt_counter, 0) + 1
		WHERE claude_session_id = ?
	`
	if _, err := s.store.ExecContext(ctx, updateQuery, sessionID); err != nil {
		return 0, fmt.Errorf("increment prompt counter: %w", err)
	}

	var counter int64
	const selectQuery = `SELECT prompt_counter FROM sdk_sessions WHERE claude_session_id = ?`
	err := s.store.QueryRowContext(ctx, selectQuery, sessionID).Scan(&counter)
	if errors.Is(err, sql.ErrNoRows) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read prompt counter: %w", err)
	}
	return counter, nil
}

// GetPromptCounter returns the current prompt counter for a session
// without incrementing it. Returns 1 when the session does not exist,
// matching IncrementPromptCounter's fallback.
func (s *SessionStore) GetPromptCounter(ctx context.Context, sessionID string) (int64, error) {
	const query = `SELECT COALESCE(prompt_counter, 0) FROM sdk_sessions WHERE claude_session_id = ?`

	var counter int64
	err := s.store.QueryRowContext(ctx, query, sessionID).Scan(&counter)
	if errors.Is(err, sql.ErrNoRows) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get prompt counter: %w", err)
	}
	return counter, nil
}

// MarkSessionCompleted marks a session as completed. Idempotent; the
// latest call's timestamp wins.
func (s *SessionStore) MarkSessionCompleted(ctx context.Context, sessionID string) error {
	now := time.Now()
	const query = `
		UPDATE sdk_sessions
		SET status = ?, completed_at = ?, completed_at_epoch = ?
		WHERE claude_session_id = ?
	`
	if _, err := s.store.ExecContext(ctx, query,
		models.SessionStatusCompleted, now.Format(time.RFC3339), now.UnixMilli(), sessionID); err != nil {
		return fmt.Errorf("mark session completed: %w", err)
	}
	return nil
}

// MarkSessionFailed marks a session as failed.
func (s *SessionStore) MarkSessionFailed(ctx context.Context, sessionID string) error {
	now := time.Now()
	const query = `
		UPDATE sdk_sessions
		SET status = ?, completed_at = ?, completed_at_epoch = ?
		WHERE claude_session_id = ?
	`
	if _, err := s.store.ExecContext(ctx, query,
		models.SessionStatusFailed, now.Format(time.RFC3339), now.UnixMilli(), sessionID); err != nil {
		return fmt.Errorf("mark session failed: %w", err)
	}
	return nil
}

// GetSessionsToday returns the count of sessions started since local
// midnight.
func (s *SessionStore) GetSessionsToday(ctx context.Context) (int, error) {
	now := time.Now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	const query = `SELECT COUNT(*) FROM sdk_sessions WHERE started_at_epoch >= ?`

	var count int
	if err := s.store.QueryRowContext(ctx, query, startOfDay.UnixMilli()).Scan(&count); err != nil {
		return 0, fmt.Errorf("count sessions today: %w", err)
	}
	return count, nil
}

// GetAllProjects returns all unique project names, alphabetically.
func (s *SessionStore) GetAllProjects(ctx context.Context) ([]string, error) {
	const query = `
		SELECT DISTINCT project
		FROM sdk_sessions
		WHERE project IS NOT NULL AND project != ''
		ORDER BY project ASC
	`

	rows, err := s.store.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get projects: %w", err)
	}
	defer rows.Close()

	var projects []string
	for rows.Next() {
		var project string
		if err := rows.Scan(&project); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}
