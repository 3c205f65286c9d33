package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cookiesen77-rgb/claude-memory/pkg/models"
)

// MaxPromptsGlobal is the hard limit of prompts across all projects.
// The newest rows are kept.
const MaxPromptsGlobal = 500

const promptWithSessionColumns = `up.id, up.session_id, up.prompt_number, up.prompt_text,
		up.created_at, up.created_at_epoch, COALESCE(s.project, '') AS project`

// PromptStore provides user prompt-related database operations.
type PromptStore struct {
	store *Store
}

// NewPromptStore creates a new prompt store.
func NewPromptStore(store *Store) *PromptStore {
	return &PromptStore{store: store}
}

// SaveUserPrompt records one user turn and indexes it in the same
// transaction. The owning session is auto-created when missing so the
// prompt log never loses a turn to ordering races between hooks.
func (s *PromptStore) SaveUserPrompt(ctx context.Context, sessionID string, promptNumber int, promptText string) (int64, error) {
	if sessionID == "" {
		return 0, fmt.Errorf("save prompt: session id is required")
	}
	if promptText == "" {
		return 0, fmt.Errorf("save prompt: prompt text is required")
	}

	now := time.Now()

	tx, err := s.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("save prompt: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := ensureSession(ctx, tx, sessionID, ""); err != nil {
		return 0, fmt.Errorf("save prompt: ensure session: %w", err)
	}

	const insertQuery = `
		INSERT INTO user_prompts
		(session_id, prompt_number, prompt_text, created_at, created_at_epoch)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := tx.ExecContext(ctx, insertQuery,
		sessionID, promptNumber, promptText,
		now.Format(time.RFC3339), now.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("save prompt: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("save prompt: last insert id: %w", err)
	}

	const indexQuery = `INSERT INTO user_prompts_fts (rowid, prompt_text) VALUES (?, ?)`
	if _, err := tx.ExecContext(ctx, indexQuery, id, promptText); err != nil {
		return 0, fmt.Errorf("save prompt: index: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("save prompt: commit: %w", err)
	}

	go s.trimGlobal()

	return id, nil
}

func (s *PromptStore) trimGlobal() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := s.CleanupOldPrompts(ctx); err != nil {
		log.Warn().Err(err).Msg("Prompt cleanup failed")
	}
}

// CleanupOldPrompts deletes prompts beyond the global limit, keeping the
// most recent MaxPromptsGlobal rows. Index rows go in the same
// transaction. Returns the IDs of deleted prompts.
func (s *PromptStore) CleanupOldPrompts(ctx context.Context) ([]int64, error) {
	tx, err := s.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("cleanup prompts: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const selectQuery = `
		SELECT id, prompt_text FROM user_prompts
		WHERE id NOT IN (
			SELECT id FROM user_prompts
			ORDER BY created_at_epoch DESC, id DESC
			LIMIT ?
		)
	`
	rows, err := tx.QueryContext(ctx, selectQuery, MaxPromptsGlobal)
	if err != nil {
		return nil, fmt.Errorf("cleanup prompts: select: %w", err)
	}

	type doomed struct {
		id   int64
		text string
	}
	var victims []doomed
	for rows.Next() {
		var d doomed
		if err := rows.Scan(&d.id, &d.text); err != nil {
			rows.Close()
			return nil, fmt.Errorf("cleanup prompts: scan: %w", err)
		}
		victims = append(victims, d)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("cleanup prompts: %w", err)
	}
	rows.Close()

	if len(victims) == 0 {
		return nil, nil
	}

	const indexDelete = `
		INSERT INTO user_prompts_fts (user_prompts_fts, rowid, prompt_text)
		VALUES ('delete', ?, ?)
	`
	ids := make([]int64, 0, len(victims))
	for _, v := range victims {
		if _, err := tx.ExecContext(ctx, indexDelete, v.id, v.text); err != nil {
			return nil, fmt.Errorf("cleanup prompts: index delete: %w", err)
		}
		ids = append(ids, v.id)
	}

	// #nosec G202 -- query uses parameterized placeholders, not user input
	deleteQuery := `DELETE FROM user_prompts WHERE id IN (?` + repeatPlaceholders(len(ids)-1) + `)`
	if _, err := tx.ExecContext(ctx, deleteQuery, int64SliceToInterface(ids)...); err != nil {
		return nil, fmt.Errorf("cleanup prompts: delete: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("cleanup prompts: commit: %w", err)
	}
	return ids, nil
}

// GetPromptsBySession retrieves a session's prompts in turn order.
func (s *PromptStore) GetPromptsBySession(ctx context.Context, sessionID string, limit int) ([]*models.UserPrompt, error) {
	query := `
		SELECT id, session_id, prompt_number, prompt_text, created_at, created_at_epoch
		FROM user_prompts
		WHERE session_id = ?
		ORDER BY prompt_number ASC, id ASC`
	args := []interface{}{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.store.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get session prompts: %w", err)
	}
	defer rows.Close()

	var prompts []*models.UserPrompt
	for rows.Next() {
		var p models.UserPrompt
		if err := rows.Scan(&p.ID, &p.SessionID, &p.PromptNumber, &p.PromptText,
			&p.CreatedAt, &p.CreatedAtEpoch); err != nil {
			return nil, fmt.Errorf("scan prompt: %w", err)
		}
		prompts = append(prompts, &p)
	}
	return prompts, rows.Err()
}

// GetPromptsByIDs retrieves prompts by a list of IDs, with project
// context joined in.
func (s *PromptStore) GetPromptsByIDs(ctx context.Context, ids []int64, orderBy string, limit int) ([]*models.UserPromptWithSession, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	// #nosec G202 -- query uses parameterized placeholders, not user input
	query := `
		SELECT ` + promptWithSessionColumns + `
		FROM user_prompts up
		LEFT JOIN sdk_sessions s ON up.session_id = s.claude_session_id
		WHERE up.id IN (?` + repeatPlaceholders(len(ids)-1) + `)
		ORDER BY up.created_at_epoch `

	if orderBy == "date_asc" {
		query += "ASC"
	} else {
		query += "DESC"
	}

	args := int64SliceToInterface(ids)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.store.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get prompts by ids: %w", err)
	}
	defer rows.Close()

	return scanPromptWithSessionRows(rows)
}

// GetAllRecentUserPrompts retrieves recent prompts across all sessions.
func (s *PromptStore) GetAllRecentUserPrompts(ctx context.Context, limit int) ([]*models.UserPromptWithSession, error) {
	const query = `
		SELECT ` + promptWithSessionColumns + `
		FROM user_prompts up
		LEFT JOIN sdk_sessions s ON up.session_id = s.claude_session_id
		ORDER BY up.created_at_epoch DESC
		LIMIT ?
	`
	rows, err := s.store.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent prompts: %w", err)
	}
	defer rows.Close()

	return scanPromptWithSessionRows(rows)
}

// GetRecentPromptsByProject retrieves recent prompts for one project.
func (s *PromptStore) GetRecentPromptsByProject(ctx context.Context, project string, limit int) ([]*models.UserPromptWithSession, error) {
	const query = `
		SELECT ` + promptWithSessionColumns + `
		FROM user_prompts up
		LEFT JOIN sdk_sessions s ON up.session_id = s.claude_session_id
		WHERE s.project = ?
		ORDER BY up.created_at_epoch DESC
		LIMIT ?
	`
	rows, err := s.store.QueryContext(ctx, query, project, limit)
	if err != nil {
		return nil, fmt.Errorf("get project prompts: %w", err)
	}
	defer rows.Close()

	return scanPromptWithSessionRows(rows)
}

// SearchPrompts performs keyword search over prompt text, newest first.
func (s *PromptStore) SearchPrompts(ctx context.Context, query, project string, limit int) ([]*models.UserPromptWithSession, error) {
	if limit <= 0 {
		limit = 10
	}

	keywords := extractKeywords(query)
	if len(keywords) == 0 {
		return nil, nil
	}

	quoted := make([]string, len(keywords))
	for i, kw := range keywords {
		quoted[i] = `"` + kw + `"`
	}

	ftsQuery := `
		SELECT ` + promptWithSessionColumns + `
		FROM user_prompts up
		JOIN user_prompts_fts fts ON fts.rowid = up.id
		LEFT JOIN sdk_sessions s ON up.session_id = s.claude_session_id
		WHERE user_prompts_fts MATCH ?`
	args := []interface{}{strings.Join(quoted, " OR ")}

	if project != "" {
		ftsQuery += ` AND s.project = ?`
		args = append(args, project)
	}
	ftsQuery += `
		ORDER BY up.created_at_epoch DESC
		LIMIT ?`
	args = append(args, limit)

	rows, err := s.store.QueryContext(ctx, ftsQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("search prompts: %w", err)
	}
	defer rows.Close()

	return scanPromptWithSessionRows(rows)
}
