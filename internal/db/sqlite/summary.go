package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/cookiesen77-rgb/claude-memory/pkg/models"
)

const summaryColumns = `id, session_id, project, request, investigated, learned, completed,
		next_steps, notes, prompt_number, discovery_tokens, created_at, created_at_epoch`

const summaryColumnsPrefixed = `s.id, s.session_id, s.project, s.request, s.investigated, s.learned, s.completed,
		s.next_steps, s.notes, s.prompt_number, s.discovery_tokens, s.created_at, s.created_at_epoch`

// SummaryStore provides summary-related database operations.
type SummaryStore struct {
	store *Store
}

// NewSummaryStore creates a new summary store.
func NewSummaryStore(store *Store) *SummaryStore {
	return &SummaryStore{store: store}
}

// StoreSummary stores a session summary and indexes it in the same
// transaction. Like StoreObservation, it auto-creates the owning
// session when missing.
func (s *SummaryStore) StoreSummary(ctx context.Context, sessionID, project string, summary *models.ParsedSummary, promptNumber int, discoveryTokens int64) (int64, int64, error) {
	if sessionID == "" {
		return 0, 0, fmt.Errorf("store summary: session id is required")
	}
	if summary == nil {
		return 0, 0, fmt.Errorf("store summary: summary is required")
	}

	row := models.NewSessionSummary(sessionID, project, summary, promptNumber, discoveryTokens)

	tx, err := s.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("store summary: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := ensureSession(ctx, tx, sessionID, project); err != nil {
		return 0, 0, fmt.Errorf("store summary: ensure session: %w", err)
	}

	const insertQuery = `
		INSERT INTO session_summaries
		(session_id, project, request, investigated, learned, completed,
		 next_steps, notes, prompt_number, discovery_tokens, created_at, created_at_epoch)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := tx.ExecContext(ctx, insertQuery,
		row.SessionID, row.Project,
		row.Request, row.Investigated, row.Learned, row.Completed,
		row.NextSteps, row.Notes,
		row.PromptNumber, row.DiscoveryTokens,
		row.CreatedAt, row.CreatedAtEpoch,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("store summary: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, 0, fmt.Errorf("store summary: last insert id: %w", err)
	}

	const indexQuery = `
		INSERT INTO session_summaries_fts
		(rowid, request, investigated, learned, completed, next_steps, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, indexQuery,
		id, row.Request, row.Investigated, row.Learned, row.Completed,
		row.NextSteps, row.Notes); err != nil {
		return 0, 0, fmt.Errorf("store summary: index: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("store summary: commit: %w", err)
	}
	return id, row.CreatedAtEpoch, nil
}

// GetSummariesByIDs retrieves summaries by a list of IDs.
func (s *SummaryStore) GetSummariesByIDs(ctx context.Context, ids []int64, orderBy string, limit int) ([]*models.SessionSummary, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query, args := BuildGetByIDsQuery(
		`SELECT `+summaryColumns+` FROM session_summaries`, ids, orderBy, limit)

	rows, err := s.store.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get summaries by ids: %w", err)
	}
	defer rows.Close()

	return scanSummaryRows(rows)
}

// GetRecentSummaries retrieves recent summaries for a project, newest
// first.
func (s *SummaryStore) GetRecentSummaries(ctx context.Context, project string, limit int) ([]*models.SessionSummary, error) {
	const query = `
		SELECT ` + summaryColumns + `
		FROM session_summaries
		WHERE project = ?
		ORDER BY created_at_epoch DESC
		LIMIT ?
	`
	rows, err := s.store.QueryContext(ctx, query, project, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent summaries: %w", err)
	}
	defer rows.Close()

	return scanSummaryRows(rows)
}

// GetAllRecentSummaries retrieves recent summaries across all projects.
func (s *SummaryStore) GetAllRecentSummaries(ctx context.Context, limit int) ([]*models.SessionSummary, error) {
	const query = `
		SELECT ` + summaryColumns + `
		FROM session_summaries
		ORDER BY created_at_epoch DESC
		LIMIT ?
	`
	rows, err := s.store.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent summaries: %w", err)
	}
	defer rows.Close()

	return scanSummaryRows(rows)
}

// SearchSummaries performs keyword search over summary text, newest
// first. Shares the keyword extraction rules with observation search.
func (s *SummaryStore) SearchSummaries(ctx context.Context, query, project string, limit int) ([]*models.SessionSummary, error) {
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
		SELECT ` + summaryColumnsPrefixed + `
		FROM session_summaries s
		JOIN session_summaries_fts fts ON fts.rowid = s.id
		WHERE session_summaries_fts MATCH ?`
	args := []interface{}{strings.Join(quoted, " OR ")}

	if project != "" {
		ftsQuery += ` AND s.project = ?`
		args = append(args, project)
	}
	ftsQuery += `
		ORDER BY s.created_at_epoch DESC
		LIMIT ?`
	args = append(args, limit)

	rows, err := s.store.QueryContext(ctx, ftsQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("search summaries: %w", err)
	}
	defer rows.Close()

	return scanSummaryRows(rows)
}
