package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cookiesen77-rgb/claude-memory/pkg/models"
)

// MaxObservationsPerProject is the hard limit of observations kept per
// project. Older rows beyond it are trimmed after each write.
const MaxObservationsPerProject = 100

// CleanupFunc is a callback for when observations are trimmed. Receives
// the IDs of deleted rows so downstream caches can drop derived state.
type CleanupFunc func(ctx context.Context, deletedIDs []int64)

const observationColumns = `id, session_id, project, type, title, subtitle, narrative,
		facts, concepts, files_read, files_modified, prompt_number, discovery_tokens,
		created_at, created_at_epoch`

const observationColumnsPrefixed = `o.id, o.session_id, o.project, o.type, o.title, o.subtitle, o.narrative,
		o.facts, o.concepts, o.files_read, o.files_modified, o.prompt_number, o.discovery_tokens,
		o.created_at, o.created_at_epoch`

// ObservationStore provides observation-related database operations.
type ObservationStore struct {
	store *Store

	mu      sync.RWMutex
	cleanup CleanupFunc
}

// NewObservationStore creates a new observation store.
func NewObservationStore(store *Store) *ObservationStore {
	return &ObservationStore{store: store}
}

// SetCleanupFunc sets the callback invoked after observations are
// trimmed. Safe to call while writes are in flight.
func (s *ObservationStore) SetCleanupFunc(fn CleanupFunc) {
	s.mu.Lock()
	s.cleanup = fn
	s.mu.Unlock()
}

// StoreObservation stores a new observation and indexes it in the same
// transaction, so search sees the row the moment this call returns. The
// owning session is auto-created when missing; storage never fails just
// because session init was skipped. Unknown types are coerced to
// "change" with a warning.
func (s *ObservationStore) StoreObservation(ctx context.Context, sessionID, project string, parsed *models.ParsedObservation, promptNumber int, discoveryTokens int64) (int64, int64, error) {
	if sessionID == "" {
		return 0, 0, fmt.Errorf("store observation: session id is required")
	}
	if parsed == nil {
		return 0, 0, fmt.Errorf("store observation: observation is required")
	}

	if _, valid := models.NormalizeObservationType(string(parsed.Type)); !valid && parsed.Type != "" {
		log.Warn().
			Str("type", string(parsed.Type)).
			Str("session_id", sessionID).
			Msg("Unknown observation type, storing as change")
	}

	obs := models.NewObservation(sessionID, project, parsed, promptNumber, discoveryTokens)

	tx, err := s.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("store observation: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := ensureSession(ctx, tx, sessionID, project); err != nil {
		return 0, 0, fmt.Errorf("store observation: ensure session: %w", err)
	}

	const insertQuery = `
		INSERT INTO observations
		(session_id, project, type, title, subtitle, narrative, facts, concepts,
		 files_read, files_modified, prompt_number, discovery_tokens, created_at, created_at_epoch)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := tx.ExecContext(ctx, insertQuery,
		obs.SessionID, obs.Project, string(obs.Type),
		obs.Title, obs.Subtitle, obs.Narrative,
		obs.Facts, obs.Concepts, obs.FilesRead, obs.FilesModified,
		obs.PromptNumber, obs.DiscoveryTokens,
		obs.CreatedAt, obs.CreatedAtEpoch,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("store observation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, 0, fmt.Errorf("store observation: last insert id: %w", err)
	}

	// Index maintenance lives here, not in schema triggers, so the
	// consistency contract is visible in the write path itself.
	const indexQuery = `
		INSERT INTO observations_fts (rowid, title, subtitle, narrative, facts)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, indexQuery,
		id, obs.Title, obs.Subtitle, obs.Narrative, obs.Facts); err != nil {
		return 0, 0, fmt.Errorf("store observation: index: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("store observation: commit: %w", err)
	}

	// Trim beyond the per-project limit asynchronously so a slow cleanup
	// never blocks the write that triggered it.
	if project != "" {
		go s.trimProject(project)
	}

	return id, obs.CreatedAtEpoch, nil
}

func (s *ObservationStore) trimProject(project string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	deleted, err := s.CleanupOldObservations(ctx, project)
	if err != nil {
		log.Warn().Err(err).Str("project", project).Msg("Observation cleanup failed")
		return
	}
	if len(deleted) == 0 {
		return
	}

	s.mu.RLock()
	cleanup := s.cleanup
	s.mu.RUnlock()
	if cleanup != nil {
		cleanup(ctx, deleted)
	}
}

// CleanupOldObservations deletes observations beyond the per-project
// limit, keeping the most recent MaxObservationsPerProject rows. The
// index rows are removed in the same transaction as the base rows.
// Returns the IDs of deleted observations.
func (s *ObservationStore) CleanupOldObservations(ctx context.Context, project string) ([]int64, error) {
	tx, err := s.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("cleanup observations: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const selectQuery = `
		SELECT id, title, subtitle, narrative, facts
		FROM observations
		WHERE project = ? AND id NOT IN (
			SELECT id FROM observations
			WHERE project = ?
			ORDER BY created_at_epoch DESC, id DESC
			LIMIT ?
		)
	`
	rows, err := tx.QueryContext(ctx, selectQuery, project, project, MaxObservationsPerProject)
	if err != nil {
		return nil, fmt.Errorf("cleanup observations: select: %w", err)
	}

	type doomed struct {
		id                                int64
		title, subtitle, narrative, facts sql.NullString
	}
	var victims []doomed
	for rows.Next() {
		var d doomed
		if err := rows.Scan(&d.id, &d.title, &d.subtitle, &d.narrative, &d.facts); err != nil {
			rows.Close()
			return nil, fmt.Errorf("cleanup observations: scan: %w", err)
		}
		victims = append(victims, d)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("cleanup observations: %w", err)
	}
	rows.Close()

	if len(victims) == 0 {
		return nil, nil
	}

	// External-content FTS needs the exact stored values in the delete
	// command; re-binding the raw column text guarantees that.
	const indexDelete = `
		INSERT INTO observations_fts (observations_fts, rowid, title, subtitle, narrative, facts)
		VALUES ('delete', ?, ?, ?, ?, ?)
	`
	ids := make([]int64, 0, len(victims))
	for _, v := range victims {
		if _, err := tx.ExecContext(ctx, indexDelete, v.id, v.title, v.subtitle, v.narrative, v.facts); err != nil {
			return nil, fmt.Errorf("cleanup observations: index delete: %w", err)
		}
		ids = append(ids, v.id)
	}

	// #nosec G202 -- query uses parameterized placeholders, not user input
	deleteQuery := `DELETE FROM observations WHERE id IN (?` + repeatPlaceholders(len(ids)-1) + `)`
	if _, err := tx.ExecContext(ctx, deleteQuery, int64SliceToInterface(ids)...); err != nil {
		return nil, fmt.Errorf("cleanup observations: delete: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("cleanup observations: commit: %w", err)
	}
	return ids, nil
}

// GetObservationByID retrieves an observation by ID. Returns nil
// without error when the row does not exist.
func (s *ObservationStore) GetObservationByID(ctx context.Context, id int64) (*models.Observation, error) {
	const query = `SELECT ` + observationColumns + ` FROM observations WHERE id = ?`

	obs, err := scanObservation(s.store.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get observation: %w", err)
	}
	return obs, nil
}

// GetObservationsByIDs retrieves observations by a list of IDs.
func (s *ObservationStore) GetObservationsByIDs(ctx context.Context, ids []int64, orderBy string, limit int) ([]*models.Observation, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query, args := BuildGetByIDsQuery(
		`SELECT `+observationColumns+` FROM observations`, ids, orderBy, limit)

	rows, err := s.store.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get observations by ids: %w", err)
	}
	defer rows.Close()

	return scanObservationRows(rows)
}

// GetRecentObservations retrieves the most recent observations for a
// project, newest first.
func (s *ObservationStore) GetRecentObservations(ctx context.Context, project string, limit int) ([]*models.Observation, error) {
	const query = `
		SELECT ` + observationColumns + `
		FROM observations
		WHERE project = ?
		ORDER BY created_at_epoch DESC
		LIMIT ?
	`
	rows, err := s.store.QueryContext(ctx, query, project, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent observations: %w", err)
	}
	defer rows.Close()

	return scanObservationRows(rows)
}

// GetAllRecentObservations retrieves recent observations across all
// projects.
func (s *ObservationStore) GetAllRecentObservations(ctx context.Context, limit int) ([]*models.Observation, error) {
	const query = `
		SELECT ` + observationColumns + `
		FROM observations
		ORDER BY created_at_epoch DESC
		LIMIT ?
	`
	rows, err := s.store.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent observations: %w", err)
	}
	defer rows.Close()

	return scanObservationRows(rows)
}

// CountByProject returns the number of stored observations for a
// project.
func (s *ObservationStore) CountByProject(ctx context.Context, project string) (int, error) {
	const query = `SELECT COUNT(*) FROM observations WHERE project = ?`

	var count int
	if err := s.store.QueryRowContext(ctx, query, project).Scan(&count); err != nil {
		return 0, fmt.Errorf("count observations: %w", err)
	}
	return count, nil
}

// SearchObservations performs keyword search over observation text.
// Query words are lowercased, filtered against stopwords, and matched
// as OR-joined tokens; matches are returned newest first because the
// results feed a "recent work" view where recency outranks textual
// relevance. Falls back to a LIKE scan only when no keywords survive
// filtering or the index query itself fails.
func (s *ObservationStore) SearchObservations(ctx context.Context, query, project string, limit int) ([]*models.Observation, error) {
	if limit <= 0 {
		limit = 10
	}

	keywords := extractKeywords(query)
	if len(keywords) == 0 {
		return s.searchObservationsLike(ctx, []string{strings.TrimSpace(query)}, project, limit)
	}

	// Quote each token so FTS treats it as a literal term, not syntax.
	quoted := make([]string, len(keywords))
	for i, kw := range keywords {
		quoted[i] = `"` + kw + `"`
	}
	matchExpr := strings.Join(quoted, " OR ")

	ftsQuery := `
		SELECT ` + observationColumnsPrefixed + `
		FROM observations o
		JOIN observations_fts fts ON fts.rowid = o.id
		WHERE observations_fts MATCH ?`
	args := []interface{}{matchExpr}

	if project != "" {
		ftsQuery += ` AND o.project = ?`
		args = append(args, project)
	}
	ftsQuery += `
		ORDER BY o.created_at_epoch DESC
		LIMIT ?`
	args = append(args, limit)

	rows, err := s.store.QueryContext(ctx, ftsQuery, args...)
	if err != nil {
		// Malformed match expressions surface here; degrade to LIKE.
		return s.searchObservationsLike(ctx, keywords, project, limit)
	}
	defer rows.Close()

	return scanObservationRows(rows)
}

// searchObservationsLike is the fallback substring scan.
func (s *ObservationStore) searchObservationsLike(ctx context.Context, keywords []string, project string, limit int) ([]*models.Observation, error) {
	var conditions []string
	var args []interface{}

	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		pattern := "%" + kw + "%"
		conditions = append(conditions, "(title LIKE ? OR subtitle LIKE ? OR narrative LIKE ? OR facts LIKE ?)")
		args = append(args, pattern, pattern, pattern, pattern)
	}
	if len(conditions) == 0 {
		return nil, nil
	}

	// #nosec G202 -- query uses parameterized placeholders, not user input
	query := `
		SELECT ` + observationColumns + `
		FROM observations
		WHERE (` + strings.Join(conditions, " OR ") + `)`
	if project != "" {
		query += ` AND project = ?`
		args = append(args, project)
	}
	query += `
		ORDER BY created_at_epoch DESC
		LIMIT ?`
	args = append(args, limit)

	rows, err := s.store.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search observations: %w", err)
	}
	defer rows.Close()

	return scanObservationRows(rows)
}

// searchStopwords are query words too common to discriminate between
// observations.
var searchStopwords = map[string]bool{
	"what": true, "when": true, "where": true, "which": true, "whose": true,
	"this": true, "that": true, "these": true, "those": true, "there": true,
	"their": true, "they": true, "them": true, "then": true, "than": true,
	"with": true, "from": true, "have": true, "been": true, "about": true,
	"would": true, "could": true, "should": true, "will": true, "want": true,
	"need": true, "does": true, "please": true, "show": true, "tell": true,
	"find": true, "give": true, "make": true, "know": true, "explain": true,
	"help": true, "using": true, "used": true, "into": true, "over": true,
	"also": true, "just": true, "like": true, "some": true, "such": true,
	"only": true, "very": true, "much": true, "many": true, "more": true,
	"most": true, "other": true, "work": true, "works": true, "working": true,
	"function": true, "method": true, "file": true, "files": true, "code": true,
}

// extractKeywords pulls significant terms out of a free-text query:
// lowercase, four or more characters, not a stopword, deduplicated.
// Returns nil when nothing survives.
func extractKeywords(query string) []string {
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_')
	})

	var keywords []string
	seen := make(map[string]bool)
	for _, word := range words {
		if len(word) < 4 || searchStopwords[word] || seen[word] {
			continue
		}
		seen[word] = true
		keywords = append(keywords, word)
	}
	return keywords
}
