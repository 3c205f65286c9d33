// Package sqlite provides SQLite database operations for claude-memory.
package sqlite

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cookiesen77-rgb/claude-memory/pkg/models"
)

// scanner is satisfied by both *sql.Row and *sql.Rows, letting one scan
// helper serve the single-row and multi-row query variants.
type scanner interface {
	Scan(dest ...interface{}) error
}

// execer is satisfied by *Store and *sql.Tx, so session auto-creation
// can run standalone or inside a write transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// ensureSession inserts the session row for a token when none exists.
// INSERT OR IGNORE plus the uniqueness constraint keeps concurrent calls
// for the same token down to a single row.
func ensureSession(ctx context.Context, e execer, sessionID, project string) error {
	now := time.Now()
	_, err := e.ExecContext(ctx, `
		INSERT OR IGNORE INTO sdk_sessions
		(claude_session_id, project, started_at, started_at_epoch, status)
		VALUES (?, ?, ?, ?, 'active')`,
		sessionID, project, now.Format(time.RFC3339), now.UnixMilli(),
	)
	return err
}

// EnsureSessionExists creates a session if it doesn't exist. Observation,
// summary, and prompt writes call this first so a skipped session init
// never fails a write.
func EnsureSessionExists(ctx context.Context, store *Store, sessionID, project string) error {
	return ensureSession(ctx, store, sessionID, project)
}

// nullString treats empty as NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullInt treats zero and negative as NULL.
func nullInt(i int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(i), Valid: i > 0}
}

// repeatPlaceholders returns n comma-prefixed "?" placeholders, for
// appending to an IN clause that already holds its first one.
func repeatPlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat(", ?", n)
}

// int64SliceToInterface widens ids into the variadic arg shape the
// database/sql query methods take.
func int64SliceToInterface(ids []int64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// ParseLimitParam reads a positive ?limit= value, falling back to the
// default on absence, junk, or non-positive input.
func ParseLimitParam(r *http.Request, defaultLimit int) int {
	parsed, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || parsed <= 0 {
		return defaultLimit
	}
	return parsed
}

// scanSession scans a single session row.
func scanSession(sc scanner) (*models.SDKSession, error) {
	var session models.SDKSession
	if err := sc.Scan(
		&session.ID, &session.ClaudeSessionID, &session.Project, &session.UserPrompt,
		&session.PromptCounter, &session.Status,
		&session.StartedAt, &session.StartedAtEpoch,
		&session.CompletedAt, &session.CompletedAtEpoch,
	); err != nil {
		return nil, err
	}
	return &session, nil
}

// scanObservation scans a single observation row.
func scanObservation(sc scanner) (*models.Observation, error) {
	var obs models.Observation
	if err := sc.Scan(
		&obs.ID, &obs.SessionID, &obs.Project, &obs.Type,
		&obs.Title, &obs.Subtitle, &obs.Narrative,
		&obs.Facts, &obs.Concepts, &obs.FilesRead, &obs.FilesModified,
		&obs.PromptNumber, &obs.DiscoveryTokens,
		&obs.CreatedAt, &obs.CreatedAtEpoch,
	); err != nil {
		return nil, err
	}
	return &obs, nil
}

// scanObservationRows scans multiple observations from rows.
func scanObservationRows(rows *sql.Rows) ([]*models.Observation, error) {
	var observations []*models.Observation
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		observations = append(observations, obs)
	}
	return observations, rows.Err()
}

// scanSummary scans a single summary row.
func scanSummary(sc scanner) (*models.SessionSummary, error) {
	var summary models.SessionSummary
	if err := sc.Scan(
		&summary.ID, &summary.SessionID, &summary.Project,
		&summary.Request, &summary.Investigated, &summary.Learned, &summary.Completed,
		&summary.NextSteps, &summary.Notes, &summary.PromptNumber, &summary.DiscoveryTokens,
		&summary.CreatedAt, &summary.CreatedAtEpoch,
	); err != nil {
		return nil, err
	}
	return &summary, nil
}

// scanSummaryRows scans multiple summaries from rows.
func scanSummaryRows(rows *sql.Rows) ([]*models.SessionSummary, error) {
	var summaries []*models.SessionSummary
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

// scanPromptWithSession scans a single prompt joined with its session's project.
func scanPromptWithSession(sc scanner) (*models.UserPromptWithSession, error) {
	var prompt models.UserPromptWithSession
	if err := sc.Scan(
		&prompt.ID, &prompt.SessionID, &prompt.PromptNumber, &prompt.PromptText,
		&prompt.CreatedAt, &prompt.CreatedAtEpoch, &prompt.Project,
	); err != nil {
		return nil, err
	}
	return &prompt, nil
}

// scanPromptWithSessionRows scans multiple prompts with session info from rows.
func scanPromptWithSessionRows(rows *sql.Rows) ([]*models.UserPromptWithSession, error) {
	var prompts []*models.UserPromptWithSession
	for rows.Next() {
		prompt, err := scanPromptWithSession(rows)
		if err != nil {
			return nil, err
		}
		prompts = append(prompts, prompt)
	}
	return prompts, rows.Err()
}

// BuildGetByIDsQuery appends an IN clause, creation-time ordering, and an
// optional limit to a base SELECT. Search resolves FTS matches to ids and
// uses this to hydrate full rows in one round trip.
func BuildGetByIDsQuery(baseQuery string, ids []int64, orderBy string, limit int) (string, []interface{}) {
	direction := "DESC"
	if orderBy == "date_asc" {
		direction = "ASC"
	}

	// #nosec G202 -- only placeholders are concatenated, never values
	query := baseQuery +
		" WHERE id IN (?" + repeatPlaceholders(len(ids)-1) + ")" +
		" ORDER BY created_at_epoch " + direction

	args := int64SliceToInterface(ids)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	return query, args
}
