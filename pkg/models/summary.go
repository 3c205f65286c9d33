// Package models contains domain models for claude-memory.
package models

import (
	"database/sql"
	"time"

	json "github.com/goccy/go-json"
)

// SessionSummary is one stored synthesis of a conversational turn. Every
// text field is optional; a summary with all fields null is still valid.
type SessionSummary struct {
	CreatedAt       string         `db:"created_at" json:"created_at"`
	SessionID       string         `db:"session_id" json:"session_id"`
	Project         string         `db:"project" json:"project"`
	Completed       sql.NullString `db:"completed" json:"completed,omitempty"`
	Investigated    sql.NullString `db:"investigated" json:"investigated,omitempty"`
	Learned         sql.NullString `db:"learned" json:"learned,omitempty"`
	NextSteps       sql.NullString `db:"next_steps" json:"next_steps,omitempty"`
	Notes           sql.NullString `db:"notes" json:"notes,omitempty"`
	Request         sql.NullString `db:"request" json:"request,omitempty"`
	PromptNumber    sql.NullInt64  `db:"prompt_number" json:"prompt_number,omitempty"`
	ID              int64          `db:"id" json:"id"`
	DiscoveryTokens int64          `db:"discovery_tokens" json:"discovery_tokens"`
	CreatedAtEpoch  int64          `db:"created_at_epoch" json:"created_at_epoch"`
}

// ParsedSummary is the plain summary shape exchanged with callers.
type ParsedSummary struct {
	Request      string
	Investigated string
	Learned      string
	Completed    string
	NextSteps    string
	Notes        string
}

// optional wraps a string that stores as NULL when empty.
func optional(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// NewSessionSummary builds a storable summary row, stamping both
// timestamp forms. Empty fields become NULL columns.
func NewSessionSummary(sessionID, project string, parsed *ParsedSummary, promptNumber int, discoveryTokens int64) *SessionSummary {
	now := time.Now()
	return &SessionSummary{
		SessionID:       sessionID,
		Project:         project,
		Request:         optional(parsed.Request),
		Investigated:    optional(parsed.Investigated),
		Learned:         optional(parsed.Learned),
		Completed:       optional(parsed.Completed),
		NextSteps:       optional(parsed.NextSteps),
		Notes:           optional(parsed.Notes),
		PromptNumber:    sql.NullInt64{Int64: int64(promptNumber), Valid: promptNumber > 0},
		DiscoveryTokens: discoveryTokens,
		CreatedAt:       now.Format(time.RFC3339),
		CreatedAtEpoch:  now.UnixMilli(),
	}
}

// SessionSummaryJSON is the flattened JSON shape served by the worker API.
type SessionSummaryJSON struct {
	ID              int64  `json:"id"`
	SessionID       string `json:"session_id"`
	Project         string `json:"project"`
	Request         string `json:"request,omitempty"`
	Investigated    string `json:"investigated,omitempty"`
	Learned         string `json:"learned,omitempty"`
	Completed       string `json:"completed,omitempty"`
	NextSteps       string `json:"next_steps,omitempty"`
	Notes           string `json:"notes,omitempty"`
	PromptNumber    int64  `json:"prompt_number,omitempty"`
	DiscoveryTokens int64  `json:"discovery_tokens"`
	CreatedAt       string `json:"created_at"`
	CreatedAtEpoch  int64  `json:"created_at_epoch"`
}

// MarshalJSON flattens nullable columns so API consumers never see the
// sql.Null* wrapper shape. Invalid fields read as zero values, which
// omitempty then drops.
func (s *SessionSummary) MarshalJSON() ([]byte, error) {
	return json.Marshal(SessionSummaryJSON{
		ID:              s.ID,
		SessionID:       s.SessionID,
		Project:         s.Project,
		Request:         s.Request.String,
		Investigated:    s.Investigated.String,
		Learned:         s.Learned.String,
		Completed:       s.Completed.String,
		NextSteps:       s.NextSteps.String,
		Notes:           s.Notes.String,
		PromptNumber:    s.PromptNumber.Int64,
		DiscoveryTokens: s.DiscoveryTokens,
		CreatedAt:       s.CreatedAt,
		CreatedAtEpoch:  s.CreatedAtEpoch,
	})
}
