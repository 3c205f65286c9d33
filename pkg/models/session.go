// Package models contains domain models for claude-memory.
package models

import (
	"database/sql"

	json "github.com/goccy/go-json"
)

// SessionStatus represents the lifecycle state of a session.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
)

// SDKSession is one tracked session. The session token
// (ClaudeSessionID) is supplied by the caller and unique; the internal
// id is assigned on first insert.
type SDKSession struct {
	ID               int64          `db:"id" json:"id"`
	ClaudeSessionID  string         `db:"claude_session_id" json:"claude_session_id"`
	Project          string         `db:"project" json:"project"`
	UserPrompt       sql.NullString `db:"user_prompt" json:"user_prompt,omitempty"`
	PromptCounter    int64          `db:"prompt_counter" json:"prompt_counter"`
	Status           SessionStatus  `db:"status" json:"status"`
	StartedAt        string         `db:"started_at" json:"started_at"`
	StartedAtEpoch   int64          `db:"started_at_epoch" json:"started_at_epoch"`
	CompletedAt      sql.NullString `db:"completed_at" json:"completed_at,omitempty"`
	CompletedAtEpoch sql.NullInt64  `db:"completed_at_epoch" json:"completed_at_epoch,omitempty"`
}

// SessionJSON is the flattened JSON shape served by the worker API.
type SessionJSON struct {
	ID               int64  `json:"id"`
	ClaudeSessionID  string `json:"claude_session_id"`
	Project          string `json:"project"`
	UserPrompt       string `json:"user_prompt,omitempty"`
	PromptCounter    int64  `json:"prompt_counter"`
	Status           string `json:"status"`
	StartedAt        string `json:"started_at"`
	StartedAtEpoch   int64  `json:"started_at_epoch"`
	CompletedAt      string `json:"completed_at,omitempty"`
	CompletedAtEpoch int64  `json:"completed_at_epoch,omitempty"`
}

// MarshalJSON flattens nullable columns so API consumers never see the
// sql.Null* wrapper shape.
func (s *SDKSession) MarshalJSON() ([]byte, error) {
	return json.Marshal(SessionJSON{
		ID:               s.ID,
		ClaudeSessionID:  s.ClaudeSessionID,
		Project:          s.Project,
		UserPrompt:       s.UserPrompt.String,
		PromptCounter:    s.PromptCounter,
		Status:           string(s.Status),
		StartedAt:        s.StartedAt,
		StartedAtEpoch:   s.StartedAtEpoch,
		CompletedAt:      s.CompletedAt.String,
		CompletedAtEpoch: s.CompletedAtEpoch.Int64,
	})
}
