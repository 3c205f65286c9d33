// Package models contains domain models for claude-memory.
package models

// UserPrompt is one literal prompt captured during a session, an
// append-only log row keyed by the session token.
type UserPrompt struct {
	SessionID      string `db:"session_id" json:"session_id"`
	PromptText     string `db:"prompt_text" json:"prompt_text"`
	CreatedAt      string `db:"created_at" json:"created_at"`
	ID             int64  `db:"id" json:"id"`
	PromptNumber   int    `db:"prompt_number" json:"prompt_number"`
	CreatedAtEpoch int64  `db:"created_at_epoch" json:"created_at_epoch"`
}

// UserPromptWithSession includes session context for search results.
type UserPromptWithSession struct {
	Project string `db:"project" json:"project"`
	UserPrompt
}
