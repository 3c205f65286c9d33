// Package models contains domain models for claude-memory.
package models

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// ObservationType classifies one recorded unit of work.
type ObservationType string

const (
	ObsTypeBugfix    ObservationType = "bugfix"
	ObsTypeFeature   ObservationType = "feature"
	ObsTypeRefactor  ObservationType = "refactor"
	ObsTypeChange    ObservationType = "change"
	ObsTypeDiscovery ObservationType = "discovery"
	ObsTypeDecision  ObservationType = "decision"
)

var validObservationTypes = map[ObservationType]bool{
	ObsTypeBugfix:    true,
	ObsTypeFeature:   true,
	ObsTypeRefactor:  true,
	ObsTypeChange:    true,
	ObsTypeDiscovery: true,
	ObsTypeDecision:  true,
}

// NormalizeObservationType maps a raw type string onto the closed enum.
// Unrecognized values coerce to ObsTypeChange; the second result reports
// whether the input was already valid so the caller can log the downgrade.
func NormalizeObservationType(raw string) (ObservationType, bool) {
	t := ObservationType(raw)
	if validObservationTypes[t] {
		return t, true
	}
	return ObsTypeChange, false
}

// JSONStringArray is a []string stored as a JSON text column.
type JSONStringArray []string

// Value serializes the array for storage. A nil array stores as "[]" so
// fetched rows never carry an absent array field.
func (a JSONStringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]string(a))
	if err != nil {
		return nil, fmt.Errorf("marshal string array: %w", err)
	}
	return string(data), nil
}

// Scan deserializes a JSON text column. NULL and empty text scan to nil;
// Parsed() upgrades nil to an empty slice for callers.
func (a *JSONStringArray) Scan(src interface{}) error {
	if src == nil {
		*a = nil
		return nil
	}

	var data []byte
	switch v := src.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("scan JSONStringArray: unsupported type %T", src)
	}

	if len(data) == 0 {
		*a = nil
		return nil
	}
	return json.Unmarshal(data, (*[]string)(a))
}

// ParsedObservation is the plain observation shape exchanged with callers.
// Array fields may be nil on input; storage normalizes them to empty.
type ParsedObservation struct {
	Type          ObservationType `json:"type"`
	Title         string          `json:"title"`
	Subtitle      string          `json:"subtitle"`
	Narrative     string          `json:"narrative"`
	Facts         []string        `json:"facts"`
	Concepts      []string        `json:"concepts"`
	FilesRead     []string        `json:"files_read"`
	FilesModified []string        `json:"files_modified"`
}

// Observation is one stored unit of work, immutable once written.
type Observation struct {
	ID              int64           `db:"id" json:"id"`
	SessionID       string          `db:"session_id" json:"session_id"`
	Project         string          `db:"project" json:"project"`
	Type            ObservationType `db:"type" json:"type"`
	Title           sql.NullString  `db:"title" json:"title,omitempty"`
	Subtitle        sql.NullString  `db:"subtitle" json:"subtitle,omitempty"`
	Narrative       sql.NullString  `db:"narrative" json:"narrative,omitempty"`
	Facts           JSONStringArray `db:"facts" json:"facts"`
	Concepts        JSONStringArray `db:"concepts" json:"concepts"`
	FilesRead       JSONStringArray `db:"files_read" json:"files_read"`
	FilesModified   JSONStringArray `db:"files_modified" json:"files_modified"`
	PromptNumber    sql.NullInt64   `db:"prompt_number" json:"prompt_number,omitempty"`
	DiscoveryTokens int64           `db:"discovery_tokens" json:"discovery_tokens"`
	CreatedAt       string          `db:"created_at" json:"created_at"`
	CreatedAtEpoch  int64           `db:"created_at_epoch" json:"created_at_epoch"`
}

// NewObservation builds a storable row from parsed fields, coercing the
// type onto the closed enum and stamping both timestamp forms.
func NewObservation(sessionID, project string, parsed *ParsedObservation, promptNumber int, discoveryTokens int64) *Observation {
	obsType, _ := NormalizeObservationType(string(parsed.Type))
	now := time.Now()

	return &Observation{
		SessionID:       sessionID,
		Project:         project,
		Type:            obsType,
		Title:           optional(parsed.Title),
		Subtitle:        optional(parsed.Subtitle),
		Narrative:       optional(parsed.Narrative),
		Facts:           JSONStringArray(parsed.Facts),
		Concepts:        JSONStringArray(parsed.Concepts),
		FilesRead:       JSONStringArray(parsed.FilesRead),
		FilesModified:   JSONStringArray(parsed.FilesModified),
		PromptNumber:    sql.NullInt64{Int64: int64(promptNumber), Valid: promptNumber > 0},
		DiscoveryTokens: discoveryTokens,
		CreatedAt:       now.Format(time.RFC3339),
		CreatedAtEpoch:  now.UnixMilli(),
	}
}

// Parsed converts the row back to the plain shape. Every array field in
// the result is non-nil, even when nothing was supplied at write time.
func (o *Observation) Parsed() *ParsedObservation {
	p := &ParsedObservation{
		Type:          o.Type,
		Title:         o.Title.String,
		Subtitle:      o.Subtitle.String,
		Narrative:     o.Narrative.String,
		Facts:         []string(o.Facts),
		Concepts:      []string(o.Concepts),
		FilesRead:     []string(o.FilesRead),
		FilesModified: []string(o.FilesModified),
	}
	if p.Facts == nil {
		p.Facts = []string{}
	}
	if p.Concepts == nil {
		p.Concepts = []string{}
	}
	if p.FilesRead == nil {
		p.FilesRead = []string{}
	}
	if p.FilesModified == nil {
		p.FilesModified = []string{}
	}
	return p
}

// ObservationJSON is the flattened JSON shape served by the worker API.
type ObservationJSON struct {
	ID              int64    `json:"id"`
	SessionID       string   `json:"session_id"`
	Project         string   `json:"project"`
	Type            string   `json:"type"`
	Title           string   `json:"title,omitempty"`
	Subtitle        string   `json:"subtitle,omitempty"`
	Narrative       string   `json:"narrative,omitempty"`
	Facts           []string `json:"facts"`
	Concepts        []string `json:"concepts"`
	FilesRead       []string `json:"files_read"`
	FilesModified   []string `json:"files_modified"`
	PromptNumber    int64    `json:"prompt_number,omitempty"`
	DiscoveryTokens int64    `json:"discovery_tokens"`
	CreatedAt       string   `json:"created_at"`
	CreatedAtEpoch  int64    `json:"created_at_epoch"`
}

// MarshalJSON flattens nullable columns so API consumers never see the
// sql.Null* wrapper shape.
func (o *Observation) MarshalJSON() ([]byte, error) {
	parsed := o.Parsed()
	return json.Marshal(ObservationJSON{
		ID:              o.ID,
		SessionID:       o.SessionID,
		Project:         o.Project,
		Type:            string(o.Type),
		Title:           parsed.Title,
		Subtitle:        parsed.Subtitle,
		Narrative:       parsed.Narrative,
		Facts:           parsed.Facts,
		Concepts:        parsed.Concepts,
		FilesRead:       parsed.FilesRead,
		FilesModified:   parsed.FilesModified,
		PromptNumber:    o.PromptNumber.Int64,
		DiscoveryTokens: o.DiscoveryTokens,
		CreatedAt:       o.CreatedAt,
		CreatedAtEpoch:  o.CreatedAtEpoch,
	})
}
