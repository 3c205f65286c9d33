// Package search merges hits from the observation, summary, and prompt
// stores into one ranked result set for claude-memory.
package search

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/cookiesen77-rgb/claude-memory/internal/db/sqlite"
	"github.com/cookiesen77-rgb/claude-memory/pkg/models"
)

// Result limits for the unified endpoint.
const (
	DefaultLimit = 20
	MaxLimit     = 100

	snippetChars = 100
)

// Document types carried on results.
const (
	DocTypeObservation = "observation"
	DocTypeSession     = "session"
	DocTypePrompt      = "prompt"
)

// Manager runs one query against all three stores and fuses the hits.
// A nil query browses recent records instead of searching.
type Manager struct {
	observations *sqlite.ObservationStore
	summaries    *sqlite.SummaryStore
	prompts      *sqlite.PromptStore
}

// NewManager creates a search manager over the injected stores.
func NewManager(observations *sqlite.ObservationStore, summaries *sqlite.SummaryStore, prompts *sqlite.PromptStore) *Manager {
	return &Manager{
		observations: observations,
		summaries:    summaries,
		prompts:      prompts,
	}
}

// SearchParams contains parameters for unified search.
type SearchParams struct {
	Query   string
	Project string
	Type    string // "observations", "sessions", "prompts"; empty means all
	Format  string // "full" includes body content in results
	Limit   int
}

// SearchResult is one unified search hit.
type SearchResult struct {
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Type      string                 `json:"type"`
	Title     string                 `json:"title,omitempty"`
	Content   string                 `json:"content,omitempty"`
	Project   string                 `json:"project"`
	ID        int64                  `json:"id"`
	CreatedAt int64                  `json:"created_at_epoch"`
	Score     float64                `json:"score,omitempty"`
}

// UnifiedSearchResult contains the combined search results.
type UnifiedSearchResult struct {
	Query      string         `json:"query,omitempty"`
	Results    []SearchResult `json:"results"`
	TotalCount int            `json:"total_count"`
}

// UnifiedSearch queries every requested source and fuses the ranked
// lists. A failing source is logged and skipped rather than failing the
// whole search, so the result may be partial but is never an error.
func (m *Manager) UnifiedSearch(ctx context.Context, params SearchParams) (*UnifiedSearchResult, error) {
	if params.Limit <= 0 {
		params.Limit = DefaultLimit
	}
	if params.Limit > MaxLimit {
		params.Limit = MaxLimit
	}

	if strings.TrimSpace(params.Query) == "" {
		return m.recentBrowse(ctx, params)
	}
	return m.fusedSearch(ctx, params)
}

type resultKey struct {
	docType string
	id      int64
}

// fusedSearch runs the query against each store's full-text index and
// merges the per-source rankings with reciprocal rank fusion.
func (m *Manager) fusedSearch(ctx context.Context, params SearchParams) (*UnifiedSearchResult, error) {
	// Overfetch per source so fusion has enough candidates to rank.
	fetch := params.Limit * 2

	records := make(map[resultKey]SearchResult)
	var lists [][]ScoredID

	if wantSource(params.Type, "observations") {
		obs, err := m.observations.SearchObservations(ctx, params.Query, params.Project, fetch)
		if err != nil {
			log.Warn().Err(err).Str("query", params.Query).Msg("observation search failed")
		} else {
			list := make([]ScoredID, 0, len(obs))
			for _, o := range obs {
				k := resultKey{DocTypeObservation, o.ID}
				records[k] = observationResult(o, params.Format)
				list = append(list, ScoredID{DocType: DocTypeObservation, ID: o.ID})
			}
			lists = append(lists, list)
		}
	}

	if wantSource(params.Type, "sessions") {
		summaries, err := m.summaries.SearchSummaries(ctx, params.Query, params.Project, fetch)
		if err != nil {
			log.Warn().Err(err).Str("query", params.Query).Msg("summary search failed")
		} else {
			list := make([]ScoredID, 0, len(summaries))
			for _, sum := range summaries {
				k := resultKey{DocTypeSession, sum.ID}
				records[k] = summaryResult(sum, params.Format)
				list = append(list, ScoredID{DocType: DocTypeSession, ID: sum.ID})
			}
			lists = append(lists, list)
		}
	}

	if wantSource(params.Type, "prompts") {
		prompts, err := m.prompts.SearchPrompts(ctx, params.Query, params.Project, fetch)
		if err != nil {
			log.Warn().Err(err).Str("query", params.Query).Msg("prompt search failed")
		} else {
			list := make([]ScoredID, 0, len(prompts))
			for _, p := range prompts {
				k := resultKey{DocTypePrompt, p.ID}
				records[k] = promptResult(p, params.Format)
				list = append(list, ScoredID{DocType: DocTypePrompt, ID: p.ID})
			}
			lists = append(lists, list)
		}
	}

	fused := RRF(lists...)
	results := make([]SearchResult, 0, params.Limit)
	for _, hit := range fused {
		if len(results) == params.Limit {
			break
		}
		r, ok := records[resultKey{hit.DocType, hit.ID}]
		if !ok {
			continue
		}
		r.Score = hit.Score
		results = append(results, r)
	}

	return &UnifiedSearchResult{
		Query:      params.Query,
		Results:    results,
		TotalCount: len(results),
	}, nil
}

// recentBrowse serves the no-query case: most recent records, newest
// first. Prompts only surface when asked for explicitly; a typeless
// browse stays observations and sessions.
func (m *Manager) recentBrowse(ctx context.Context, params SearchParams) (*UnifiedSearchResult, error) {
	var results []SearchResult

	if wantSource(params.Type, "observations") {
		obs, err := m.recentObservations(ctx, params)
		if err != nil {
			log.Warn().Err(err).Msg("recent observations failed")
		}
		for _, o := range obs {
			results = append(results, observationResult(o, params.Format))
		}
	}

	if wantSource(params.Type, "sessions") {
		summaries, err := m.recentSummaries(ctx, params)
		if err != nil {
			log.Warn().Err(err).Msg("recent summaries failed")
		}
		for _, sum := range summaries {
			results = append(results, summaryResult(sum, params.Format))
		}
	}

	if params.Type == "prompts" {
		prompts, err := m.recentPrompts(ctx, params)
		if err != nil {
			log.Warn().Err(err).Msg("recent prompts failed")
		}
		for _, p := range prompts {
			results = append(results, promptResult(p, params.Format))
		}
	}

	if len(results) > params.Limit {
		results = results[:params.Limit]
	}

	return &UnifiedSearchResult{
		Results:    results,
		TotalCount: len(results),
	}, nil
}

func (m *Manager) recentObservations(ctx context.Context, params SearchParams) ([]*models.Observation, error) {
	if params.Project != "" {
		return m.observations.GetRecentObservations(ctx, params.Project, params.Limit)
	}
	return m.observations.GetAllRecentObservations(ctx, params.Limit)
}

func (m *Manager) recentSummaries(ctx context.Context, params SearchParams) ([]*models.SessionSummary, error) {
	if params.Project != "" {
		return m.summaries.GetRecentSummaries(ctx, params.Project, params.Limit)
	}
	return m.summaries.GetAllRecentSummaries(ctx, params.Limit)
}

func (m *Manager) recentPrompts(ctx context.Context, params SearchParams) ([]*models.UserPromptWithSession, error) {
	if params.Project != "" {
		return m.prompts.GetRecentPromptsByProject(ctx, params.Project, params.Limit)
	}
	return m.prompts.GetAllRecentUserPrompts(ctx, params.Limit)
}

func wantSource(typeFilter, source string) bool {
	return typeFilter == "" || typeFilter == source
}

func observationResult(obs *models.Observation, format string) SearchResult {
	result := SearchResult{
		Type:      DocTypeObservation,
		ID:        obs.ID,
		Project:   obs.Project,
		CreatedAt: obs.CreatedAtEpoch,
		Metadata: map[string]interface{}{
			"obs_type": string(obs.Type),
		},
	}

	if obs.Title.Valid {
		result.Title = truncate(obs.Title.String, snippetChars)
	}
	if format == "full" && obs.Narrative.Valid {
		result.Content = obs.Narrative.String
	}
	return result
}

func summaryResult(summary *models.SessionSummary, format string) SearchResult {
	result := SearchResult{
		Type:      DocTypeSession,
		ID:        summary.ID,
		Project:   summary.Project,
		CreatedAt: summary.CreatedAtEpoch,
	}

	if summary.Request.Valid {
		result.Title = truncate(summary.Request.String, snippetChars)
	}
	if format == "full" {
		switch {
		case summary.Learned.Valid:
			result.Content = summary.Learned.String
		case summary.Completed.Valid:
			result.Content = summary.Completed.String
		}
	}
	return result
}

func promptResult(prompt *models.UserPromptWithSession, format string) SearchResult {
	result := SearchResult{
		Type:      DocTypePrompt,
		ID:        prompt.ID,
		Project:   prompt.Project,
		CreatedAt: prompt.CreatedAtEpoch,
		Title:     truncate(prompt.PromptText, snippetChars),
	}

	if format == "full" {
		result.Content = prompt.PromptText
	}
	return result
}

// truncate trims and clips a snippet on rune boundaries.
func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
