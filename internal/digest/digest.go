// Package digest renders the context document injected at the start of a
// session: recent observations grouped by calendar day, the last session's
// summary, and a token-economics footer.
//
// The rendered strings are a compatibility surface. The empty-state
// message, the day heading and time layouts, the ditto mark, the
// "(no file)" marker, the type indicators, and the ceil(chars/4) token
// arithmetic are all pinned by tests and must not drift.
package digest

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/cookiesen77-rgb/claude-memory/internal/db/sqlite"
	"github.com/cookiesen77-rgb/claude-memory/internal/tokens"
	"github.com/cookiesen77-rgb/claude-memory/pkg/models"
)

// Defaults for Options left at their zero values.
const (
	DefaultObservationLimit = 50
	DefaultSummaryLimit     = 10
)

// Rendering layout constants.
const (
	dayHeadingLayout = "Mon, Jan 2"
	timeLayout       = "3:04 PM"
	dittoMark        = "〃"
	noFileMarker     = "(no file)"
)

var typeIndicators = map[models.ObservationType]string{
	models.ObsTypeBugfix:    "🐛",
	models.ObsTypeFeature:   "✨",
	models.ObsTypeRefactor:  "♻️",
	models.ObsTypeChange:    "📝",
	models.ObsTypeDiscovery: "🔍",
	models.ObsTypeDecision:  "🎯",
}

const legendLine = "Legend: 🐛 bugfix · ✨ feature · ♻️ refactor · 📝 change · 🔍 discovery · 🎯 decision"

// Options selects what Build fetches and how paths are displayed.
type Options struct {
	Project          string
	CWD              string
	ObservationLimit int
	SummaryLimit     int
}

// Synthesizer turns stored rows into the injected context text. It only
// reads; writes stay with the stores.
type Synthesizer struct {
	observations *sqlite.ObservationStore
	summaries    *sqlite.SummaryStore
}

// NewSynthesizer returns a Synthesizer reading from the given stores.
func NewSynthesizer(observations *sqlite.ObservationStore, summaries *sqlite.SummaryStore) *Synthesizer {
	return &Synthesizer{observations: observations, summaries: summaries}
}

// Build renders the digest for a project. A project with no stored work
// yields the fixed empty-state sentence, not an error.
func (s *Synthesizer) Build(ctx context.Context, opts Options) (string, error) {
	obsLimit := opts.ObservationLimit
	if obsLimit <= 0 {
		obsLimit = DefaultObservationLimit
	}
	sumLimit := opts.SummaryLimit
	if sumLimit <= 0 {
		sumLimit = DefaultSummaryLimit
	}

	observations, err := s.observations.GetRecentObservations(ctx, opts.Project, obsLimit)
	if err != nil {
		return "", fmt.Errorf("fetch observations: %w", err)
	}
	summaries, err := s.summaries.GetRecentSummaries(ctx, opts.Project, sumLimit)
	if err != nil {
		return "", fmt.Errorf("fetch summaries: %w", err)
	}

	if len(observations) == 0 && len(summaries) == 0 {
		return fmt.Sprintf("No previous sessions found for project %s.", opts.Project), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Previous work in %s\n\n", opts.Project)

	for _, group := range groupByDay(observations) {
		fmt.Fprintf(&b, "## %s\n\n", group.heading)
		writeDayTable(&b, group.rows, opts.CWD)
		b.WriteString("\n")
	}

	if len(summaries) > 0 {
		writeLastSession(&b, summaries[0])
	}

	if saved, invested := economics(observations); saved > 0 {
		fmt.Fprintf(&b, "This context draws on %s of prior discovery work.\n\n", formatTokens(invested))
	}

	b.WriteString(legendLine + "\n")
	return b.String(), nil
}

// economics returns (saved, invested): invested is the summed discovery
// token cost of the fetched observations, saved subtracts the estimated
// cost of reading them. The display estimate is the ceiling of the summed
// character count over four, taken once across all rows.
func economics(observations []*models.Observation) (int64, int64) {
	chars := 0
	var invested int64
	for _, obs := range observations {
		chars += len(obs.Title.String) + len(obs.Subtitle.String) + len(obs.Narrative.String)
		for _, fact := range obs.Parsed().Facts {
			chars += len(fact)
		}
		invested += obs.DiscoveryTokens
	}
	return invested - int64(tokens.EstimateChars(chars)), invested
}

type dayGroup struct {
	heading string
	rows    []*models.Observation
}

// groupByDay buckets observations by local calendar day. The input is
// newest-first, which makes the bucket order most-recent-day-first; rows
// inside each bucket are then reversed into reading order, oldest first.
func groupByDay(observations []*models.Observation) []*dayGroup {
	var groups []*dayGroup
	index := make(map[string]*dayGroup)
	for _, obs := range observations {
		ts := time.UnixMilli(obs.CreatedAtEpoch).Local()
		key := ts.Format("2006-01-02")
		group, ok := index[key]
		if !ok {
			group = &dayGroup{heading: ts.Format(dayHeadingLayout)}
			index[key] = group
			groups = append(groups, group)
		}
		group.rows = append(group.rows, obs)
	}
	for _, group := range groups {
		slices.Reverse(group.rows)
	}
	return groups
}

func writeDayTable(b *strings.Builder, rows []*models.Observation, cwd string) {
	b.WriteString("| # | Time | Type | Title | File |\n")
	b.WriteString("|---|------|------|-------|------|\n")

	prevTime := ""
	for _, obs := range rows {
		rendered := time.UnixMilli(obs.CreatedAtEpoch).Local().Format(timeLayout)
		cell := rendered
		if rendered == prevTime {
			cell = dittoMark
		}
		prevTime = rendered

		fmt.Fprintf(b, "| %d | %s | %s | %s | %s |\n",
			obs.ID, cell, indicatorFor(obs.Type),
			tableCell(obs.Title.String), tableCell(fileFor(obs, cwd)))
	}
}

func indicatorFor(t models.ObservationType) string {
	if indicator, ok := typeIndicators[t]; ok {
		return indicator
	}
	return "•"
}

// fileFor picks the first modified file, shown relative to cwd when it
// lives inside it.
func fileFor(obs *models.Observation, cwd string) string {
	files := obs.Parsed().FilesModified
	if len(files) == 0 || files[0] == "" {
		return noFileMarker
	}
	path := files[0]
	if cwd != "" {
		if rel, err := filepath.Rel(cwd, path); err == nil && rel != "." && !strings.HasPrefix(rel, "..") {
			return rel
		}
	}
	return path
}

// tableCell keeps user text from breaking the markdown table.
func tableCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", "\\|")
}

func writeLastSession(b *strings.Builder, summary *models.SessionSummary) {
	lines := make([]string, 0, 3)
	if summary.Request.Valid {
		lines = append(lines, "**Request:** "+summary.Request.String)
	}
	if summary.Completed.Valid {
		lines = append(lines, "**Completed:** "+summary.Completed.String)
	}
	if summary.NextSteps.Valid {
		lines = append(lines, "**Next steps:** "+summary.NextSteps.String)
	}
	if len(lines) == 0 {
		return
	}

	b.WriteString("## Last session\n\n")
	for _, line := range lines {
		b.WriteString(line + "\n")
	}
	b.WriteString("\n")
}

// formatTokens renders a token count to the nearest thousand, or plainly
// under a thousand.
func formatTokens(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("~%d tokens", n)
	}
	return fmt.Sprintf("~%dk tokens", (n+500)/1000)
}
