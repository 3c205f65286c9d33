// Package main provides the statusline hook. It renders a one-line
// memory status from the worker's stats endpoint, degrading to an
// offline marker when no worker answers.
package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/cookiesen77-rgb/claude-memory/pkg/hooks"
)

// StatusInput is the JSON Claude Code feeds the statusline command.
type StatusInput struct {
	HookEventName string `json:"hook_event_name"`
	SessionID     string `json:"session_id"`
	CWD           string `json:"cwd"`
	Model         struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
	} `json:"model"`
	Workspace struct {
		CurrentDir string `json:"current_dir"`
		ProjectDir string `json:"project_dir"`
	} `json:"workspace"`
	Version string `json:"version"`
}

// workerStats mirrors the worker's /api/stats response.
type workerStats struct {
	Version        string         `json:"version"`
	UptimeSeconds  int64          `json:"uptime_seconds"`
	ActiveSessions int            `json:"active_sessions"`
	QueueDepth     int            `json:"queue_depth"`
	Processing     bool           `json:"processing"`
	SessionsToday  int            `json:"sessions_today"`
	Retrieval      retrievalStats `json:"retrieval"`
	Projects       map[string]int `json:"projects"`
}

type retrievalStats struct {
	TotalRequests      int64 `json:"total_requests"`
	SearchRequests     int64 `json:"search_requests"`
	ContextRequests    int64 `json:"context_requests"`
	ObservationsServed int64 `json:"observations_served"`
	ObservationsStored int64 `json:"observations_stored"`
}

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

func main() {
	hooks.RunStatuslineHook(render)
}

// render produces the status line for one prompt.
func render(input *StatusInput, port int) string {
	useColors := colorsEnabled()

	if input == nil || port == 0 {
		return formatOffline(useColors)
	}

	project := ""
	if dir := projectDir(input); dir != "" {
		project = hooks.ProjectIDWithName(dir)
	}

	stats, starting := fetchStats(port)
	if starting {
		return formatStarting(useColors)
	}
	if stats == nil {
		return formatOffline(useColors)
	}

	switch os.Getenv("CLAUDE_MEMORY_STATUSLINE_FORMAT") {
	case "compact":
		return formatCompact(stats, project, useColors)
	case "minimal":
		return formatMinimal(stats, project, useColors)
	default:
		return formatDefault(stats, project, useColors)
	}
}

func projectDir(input *StatusInput) string {
	if input.Workspace.ProjectDir != "" {
		return input.Workspace.ProjectDir
	}
	if input.Workspace.CurrentDir != "" {
		return input.Workspace.CurrentDir
	}
	return input.CWD
}

// fetchStats returns (stats, false) from a ready worker, (nil, true)
// from one still starting, and (nil, false) when nothing answers.
func fetchStats(port int) (*workerStats, bool) {
	client := &http.Client{Timeout: 150 * time.Millisecond}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/api/stats", port))
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return nil, true
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false
	}

	var stats workerStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, false
	}
	return &stats, false
}

// colorsEnabled honors NO_COLOR and dumb terminals, with an explicit
// CLAUDE_MEMORY_STATUSLINE_COLORS override in either direction.
func colorsEnabled() bool {
	switch os.Getenv("CLAUDE_MEMORY_STATUSLINE_COLORS") {
	case "true":
		return true
	case "false":
		return false
	}
	return os.Getenv("NO_COLOR") == "" && os.Getenv("TERM") != "dumb"
}

func paint(s, color string, useColors bool) string {
	if !useColors {
		return s
	}
	return color + s + colorReset
}

// formatDefault renders the full status line:
// [memory] ● served:42 | injected:5 | searches:3 | project:28 memories
func formatDefault(stats *workerStats, project string, useColors bool) string {
	parts := []string{fmt.Sprintf("served:%d", stats.Retrieval.ObservationsServed)}

	if stats.Retrieval.ContextRequests > 0 {
		parts = append(parts, fmt.Sprintf("injected:%d", stats.Retrieval.ContextRequests))
	}
	if stats.Retrieval.SearchRequests > 0 {
		parts = append(parts, fmt.Sprintf("searches:%d", stats.Retrieval.SearchRequests))
	}
	if n := stats.Projects[project]; n > 0 {
		parts = append(parts, paint(fmt.Sprintf("project:%d memories", n), colorYellow, useColors))
	}
	if stats.Processing || stats.QueueDepth > 0 {
		parts = append(parts, paint("processing...", colorYellow, useColors))
	}

	return paint("[memory]", colorCyan, useColors) + " " +
		paint("●", colorGreen, useColors) + " " + strings.Join(parts, " | ")
}

// formatCompact renders: [m] ● 42/5/3 (28)
func formatCompact(stats *workerStats, project string, useColors bool) string {
	result := fmt.Sprintf("%s %s %d/%d/%d",
		paint("[m]", colorCyan, useColors),
		paint("●", colorGreen, useColors),
		stats.Retrieval.ObservationsServed,
		stats.Retrieval.ContextRequests,
		stats.Retrieval.SearchRequests,
	)

	if n := stats.Projects[project]; n > 0 {
		result += fmt.Sprintf(" (%d)", n)
	}
	if stats.Processing || stats.QueueDepth > 0 {
		result += " " + paint("⚙", colorYellow, useColors)
	}
	return result
}

// formatMinimal renders: ● 42/28
func formatMinimal(stats *workerStats, project string, useColors bool) string {
	result := fmt.Sprintf("%s %d", paint("●", colorGreen, useColors),
		stats.Retrieval.ObservationsServed)

	if n := stats.Projects[project]; n > 0 {
		result += fmt.Sprintf("/%d", n)
	}
	return result
}

func formatOffline(useColors bool) string {
	return paint("[memory]", colorCyan, useColors) + " " + paint("○", colorGray, useColors)
}

func formatStarting(useColors bool) string {
	return paint("[memory]", colorCyan, useColors) + " " +
		paint("◐", colorYellow, useColors) + " starting"
}
