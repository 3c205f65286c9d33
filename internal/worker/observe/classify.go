// Package observe turns raw tool events into observation records. The
// transform is deterministic: no model in the loop, just the closed set of
// input shapes a tool call can take.
package observe

import (
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/cookiesen77-rgb/claude-memory/internal/privacy"
	"github.com/cookiesen77-rgb/claude-memory/pkg/models"
)

// Limits on the derived fields.
const (
	titleCommandChars = 40
	requestLineChars  = 100
	completedChars    = 200
	narrativeChars    = 500
)

// filteredTools are pure reads and listings. Recording them would bloat
// the store without adding anything a later session could act on.
var filteredTools = map[string]bool{
	"Read":         true,
	"Glob":         true,
	"Grep":         true,
	"LS":           true,
	"NotebookRead": true,
	"TodoRead":     true,
	"TodoWrite":    true,
	"WebFetch":     true,
	"WebSearch":    true,
	"ExitPlanMode": true,
}

// shapeKind is the closed set of tool-input shapes the classifier
// recognizes. An explicit variant per shape replaces ad hoc field probing.
type shapeKind int

const (
	shapeGeneric shapeKind = iota
	shapeFileEdit
	shapeCommand
)

type inputShape struct {
	kind        shapeKind
	filePath    string
	command     string
	description string
}

func shapeOf(input map[string]interface{}) inputShape {
	if path, ok := stringField(input, "file_path"); ok {
		return inputShape{kind: shapeFileEdit, filePath: path}
	}
	if command, ok := stringField(input, "command"); ok {
		description, _ := stringField(input, "description")
		return inputShape{kind: shapeCommand, command: command, description: description}
	}
	return inputShape{kind: shapeGeneric}
}

func stringField(input map[string]interface{}, key string) (string, bool) {
	v, ok := input[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// ClassifyTool maps one tool event onto an observation. The second result
// is false for filtered tools, which produce no record at all.
//
// File edits (any input carrying file_path) title as "Modified <basename>"
// and record the path; command executions title as "Executed: <command>"
// clipped to 40 chars; everything else titles as "Used <tool>". Every
// classified observation is type change — richer typing is a caller-side
// judgment this transform does not make.
func ClassifyTool(toolName string, toolInput []byte, toolOutput, cwd string) (*models.ParsedObservation, bool) {
	if filteredTools[toolName] {
		return nil, false
	}

	var input map[string]interface{}
	if len(toolInput) > 0 {
		// Non-JSON input classifies as generic rather than erroring
		_ = json.Unmarshal(toolInput, &input)
	}

	parsed := &models.ParsedObservation{Type: models.ObsTypeChange}

	switch shape := shapeOf(input); shape.kind {
	case shapeFileEdit:
		parsed.Title = "Modified " + filepath.Base(shape.filePath)
		parsed.Subtitle = relativeTo(shape.filePath, cwd)
		parsed.FilesModified = []string{shape.filePath}
	case shapeCommand:
		parsed.Title = "Executed: " + clip(strings.TrimSpace(shape.command), titleCommandChars)
		parsed.Subtitle = shape.description
	default:
		parsed.Title = "Used " + toolName
	}

	parsed.Narrative = clip(privacy.Clean(toolOutput), narrativeChars)
	return parsed, true
}

// FallbackSummary builds the deterministic summary stored when a session
// finishes: the request is the first line of the user's message (the
// assistant's when no user message exists), what completed is the head of
// the assistant's reply. Everything else stays null.
func FallbackSummary(lastUserMessage, lastAssistantMessage string) *models.ParsedSummary {
	user := privacy.Clean(lastUserMessage)
	assistant := privacy.Clean(lastAssistantMessage)

	source := user
	if source == "" {
		source = assistant
	}

	return &models.ParsedSummary{
		Request:   clip(firstLine(source), requestLineChars),
		Completed: clip(assistant, completedChars),
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

// relativeTo shows a path relative to cwd when it lives inside it.
func relativeTo(path, cwd string) string {
	if cwd == "" {
		return path
	}
	if rel, err := filepath.Rel(cwd, path); err == nil && rel != "." && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}

// clip cuts on rune boundaries so truncated titles stay valid UTF-8.
func clip(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
