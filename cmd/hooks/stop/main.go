// Package main provides the stop hook entry point. When a session ends
// it pulls the closing exchange from the transcript and asks the worker
// to finalize the session summary.
package main

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/cookiesen77-rgb/claude-memory/pkg/hooks"
)

// Input is the hook input from Claude Code.
type Input struct {
	hooks.BaseInput
	StopHookActive bool   `json:"stop_hook_active"`
	TranscriptPath string `json:"transcript_path"`
}

// transcriptLine is one JSONL record of the conversation transcript.
type transcriptLine struct {
	Type    string `json:"type"`
	Message struct {
		Role    string `json:"role"`
		Content any    `json:"content"` // string or content-block array
	} `json:"message"`
}

func main() {
	hooks.RunHook("Stop", handleStop)
}

func handleStop(ctx *hooks.HookContext, input *Input) (string, error) {
	lastUser, lastAssistant := "", ""
	if input.TranscriptPath != "" {
		lastUser, lastAssistant = parseTranscript(input.TranscriptPath)
	}

	fmt.Fprintf(os.Stderr, "[stop] Finalizing session %s (transcript: %v)\n",
		ctx.SessionID, input.TranscriptPath != "")

	endpoint := fmt.Sprintf("/api/sessions/%s/summarize", url.PathEscape(ctx.SessionID))
	_, err := hooks.POST(ctx.Port, endpoint, map[string]interface{}{
		"lastUserMessage":      lastUser,
		"lastAssistantMessage": lastAssistant,
	})
	if err != nil {
		// Sessions the worker never saw have nothing to finalize.
		fmt.Fprintf(os.Stderr, "[stop] Warning: summary request failed: %v\n", err)
	}
	return "", nil
}

// parseTranscript scans the transcript JSONL for the final user and
// assistant messages. Unreadable files and malformed lines yield empty
// strings; the summary falls back to whatever survives.
func parseTranscript(path string) (lastUser, lastAssistant string) {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			path = strings.Replace(path, "~", home, 1)
		}
	}

	file, err := os.Open(path) // #nosec G304 -- path names the session's own transcript
	if err != nil {
		return "", ""
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	// Assistant turns routinely exceed the default 64KB token limit.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		var line transcriptLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		if line.Type != "message" {
			continue
		}

		text := textContent(line.Message.Content)
		if text == "" {
			continue
		}
		switch line.Message.Role {
		case "user":
			lastUser = text
		case "assistant":
			lastAssistant = text
		}
	}

	return lastUser, lastAssistant
}

// textContent flattens a message body that may be a plain string or an
// array of typed content blocks.
func textContent(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []interface{}:
		var texts []string
		for _, item := range v {
			block, ok := item.(map[string]interface{})
			if !ok || block["type"] != "text" {
				continue
			}
			if text, ok := block["text"].(string); ok {
				texts = append(texts, text)
			}
		}
		return strings.Join(texts, "\n")
	}
	return ""
}
