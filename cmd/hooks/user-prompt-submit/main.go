// Package main provides the user-prompt-submit hook entry point. It
// registers the session with the worker and records the prompt text
// before the turn starts.
package main

import (
	"fmt"
	"os"

	"github.com/cookiesen77-rgb/claude-memory/pkg/hooks"
)

// Input is the hook input from Claude Code.
type Input struct {
	hooks.BaseInput
	Prompt string `json:"prompt"`
}

func main() {
	hooks.RunHook("UserPromptSubmit", handleUserPromptSubmit)
}

func handleUserPromptSubmit(ctx *hooks.HookContext, input *Input) (string, error) {
	result, err := hooks.POST(ctx.Port, "/api/sessions/init", map[string]interface{}{
		"claudeSessionId": ctx.SessionID,
		"project":         ctx.Project,
		"prompt":          input.Prompt,
		"cwd":             ctx.CWD,
	})
	if err != nil {
		return "", err
	}

	if n, ok := result["promptNumber"].(float64); ok {
		fmt.Fprintf(os.Stderr, "[user-prompt-submit] prompt %d in %s\n", int(n), ctx.Project)
	}
	return "", nil
}
