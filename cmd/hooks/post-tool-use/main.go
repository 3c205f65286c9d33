// Package main provides the post-tool-use hook entry point. It forwards
// every tool event to the worker, which decides whether the event is
// worth remembering.
package main

import (
	"fmt"
	"os"

	"github.com/cookiesen77-rgb/claude-memory/pkg/hooks"
)

// Input is the hook input from Claude Code.
type Input struct {
	hooks.BaseInput
	ToolName     string      `json:"tool_name"`
	ToolInput    interface{} `json:"tool_input"`
	ToolResponse interface{} `json:"tool_response"`
	ToolUseID    string      `json:"tool_use_id"`
}

func main() {
	hooks.RunHook("PostToolUse", handlePostToolUse)
}

func handlePostToolUse(ctx *hooks.HookContext, input *Input) (string, error) {
	fmt.Fprintf(os.Stderr, "[post-tool-use] %s\n", input.ToolName)

	_, err := hooks.POST(ctx.Port, "/api/sessions/observations", map[string]interface{}{
		"claudeSessionId": ctx.SessionID,
		"project":         ctx.Project,
		"toolName":        input.ToolName,
		"toolInput":       input.ToolInput,
		"toolResponse":    input.ToolResponse,
		"cwd":             ctx.CWD,
	})
	return "", err
}
