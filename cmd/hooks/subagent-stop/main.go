// Package main provides the subagent-stop hook entry point. A finished
// subagent can leave observations sitting in the session's queue; this
// hook asks the worker to drain them.
package main

import (
	"fmt"
	"os"

	"github.com/cookiesen77-rgb/claude-memory/pkg/hooks"
)

// Input is the hook input from Claude Code.
type Input struct {
	hooks.BaseInput
	StopHookActive bool `json:"stop_hook_active"`
}

func main() {
	hooks.RunHook("SubagentStop", handleSubagentStop)
}

func handleSubagentStop(ctx *hooks.HookContext, input *Input) (string, error) {
	_, err := hooks.POST(ctx.Port, "/api/sessions/subagent-complete", map[string]interface{}{
		"claudeSessionId": ctx.SessionID,
		"project":         ctx.Project,
	})
	if err != nil {
		// Queued observations also flush on summarize; losing this nudge
		// costs latency, not data.
		fmt.Fprintf(os.Stderr, "[subagent-stop] Warning: failed to notify worker: %v\n", err)
	}
	return "", nil
}
