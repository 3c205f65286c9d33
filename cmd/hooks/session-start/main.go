// Package main provides the session-start hook entry point. It fetches
// the project's context digest from the worker and injects it into the
// new session.
package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/cookiesen77-rgb/claude-memory/pkg/hooks"
)

// Input is the hook input from Claude Code.
type Input struct {
	hooks.BaseInput
	Source string `json:"source"` // "startup", "resume", "clear", "compact"
}

func main() {
	hooks.RunHook("SessionStart", handleSessionStart)
}

func handleSessionStart(ctx *hooks.HookContext, input *Input) (string, error) {
	endpoint := fmt.Sprintf("/api/context/inject?project=%s&cwd=%s",
		url.QueryEscape(ctx.Project), url.QueryEscape(ctx.CWD))

	result, err := hooks.GET(ctx.Port, endpoint)
	if err != nil {
		// A session without memory beats a session that fails to start.
		fmt.Fprintf(os.Stderr, "[session-start] Warning: context fetch failed: %v\n", err)
		return "", nil
	}

	digest, _ := result["context"].(string)
	if digest == "" {
		return "", nil
	}

	fmt.Fprintf(os.Stderr, "[claude-memory] Injecting project memory (~%d tokens)\n",
		(len(digest)+3)/4)

	return "<claude-memory-context>\n" + digest + "\n</claude-memory-context>\n", nil
}
