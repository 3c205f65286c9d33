// Package hooks carries the plumbing shared by the hook binaries: stdin
// decoding, worker discovery and startup, project identity, and the
// response protocol expected on stdout.
package hooks

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
)

// InternalCallEnv marks requests originating from the worker itself.
// Hooks exit early when it is set, so internal activity never loops back
// into the observation pipeline.
const InternalCallEnv = "CLAUDE_MEMORY_INTERNAL"

// Hook process exit codes.
const (
	ExitSuccess         = 0
	ExitFailure         = 1
	ExitUserMessageOnly = 3 // stderr is shown to the user
)

// HookResponse is the minimal JSON object a hook prints on stdout.
type HookResponse struct {
	Continue bool `json:"continue"`
}

// BaseInput holds the fields every hook event carries.
type BaseInput struct {
	SessionID      string `json:"session_id"`
	CWD            string `json:"cwd"`
	PermissionMode string `json:"permission_mode"`
	HookEventName  string `json:"hook_event_name"`
}

// HookContext is what RunHook hands to a hook's handler.
type HookContext struct {
	HookName  string
	Port      int
	Project   string
	SessionID string
	CWD       string
	RawInput  []byte
}

// ProjectIDWithName derives the project identity from a working
// directory: the directory's base name plus the first six hex chars of
// the SHA-256 of its absolute path. The name keeps it readable, the hash
// keeps same-named directories apart.
func ProjectIDWithName(cwd string) string {
	absPath, err := filepath.Abs(cwd)
	if err != nil {
		absPath = cwd
	}

	hash := sha256.Sum256([]byte(absPath))
	return fmt.Sprintf("%s_%s", filepath.Base(absPath), hex.EncodeToString(hash[:3]))
}

// WriteResponse prints the continue/stop response on stdout.
func WriteResponse(hookName string, success bool) {
	data, _ := json.Marshal(HookResponse{Continue: success})
	fmt.Println(string(data))
}

// WriteError reports an error on stderr and prints a failing response.
func WriteError(hookName string, err error) {
	fmt.Fprintf(os.Stderr, "[%s] Error: %v\n", hookName, err)
	WriteResponse(hookName, false)
}

// HookHandler handles one hook event. A non-empty return value is
// emitted as additionalContext for the session.
type HookHandler[T any] func(ctx *HookContext, input *T) (additionalContext string, err error)

// RunHook is the shared entry point for hook binaries. It skips internal
// calls, decodes stdin into T, makes sure a worker is up, resolves the
// project identity, and emits whichever response the handler's result
// calls for.
func RunHook[T any](hookName string, handler HookHandler[T]) {
	if os.Getenv(InternalCallEnv) == "1" {
		WriteResponse(hookName, true)
		return
	}

	inputData, err := io.ReadAll(os.Stdin)
	if err != nil {
		WriteError(hookName, err)
		os.Exit(ExitFailure)
	}

	var input T
	if err := json.Unmarshal(inputData, &input); err != nil {
		WriteError(hookName, err)
		os.Exit(ExitFailure)
	}

	port, err := EnsureWorkerRunning()
	if err != nil {
		WriteError(hookName, err)
		os.Exit(ExitFailure)
	}

	// T varies per hook; the shared fields come from a second decode.
	var base BaseInput
	_ = json.Unmarshal(inputData, &base)

	ctx := &HookContext{
		HookName:  hookName,
		Port:      port,
		Project:   ProjectIDWithName(base.CWD),
		SessionID: base.SessionID,
		CWD:       base.CWD,
		RawInput:  inputData,
	}

	additionalContext, err := handler(ctx, &input)
	if err != nil {
		WriteError(hookName, err)
		os.Exit(ExitFailure)
	}

	if additionalContext != "" {
		response := map[string]interface{}{
			"continue": true,
			"hookSpecificOutput": map[string]interface{}{
				"hookEventName":     hookName,
				"additionalContext": additionalContext,
			},
		}
		_ = json.NewEncoder(os.Stdout).Encode(response)
		os.Exit(ExitSuccess)
	}

	WriteResponse(hookName, true)
}

// StatuslineHandler renders a status line from the event input and the
// worker port. It gets nil input when stdin was unreadable.
type StatuslineHandler[T any] func(input *T, port int) string

// RunStatuslineHook runs a statusline handler with none of RunHook's
// side effects: no internal-call skip, no worker startup, plain text on
// stdout. Statuslines render on every prompt and must stay fast.
func RunStatuslineHook[T any](handler StatuslineHandler[T]) {
	inputData, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Println(handler(nil, 0))
		return
	}

	var input T
	if err := json.Unmarshal(inputData, &input); err != nil {
		fmt.Println(handler(nil, 0))
		return
	}

	fmt.Println(handler(&input, GetWorkerPort()))
}
