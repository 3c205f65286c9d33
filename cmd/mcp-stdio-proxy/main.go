// Package main bridges an MCP client speaking stdio to a server
// exposing the SSE transport. Lines read from stdin are POSTed to the
// session's message endpoint; message events from the stream are
// written to stdout.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/cookiesen77-rgb/claude-memory/pkg/hooks"
)

func main() {
	baseURL := flag.String("url", "", "Base URL of the SSE server (default: the local worker)")
	token := flag.String("token", "", "Bearer token (optional)")
	flag.Parse()

	base := strings.TrimSpace(*baseURL)
	if base == "" {
		base = fmt.Sprintf("http://127.0.0.1:%d", hooks.GetWorkerPort())
	}

	if err := run(base, strings.TrimSpace(*token)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run attaches to the SSE stream and pumps it until the server closes
// it or stdin ends.
func run(base, token string) error {
	req, err := http.NewRequest(http.MethodGet, strings.TrimRight(base, "/")+"/sse", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected SSE response status: %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	event, data := "", ""
	endpointSeen := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// A blank line terminates one SSE event.
		if line == "" {
			switch event {
			case "endpoint":
				if !endpointSeen && data != "" {
					endpointSeen = true
					go pumpStdin(messageEndpoint(base, data), token)
				}
			case "message":
				if data != "" {
					fmt.Fprintln(os.Stdout, data)
				}
			}
			event, data = "", ""
			continue
		}

		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			chunk := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" {
				data = chunk
			} else if chunk != "" {
				data += "\n" + chunk
			}
		}
	}
	return scanner.Err()
}

// pumpStdin forwards each stdin line as one message POST. Responses
// arrive on the SSE stream, so the POST bodies are drained and dropped.
func pumpStdin(endpoint, token string) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		req, err := http.NewRequest(http.MethodPost, endpoint, strings.NewReader(scanner.Text()))
		if err != nil {
			os.Exit(0)
		}
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			os.Exit(0)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}

	// Stdin closed: the client is gone.
	os.Exit(0)
}

// messageEndpoint resolves the endpoint the server announced against
// the base URL. A base mounted under a path prefix is itself the
// message endpoint behind a proxy, so the announced /message prefix
// collapses into it and only the session query survives.
func messageEndpoint(base, announced string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	announced = strings.TrimSpace(announced)

	if basePathPrefixed(base) && strings.HasPrefix(announced, "/message") {
		announced = strings.TrimPrefix(announced, "/message")
	}

	switch {
	case announced == "":
		return base
	case announced[0] == '?':
		return base + announced
	case announced[0] != '/':
		return base + "/" + announced
	default:
		return base + announced
	}
}

func basePathPrefixed(base string) bool {
	u, err := url.Parse(base)
	return err == nil && u.Path != "" && u.Path != "/"
}
