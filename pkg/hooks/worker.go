package hooks

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
)

// DefaultWorkerPort is the loopback port the worker daemon listens on.
// Hooks and worker agree through the CLAUDE_MEMORY_WORKER_PORT variable;
// the settings file is the worker's concern, not the hooks'.
const DefaultWorkerPort = 37777

// Version is stamped at build time via ldflags. A running worker whose
// version differs gets restarted so hooks and worker never drift apart.
var Version = "dev"

const (
	envWorkerPort = "CLAUDE_MEMORY_WORKER_PORT"

	workerBinaryName = "claude-memory-worker"
	startupTimeout   = 10 * time.Second
	startupPollEvery = 100 * time.Millisecond
)

var httpClient = &http.Client{Timeout: 10 * time.Second}

// GetWorkerPort returns the worker port from the environment, or the
// default. It never consults the settings file.
func GetWorkerPort() int {
	if v := os.Getenv(envWorkerPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			return port
		}
	}
	return DefaultWorkerPort
}

// IsPortInUse reports whether anything accepts connections on the port.
func IsPortInUse(port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 250*time.Millisecond)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// IsWorkerRunning reports whether a worker answers health checks on the
// port.
func IsWorkerRunning(port int) bool {
	client := &http.Client{Timeout: 500 * time.Millisecond}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/api/health", port))
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// GetWorkerVersion returns the running worker's version, or "" when the
// worker is unreachable or answers garbage.
func GetWorkerVersion(port int) string {
	client := &http.Client{Timeout: 500 * time.Millisecond}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/api/version", port))
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ""
	}
	var body struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ""
	}
	return body.Version
}

// EnsureWorkerRunning returns the port of a healthy worker, spawning one
// when none is running. A worker answering with a different version is
// killed and replaced, since hook and worker binaries install together.
func EnsureWorkerRunning() (int, error) {
	port := GetWorkerPort()

	if IsWorkerRunning(port) {
		running := GetWorkerVersion(port)
		if running == "" || Version == "dev" || running == Version {
			return port, nil
		}
		fmt.Fprintf(os.Stderr, "[claude-memory] worker version %s != %s, restarting\n", running, Version)
		if err := KillProcessOnPort(port); err != nil {
			return 0, fmt.Errorf("stop stale worker: %w", err)
		}
	} else if IsPortInUse(port) {
		// Occupied but not answering health checks: a wedged worker or a
		// stranger. Either way the port must be reclaimed.
		if err := KillProcessOnPort(port); err != nil {
			return 0, fmt.Errorf("reclaim port %d: %w", port, err)
		}
	}

	if err := spawnWorker(port); err != nil {
		return 0, err
	}
	if err := waitForWorker(port, startupTimeout); err != nil {
		return 0, err
	}
	return port, nil
}

// KillProcessOnPort terminates whatever listens on the port. A port with
// no listener is not an error.
func KillProcessOnPort(port int) error {
	out, err := exec.Command("lsof", "-ti", fmt.Sprintf(":%d", port)).Output()
	if err != nil {
		// lsof exits nonzero when nothing matches.
		return nil
	}

	for _, field := range strings.Fields(string(out)) {
		pid, err := strconv.Atoi(field)
		if err != nil || pid <= 0 {
			continue
		}
		proc, err := os.FindProcess(pid)
		if err != nil {
			continue
		}
		_ = proc.Signal(syscall.SIGTERM)
	}

	// Give listeners a moment to release the socket.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !IsPortInUse(port) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return nil
}

// spawnWorker starts the worker binary detached from the hook process,
// logging to ~/.claude-memory/worker.log.
func spawnWorker(port int) error {
	bin := findWorkerBinary()
	if bin == "" {
		return fmt.Errorf("%s binary not found", workerBinaryName)
	}

	logDir := dataDir()
	_ = os.MkdirAll(logDir, 0o755)
	logFile, err := os.OpenFile(filepath.Join(logDir, "worker.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		logFile = nil
	}

	cmd := exec.Command(bin) // #nosec G204 -- binary resolved from fixed install locations
	cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%d", envWorkerPort, port))
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			_ = logFile.Close()
		}
		return fmt.Errorf("start worker: %w", err)
	}
	// The worker outlives the hook; releasing drops our handle on it.
	_ = cmd.Process.Release()
	if logFile != nil {
		_ = logFile.Close()
	}
	return nil
}

// waitForWorker polls until the worker answers health checks.
func waitForWorker(port int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if IsWorkerRunning(port) {
			return nil
		}
		time.Sleep(startupPollEvery)
	}
	return fmt.Errorf("worker did not become healthy on port %d within %s", port, timeout)
}

// findWorkerBinary locates the worker executable: next to the running
// hook binary first, then the data dir's bin, then PATH.
func findWorkerBinary() string {
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), workerBinaryName)
		if isExecutable(candidate) {
			return candidate
		}
	}

	candidate := filepath.Join(dataDir(), "bin", workerBinaryName)
	if isExecutable(candidate) {
		return candidate
	}

	if path, err := exec.LookPath(workerBinaryName); err == nil {
		return path
	}
	return ""
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Mode()&0o111 != 0
}

func dataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".claude-memory")
}

// GET performs a GET against the worker API and decodes the JSON object
// response.
func GET(port int, path string) (map[string]interface{}, error) {
	resp, err := httpClient.Get(fmt.Sprintf("http://127.0.0.1:%d%s", port, path))
	if err != nil {
		return nil, err
	}
	return decodeResponse(resp)
}

// POST sends a JSON payload to the worker API and decodes the JSON
// object response.
func POST(port int, path string, payload interface{}) (map[string]interface{}, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	resp, err := httpClient.Post(
		fmt.Sprintf("http://127.0.0.1:%d%s", port, path),
		"application/json",
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, err
	}
	return decodeResponse(resp)
}

func decodeResponse(resp *http.Response) (map[string]interface{}, error) {
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("worker returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var result map[string]interface{}
	if len(data) == 0 {
		return result, nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode worker response: %w", err)
	}
	return result, nil
}
