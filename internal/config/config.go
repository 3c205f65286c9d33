// Package config provides configuration management for claude-memory.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultWorkerPort is the loopback port the worker daemon listens on
// unless the settings file or environment says otherwise.
const DefaultWorkerPort = 37777

// Settings keys. The same names double as environment variables, and the
// environment wins over the settings file.
const (
	KeyWorkerPort          = "CLAUDE_MEMORY_WORKER_PORT"
	KeyLogLevel            = "CLAUDE_MEMORY_LOG_LEVEL"
	KeyMaxConns            = "CLAUDE_MEMORY_MAX_CONNS"
	KeyContextObservations = "CLAUDE_MEMORY_CONTEXT_OBSERVATIONS"
	KeyContextSummaries    = "CLAUDE_MEMORY_CONTEXT_SUMMARIES"
)

// Config holds the runtime knobs read from ~/.claude-memory/settings.json.
type Config struct {
	WorkerPort          int
	LogLevel            string
	MaxConns            int
	ContextObservations int
	ContextSummaries    int
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		WorkerPort:          DefaultWorkerPort,
		LogLevel:            "info",
		MaxConns:            4,
		ContextObservations: 50,
		ContextSummaries:    10,
	}
}

// DataDir returns the directory holding the database and settings file.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".claude-memory")
}

// DBPath returns the SQLite database path.
func DBPath() string {
	return filepath.Join(DataDir(), "claude-memory.db")
}

// SettingsPath returns the JSON settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// ProfilesPath returns the optional per-project profiles file path.
func ProfilesPath() string {
	return filepath.Join(DataDir(), "profiles.yaml")
}

// EnsureDataDir creates the data directory when missing.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0o755)
}

// EnsureSettings writes a starter settings file when none exists. An
// existing file is never touched.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat settings: %w", err)
	}

	cfg := Default()
	starter := map[string]interface{}{
		KeyWorkerPort:          cfg.WorkerPort,
		KeyLogLevel:            cfg.LogLevel,
		KeyContextObservations: cfg.ContextObservations,
		KeyContextSummaries:    cfg.ContextSummaries,
	}
	data, err := json.MarshalIndent(starter, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

// EnsureAll bootstraps the data directory and settings file.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := EnsureSettings(); err != nil {
		return fmt.Errorf("create settings: %w", err)
	}
	return nil
}

// Load reads the settings file and applies environment overrides. A
// missing or malformed file yields the defaults rather than an error, so
// a broken settings edit never takes the hooks down with it.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	switch {
	case err == nil:
		var values map[string]interface{}
		if jsonErr := json.Unmarshal(data, &values); jsonErr != nil {
			log.Warn().Err(jsonErr).Str("path", SettingsPath()).Msg("settings file malformed, using defaults")
		} else {
			cfg.apply(values)
		}
	case !os.IsNotExist(err):
		return cfg, fmt.Errorf("read settings: %w", err)
	}

	cfg.apply(envValues())
	return cfg, nil
}

var (
	cached   *Config
	loadOnce sync.Once
)

// Get returns the process-wide configuration, loading it once.
func Get() *Config {
	loadOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			log.Warn().Err(err).Msg("config load failed, using defaults")
			cfg = Default()
		}
		cached = cfg
	})
	return cached
}

// GetWorkerPort returns the worker port, preferring the environment so
// spawned hook processes agree with the worker that spawned them.
func GetWorkerPort() int {
	if v := os.Getenv(KeyWorkerPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			return port
		}
	}
	return Get().WorkerPort
}

// Level parses the configured log level name, defaulting to info.
func (c *Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(c.LogLevel)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

func (c *Config) apply(values map[string]interface{}) {
	if port, ok := intFrom(values, KeyWorkerPort); ok && port > 0 {
		c.WorkerPort = port
	}
	if level, ok := stringFrom(values, KeyLogLevel); ok {
		c.LogLevel = level
	}
	if conns, ok := intFrom(values, KeyMaxConns); ok && conns > 0 {
		c.MaxConns = conns
	}
	if n, ok := intFrom(values, KeyContextObservations); ok && n > 0 {
		c.ContextObservations = n
	}
	if n, ok := intFrom(values, KeyContextSummaries); ok && n > 0 {
		c.ContextSummaries = n
	}
}

func envValues() map[string]interface{} {
	keys := []string{KeyWorkerPort, KeyLogLevel, KeyMaxConns, KeyContextObservations, KeyContextSummaries}
	values := make(map[string]interface{}, len(keys))
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			values[key] = v
		}
	}
	return values
}

// intFrom reads an integer setting that may arrive as a JSON number or,
// via the environment, a string.
func intFrom(values map[string]interface{}, key string) (int, bool) {
	v, ok := values[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case string:
		if parsed, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

func stringFrom(values map[string]interface{}, key string) (string, bool) {
	if v, ok := values[key]; ok {
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s), true
		}
	}
	return "", false
}
