// Package main provides the stdio MCP server entry point. It opens the
// store directly, so agents can use the memory tools without a running
// worker.
package main

import (
	"flag"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cookiesen77-rgb/claude-memory/internal/config"
	"github.com/cookiesen77-rgb/claude-memory/internal/db/sqlite"
	"github.com/cookiesen77-rgb/claude-memory/internal/digest"
	"github.com/cookiesen77-rgb/claude-memory/internal/mcp"
	"github.com/cookiesen77-rgb/claude-memory/internal/watcher"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	dataDir := flag.String("data-dir", "", "Data directory (default: ~/.claude-memory)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Stdout belongs to the MCP protocol; logs go to stderr.
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	if err := config.EnsureAll(); err != nil {
		log.Fatal().Err(err).Msg("Failed to prepare data directory")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.Default()
	}

	dbPath := config.DBPath()
	if *dataDir != "" {
		dbPath = filepath.Join(*dataDir, "claude-memory.db")
	}

	store, err := sqlite.NewStore(sqlite.StoreConfig{
		Path:     dbPath,
		MaxConns: cfg.MaxConns,
		WALMode:  true,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer store.Close()

	sessions := sqlite.NewSessionStore(store)
	observations := sqlite.NewObservationStore(store)
	summaries := sqlite.NewSummaryStore(store)
	prompts := sqlite.NewPromptStore(store)
	synthesizer := digest.NewSynthesizer(observations, summaries)

	watchSettings()

	server := mcp.NewServer(Version, sessions, observations, summaries, prompts, synthesizer)
	log.Info().Str("version", Version).Str("db", dbPath).Msg("Starting MCP stdio server")

	if err := server.ServeStdio(); err != nil {
		log.Fatal().Err(err).Msg("MCP server error")
	}
}

// watchSettings exits the process when the settings file changes, so the
// MCP client restarts it with fresh configuration.
func watchSettings() {
	path := config.SettingsPath()
	w, err := watcher.New(path,
		watcher.OnWrite(func() {
			log.Warn().Str("path", path).Msg("Settings changed, exiting for restart")
			time.Sleep(100 * time.Millisecond)
			os.Exit(0)
		}),
	)
	if err != nil {
		log.Warn().Err(err).Msg("Settings watcher unavailable")
		return
	}
	if err := w.Start(); err != nil {
		log.Warn().Err(err).Msg("Settings watcher failed to start")
	}
}
