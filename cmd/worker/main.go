// Package main provides the worker daemon entry point.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cookiesen77-rgb/claude-memory/internal/config"
	"github.com/cookiesen77-rgb/claude-memory/internal/db/sqlite"
	"github.com/cookiesen77-rgb/claude-memory/internal/watcher"
	"github.com/cookiesen77-rgb/claude-memory/internal/worker"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := config.EnsureAll(); err != nil {
		log.Fatal().Err(err).Msg("Failed to prepare data directory")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.Default()
	}
	zerolog.SetGlobalLevel(cfg.Level())

	store, err := sqlite.NewStore(sqlite.StoreConfig{
		Path:     config.DBPath(),
		MaxConns: cfg.MaxConns,
		WALMode:  true,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("Shutting down worker")
		cancel()
	}()

	startWatchers()

	svc := worker.NewService(Version, cfg, store)
	if err := svc.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Worker error")
	}
}

// startWatchers wires the data-file watchers: a settings change exits
// the process so the next hook respawns it with fresh configuration,
// and a deleted database is reported loudly instead of silently
// erroring on every request.
func startWatchers() {
	settingsPath := config.SettingsPath()
	settingsWatcher, err := watcher.New(settingsPath,
		watcher.OnWrite(func() {
			log.Warn().Str("path", settingsPath).Msg("Settings changed, exiting for restart")
			time.Sleep(100 * time.Millisecond)
			os.Exit(0)
		}),
		watcher.OnRemove(func() {
			log.Warn().Str("path", settingsPath).Msg("Settings file removed")
		}),
	)
	if err != nil {
		log.Warn().Err(err).Msg("Settings watcher unavailable")
	} else if err := settingsWatcher.Start(); err != nil {
		log.Warn().Err(err).Msg("Settings watcher failed to start")
	}

	dbPath := config.DBPath()
	dbWatcher, err := watcher.New(dbPath,
		watcher.OnRemove(func() {
			log.Error().Str("path", dbPath).
				Msg("Database file deleted while the worker holds it open; restart the worker to recreate it")
		}),
	)
	if err != nil {
		log.Warn().Err(err).Msg("Database watcher unavailable")
	} else if err := dbWatcher.Start(); err != nil {
		log.Warn().Err(err).Msg("Database watcher failed to start")
	}
}
