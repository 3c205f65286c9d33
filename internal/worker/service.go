// Package worker provides the HTTP service that stores observations,
// serves context digests, and streams live events for claude-memory.
package worker

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/cookiesen77-rgb/claude-memory/internal/config"
	"github.com/cookiesen77-rgb/claude-memory/internal/db/sqlite"
	"github.com/cookiesen77-rgb/claude-memory/internal/digest"
	"github.com/cookiesen77-rgb/claude-memory/internal/mcp"
	"github.com/cookiesen77-rgb/claude-memory/internal/search"
	"github.com/cookiesen77-rgb/claude-memory/internal/worker/session"
	"github.com/cookiesen77-rgb/claude-memory/internal/worker/sse"
)

// ShutdownTimeout bounds how long a stopping worker waits for queued
// observations to flush.
const ShutdownTimeout = 5 * time.Second

// Service is the worker: one process owning the store, the session
// registry, and the HTTP surface the hooks and dashboard talk to.
type Service struct {
	config           *config.Config
	store            *sqlite.Store
	sessionStore     *sqlite.SessionStore
	observationStore *sqlite.ObservationStore
	summaryStore     *sqlite.SummaryStore
	promptStore      *sqlite.PromptStore
	sessionManager   *session.Manager
	sseBroadcaster   *sse.Broadcaster
	searchManager    *search.Manager
	synthesizer      *digest.Synthesizer
	processor        *processor
	mcpTransport     *mcp.SSETransport
	stats            *statsRecorder
	router           chi.Router
	version          string
	instanceID       string
	startTime        time.Time
	ready            atomic.Bool
}

// NewService wires the worker together over an open store.
func NewService(version string, cfg *config.Config, store *sqlite.Store) *Service {
	sessionStore := sqlite.NewSessionStore(store)
	observationStore := sqlite.NewObservationStore(store)
	summaryStore := sqlite.NewSummaryStore(store)
	promptStore := sqlite.NewPromptStore(store)

	sessionManager := session.NewManager()
	sseBroadcaster := sse.NewBroadcaster()
	searchManager := search.NewManager(observationStore, summaryStore, promptStore)
	synthesizer := digest.NewSynthesizer(observationStore, summaryStore)
	stats := newStatsRecorder()

	mcpServer := mcp.NewServer(version, sessionStore, observationStore, summaryStore, promptStore, synthesizer)

	svc := &Service{
		version:          version,
		config:           cfg,
		store:            store,
		sessionStore:     sessionStore,
		observationStore: observationStore,
		summaryStore:     summaryStore,
		promptStore:      promptStore,
		sessionManager:   sessionManager,
		sseBroadcaster:   sseBroadcaster,
		searchManager:    searchManager,
		synthesizer:      synthesizer,
		mcpTransport:     mcp.NewSSETransport(mcpServer),
		stats:            stats,
		instanceID:       uuid.NewString(),
		router:           chi.NewRouter(),
		startTime:        time.Now(),
	}
	svc.processor = newProcessor(sessionManager, sessionStore, observationStore, summaryStore, sseBroadcaster, stats)

	sessionManager.SetOnSessionCreated(func(dbID int64) {
		sseBroadcaster.Broadcast(map[string]interface{}{
			"type":          "session_started",
			"session_db_id": dbID,
		})
	})
	sessionManager.SetOnSessionDeleted(func(dbID int64) {
		sseBroadcaster.Broadcast(map[string]interface{}{
			"type":          "session_ended",
			"session_db_id": dbID,
		})
	})

	svc.setupRoutes()
	return svc
}

func (s *Service) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		// Liveness endpoints answer before the service is ready.
		r.Get("/health", s.handleHealth)
		r.Get("/version", s.handleVersion)
		r.Get("/ready", s.handleReady)

		r.Group(func(r chi.Router) {
			r.Use(s.requireReady)
			r.Use(s.countRequests)

			r.Post("/sessions/init", s.handleSessionInit)
			r.Post("/sessions/observations", s.handleObservations)
			r.Post("/sessions/{id}/summarize", s.handleSummarize)
			r.Post("/sessions/subagent-complete", s.handleSubagentComplete)
			r.Get("/sessions", s.handleGetSession)

			r.Get("/context/inject", s.handleContextInject)
			r.Get("/context/search", s.handleContextSearch)

			r.Get("/observations", s.handleListObservations)
			r.Get("/observations/{id}", s.handleGetObservation)
			r.Get("/projects", s.handleProjects)
			r.Get("/stats", s.handleStats)

			r.Get("/events", s.sseBroadcaster.HandleSSE)
		})
	})

	// MCP over SSE rides the same port as the API.
	s.router.Get("/sse", s.mcpTransport.HandleSSE)
	s.router.Post("/message", s.mcpTransport.HandleMessage)

	s.router.Get("/", serveIndex)
	s.router.Get("/app.js", serveAssets)
	s.router.Get("/style.css", serveAssets)
}

// GetRetrievalStats reports the serving counters.
func (s *Service) GetRetrievalStats() RetrievalStats {
	return s.stats.Snapshot()
}

// Run serves until ctx is canceled, then flushes queued work and shuts
// the listener down.
func (s *Service) Run(ctx context.Context) error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.config.WorkerPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.processor.Run(ctx)
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		s.sessionManager.ShutdownAll(shutdownCtx)
		return srv.Shutdown(shutdownCtx)
	})

	s.ready.Store(true)
	log.Info().
		Str("addr", addr).
		Str("version", s.version).
		Str("instance", s.instanceID).
		Msg("Worker listening")

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	return g.Wait()
}
