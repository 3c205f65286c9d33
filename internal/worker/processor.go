package worker

import (
	"context"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/cookiesen77-rgb/claude-memory/internal/db/sqlite"
	"github.com/cookiesen77-rgb/claude-memory/internal/tokens"
	"github.com/cookiesen77-rgb/claude-memory/internal/worker/observe"
	"github.com/cookiesen77-rgb/claude-memory/internal/worker/session"
	"github.com/cookiesen77-rgb/claude-memory/internal/worker/sse"
)

// processor drains session queues, classifies queued tool events, and
// writes the resulting observations and summaries.
type processor struct {
	manager      *session.Manager
	sessions     *sqlite.SessionStore
	observations *sqlite.ObservationStore
	summaries    *sqlite.SummaryStore
	broadcaster  *sse.Broadcaster
	stats        *statsRecorder
}

func newProcessor(manager *session.Manager, sessions *sqlite.SessionStore, observations *sqlite.ObservationStore, summaries *sqlite.SummaryStore, broadcaster *sse.Broadcaster, stats *statsRecorder) *processor {
	return &processor{
		manager:      manager,
		sessions:     sessions,
		observations: observations,
		summaries:    summaries,
		broadcaster:  broadcaster,
		stats:        stats,
	}
}

// Run drains queues until ctx is cancelled. Wakeups arrive on the
// manager's ProcessNotify channel.
func (p *processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.manager.ProcessNotify:
			p.processAll(ctx)
		}
	}
}

// processAll drains every session that has queued work.
func (p *processor) processAll(ctx context.Context) {
	for _, sess := range p.manager.GetAllSessions() {
		if sess.QueueDepth() > 0 {
			p.ProcessSession(ctx, sess.SessionDBID)
		}
	}
}

// ProcessSession synchronously drains one session's queue. Handlers
// that must finish before responding call this directly; DrainMessages
// is atomic, so a concurrent drain of the same session stores nothing
// twice.
func (p *processor) ProcessSession(ctx context.Context, dbID int64) {
	sess := p.manager.Get(dbID)
	if sess == nil {
		return
	}

	msgs := p.manager.DrainMessages(dbID)
	if len(msgs) == 0 {
		return
	}

	sess.SetProcessing(true)
	defer sess.SetProcessing(false)

	for _, msg := range msgs {
		switch msg.Type {
		case session.MessageTypeObservation:
			p.handleObservation(ctx, sess, msg.Observation)
		case session.MessageTypeSummarize:
			p.handleSummarize(ctx, sess, msg.Summarize)
		}
	}
}

func (p *processor) handleObservation(ctx context.Context, sess *session.ActiveSession, data *session.ObservationData) {
	if data == nil {
		return
	}

	output := toolOutputText(data.ToolResponse)
	parsed, ok := observe.ClassifyTool(data.ToolName, data.ToolInput, output, data.CWD)
	if !ok {
		return
	}

	discovery := int64(tokens.Estimate(output))
	id, epoch, err := p.observations.StoreObservation(ctx, sess.ClaudeSessionID, sess.Project, parsed, data.PromptNumber, discovery)
	if err != nil {
		log.Error().
			Err(err).
			Str("sessionId", sess.ClaudeSessionID).
			Str("tool", data.ToolName).
			Msg("Failed to store observation")
		return
	}
	p.stats.RecordObservationStored(ctx)

	p.broadcaster.Broadcast(map[string]interface{}{
		"type":             "observation",
		"id":               id,
		"session_db_id":    sess.SessionDBID,
		"project":          sess.Project,
		"obs_type":         string(parsed.Type),
		"title":            parsed.Title,
		"prompt_number":    data.PromptNumber,
		"created_at_epoch": epoch,
	})
}

func (p *processor) handleSummarize(ctx context.Context, sess *session.ActiveSession, data *session.SummarizeData) {
	if data == nil {
		return
	}

	parsed := observe.FallbackSummary(data.LastUserMessage, data.LastAssistantMessage)
	discovery := int64(tokens.Estimate(data.LastAssistantMessage))

	id, epoch, err := p.summaries.StoreSummary(ctx, sess.ClaudeSessionID, sess.Project, parsed, sess.LastPromptNumber, discovery)
	if err != nil {
		log.Error().
			Err(err).
			Str("sessionId", sess.ClaudeSessionID).
			Msg("Failed to store summary")
		return
	}

	if err := p.sessions.MarkSessionCompleted(ctx, sess.ClaudeSessionID); err != nil {
		log.Warn().
			Err(err).
			Str("sessionId", sess.ClaudeSessionID).
			Msg("Failed to mark session completed")
	}

	p.broadcaster.Broadcast(map[string]interface{}{
		"type":             "summary",
		"id":               id,
		"session_db_id":    sess.SessionDBID,
		"project":          sess.Project,
		"request":          parsed.Request,
		"created_at_epoch": epoch,
	})

	// A summarized session is finished; drop it from the registry.
	p.manager.DeleteSession(sess.SessionDBID)
}

// toolOutputText renders a raw tool response as text. String payloads
// unwrap; anything else keeps its JSON form.
func toolOutputText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
