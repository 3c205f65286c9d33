// Package session tracks the sessions the worker is currently serving:
// an in-memory registry with a pending work queue per session.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

const (
	// SessionTimeout is how long a session may sit idle before the
	// sweep drops it from the registry.
	SessionTimeout = 30 * time.Minute

	// CleanupInterval is how often the idle sweep runs.
	CleanupInterval = 5 * time.Minute
)

// MessageType discriminates queued work items.
type MessageType int

const (
	MessageTypeObservation MessageType = iota
	MessageTypeSummarize
)

// ObservationData is one tool event waiting to be classified and stored.
// Input and response stay raw JSON until the processor picks them up.
type ObservationData struct {
	ToolName     string          `json:"tool_name"`
	ToolInput    json.RawMessage `json:"tool_input"`
	ToolResponse json.RawMessage `json:"tool_response"`
	PromptNumber int             `json:"prompt_number"`
	CWD          string          `json:"cwd"`
}

// SummarizeData carries the transcript tail for the fallback summary.
type SummarizeData struct {
	LastUserMessage      string `json:"last_user_message"`
	LastAssistantMessage string `json:"last_assistant_message"`
}

// PendingMessage is one queued unit of work for a session.
type PendingMessage struct {
	Observation *ObservationData
	Summarize   *SummarizeData
	Type        MessageType
}

// ActiveSession is the in-memory state for one live session.
type ActiveSession struct {
	SessionDBID      int64
	ClaudeSessionID  string
	Project          string
	UserPrompt       string
	StartTime        time.Time
	LastPromptNumber int

	pendingMessages []PendingMessage
	messageMu       sync.Mutex

	processing   atomic.Bool
	lastActivity atomic.Int64 // unix nanos
}

func (s *ActiveSession) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// QueueDepth returns the number of messages waiting for this session.
func (s *ActiveSession) QueueDepth() int {
	s.messageMu.Lock()
	defer s.messageMu.Unlock()
	return len(s.pendingMessages)
}

// SetProcessing marks a drain in flight so stats can report busy sessions.
func (s *ActiveSession) SetProcessing(v bool) {
	s.processing.Store(v)
}

func (s *ActiveSession) enqueue(msg PendingMessage) {
	s.messageMu.Lock()
	s.pendingMessages = append(s.pendingMessages, msg)
	s.messageMu.Unlock()
	s.touch()
}

func (s *ActiveSession) drain() []PendingMessage {
	s.messageMu.Lock()
	defer s.messageMu.Unlock()
	if len(s.pendingMessages) == 0 {
		return nil
	}
	msgs := s.pendingMessages
	s.pendingMessages = nil
	return msgs
}

// Manager is the registry of live sessions. It owns no database state;
// everything here is reconstructible from the stores.
type Manager struct {
	mu       sync.RWMutex
	sessions map[int64]*ActiveSession

	// ProcessNotify wakes the drain loop; buffered so signaling never blocks.
	ProcessNotify chan struct{}

	onCreated func(int64)
	onDeleted func(int64)

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a session registry and starts its idle sweep.
// ShutdownAll stops the sweep.
func NewManager() *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		sessions:      make(map[int64]*ActiveSession),
		ProcessNotify: make(chan struct{}, 1),
		ctx:           ctx,
		cancel:        cancel,
	}
	go m.sweepLoop()
	return m
}

// Register adds a session to the registry. Registering an existing id
// refreshes its prompt number and activity instead of replacing it.
func (m *Manager) Register(dbID int64, claudeSessionID, project, userPrompt string, promptNumber int) *ActiveSession {
	m.mu.Lock()
	if sess, ok := m.sessions[dbID]; ok {
		sess.LastPromptNumber = promptNumber
		if userPrompt != "" {
			sess.UserPrompt = userPrompt
		}
		m.mu.Unlock()
		sess.touch()
		return sess
	}

	sess := &ActiveSession{
		SessionDBID:      dbID,
		ClaudeSessionID:  claudeSessionID,
		Project:          project,
		UserPrompt:       userPrompt,
		StartTime:        time.Now(),
		LastPromptNumber: promptNumber,
	}
	sess.touch()
	m.sessions[dbID] = sess
	onCreated := m.onCreated
	m.mu.Unlock()

	log.Debug().
		Int64("sessionDbId", dbID).
		Str("project", project).
		Msg("Session registered")

	if onCreated != nil {
		onCreated(dbID)
	}
	return sess
}

// Get returns the session for a database id, nil when not tracked.
func (m *Manager) Get(dbID int64) *ActiveSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[dbID]
}

// GetByClaudeID returns the session holding the given session token.
func (m *Manager) GetByClaudeID(claudeSessionID string) *ActiveSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sess := range m.sessions {
		if sess.ClaudeSessionID == claudeSessionID {
			return sess
		}
	}
	return nil
}

// Enqueue queues work for a session and wakes the processor. Returns
// false when the session is not registered.
func (m *Manager) Enqueue(dbID int64, msg PendingMessage) bool {
	m.mu.RLock()
	sess := m.sessions[dbID]
	m.mu.RUnlock()
	if sess == nil {
		return false
	}

	sess.enqueue(msg)
	m.NotifyProcessor()
	return true
}

// NotifyProcessor wakes the drain loop without blocking.
func (m *Manager) NotifyProcessor() {
	select {
	case m.ProcessNotify <- struct{}{}:
	default:
	}
}

// DrainMessages removes and returns all queued messages for a session,
// preserving order. Nil when the session is unknown.
func (m *Manager) DrainMessages(dbID int64) []PendingMessage {
	m.mu.RLock()
	sess := m.sessions[dbID]
	m.mu.RUnlock()
	if sess == nil {
		return nil
	}
	return sess.drain()
}

// GetActiveSessionCount returns the number of tracked sessions.
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetTotalQueueDepth sums pending messages across all sessions.
func (m *Manager) GetTotalQueueDepth() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	depth := 0
	for _, sess := range m.sessions {
		depth += sess.QueueDepth()
	}
	return depth
}

// IsAnySessionProcessing reports whether any session has queued work or
// a drain in flight.
func (m *Manager) IsAnySessionProcessing() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sess := range m.sessions {
		if sess.processing.Load() || sess.QueueDepth() > 0 {
			return true
		}
	}
	return false
}

// GetAllSessions returns a snapshot of the tracked sessions.
func (m *Manager) GetAllSessions() []*ActiveSession {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*ActiveSession, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

// DeleteSession removes a session. Safe to call for unknown ids; the
// deletion callback only fires when something was actually removed.
func (m *Manager) DeleteSession(dbID int64) {
	m.mu.Lock()
	_, exists := m.sessions[dbID]
	if exists {
		delete(m.sessions, dbID)
	}
	onDeleted := m.onDeleted
	m.mu.Unlock()

	if !exists {
		return
	}

	log.Debug().Int64("sessionDbId", dbID).Msg("Session removed")
	if onDeleted != nil {
		onDeleted(dbID)
	}
}

// SetOnSessionCreated sets the callback fired after a new registration.
func (m *Manager) SetOnSessionCreated(fn func(int64)) {
	m.mu.Lock()
	m.onCreated = fn
	m.mu.Unlock()
}

// SetOnSessionDeleted sets the callback fired after a removal.
func (m *Manager) SetOnSessionDeleted(fn func(int64)) {
	m.mu.Lock()
	m.onDeleted = fn
	m.mu.Unlock()
}

// ShutdownAll waits for in-flight drains to settle, bounded by ctx,
// then clears the registry and stops the idle sweep.
func (m *Manager) ShutdownAll(ctx context.Context) {
	for m.IsAnySessionProcessing() {
		if ctx.Err() != nil {
			log.Warn().Msg("Shutdown proceeding with sessions still processing")
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	m.mu.RLock()
	ids := make([]int64, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.DeleteSession(id)
	}

	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.expireIdle()
		}
	}
}

// expireIdle drops sessions with no activity inside SessionTimeout. A
// session that still has queued work is left for the processor.
func (m *Manager) expireIdle() {
	cutoff := time.Now().Add(-SessionTimeout).UnixNano()

	m.mu.RLock()
	var expired []int64
	for id, sess := range m.sessions {
		if sess.lastActivity.Load() < cutoff && sess.QueueDepth() == 0 && !sess.processing.Load() {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range expired {
		log.Info().Int64("sessionDbId", id).Msg("Session timed out")
		m.DeleteSession(id)
	}
}
