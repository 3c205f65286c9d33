package session

import (
	"context"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ManagerSuite is a test suite for Manager operations.
type ManagerSuite struct {
	suite.Suite
	manager *Manager
}

func (s *ManagerSuite) SetupTest() {
	s.manager = NewManager()
}

func (s *ManagerSuite) TearDownTest() {
	s.manager.ShutdownAll(context.Background())
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

// TestRegisterAndGet tests session registration and lookup.
func (s *ManagerSuite) TestRegisterAndGet() {
	sess := s.manager.Register(42, "claude-abc", "myproject", "fix the login bug", 1)
	s.Require().NotNil(sess)

	s.Equal(int64(42), sess.SessionDBID)
	s.Equal("claude-abc", sess.ClaudeSessionID)
	s.Equal("myproject", sess.Project)
	s.Equal("fix the login bug", sess.UserPrompt)
	s.Equal(1, sess.LastPromptNumber)
	s.False(sess.StartTime.IsZero())

	s.Same(sess, s.manager.Get(42))
	s.Same(sess, s.manager.GetByClaudeID("claude-abc"))
}

// TestGetUnknownSession tests lookups for untracked sessions.
func (s *ManagerSuite) TestGetUnknownSession() {
	s.Nil(s.manager.Get(999))
	s.Nil(s.manager.GetByClaudeID("no-such-session"))
}

// TestRegisterExistingRefreshes tests that re-registering an id updates
// the tracked session instead of replacing it.
func (s *ManagerSuite) TestRegisterExistingRefreshes() {
	first := s.manager.Register(7, "claude-7", "proj", "first prompt", 1)
	second := s.manager.Register(7, "claude-7", "proj", "second prompt", 2)

	s.Same(first, second)
	s.Equal(2, second.LastPromptNumber)
	s.Equal("second prompt", second.UserPrompt)
	s.Equal(1, s.manager.GetActiveSessionCount())

	// An empty prompt keeps the previous one.
	third := s.manager.Register(7, "claude-7", "proj", "", 3)
	s.Equal("second prompt", third.UserPrompt)
	s.Equal(3, third.LastPromptNumber)
}

// TestOnSessionCreated tests that the creation callback fires once per session.
func (s *ManagerSuite) TestOnSessionCreated() {
	var created []int64
	s.manager.SetOnSessionCreated(func(id int64) {
		created = append(created, id)
	})

	s.manager.Register(1, "a", "proj", "x", 1)
	s.manager.Register(1, "a", "proj", "y", 2)
	s.manager.Register(2, "b", "proj", "z", 1)

	s.Equal([]int64{1, 2}, created)
}

// TestGetActiveSessionCount tests session counting.
func (s *ManagerSuite) TestGetActiveSessionCount() {
	s.Equal(0, s.manager.GetActiveSessionCount())

	s.manager.Register(1, "a", "proj", "x", 1)
	s.manager.Register(2, "b", "proj", "y", 1)

	s.Equal(2, s.manager.GetActiveSessionCount())
}

// TestEnqueueAndDrain tests queueing work and draining it in order.
func (s *ManagerSuite) TestEnqueueAndDrain() {
	s.manager.Register(1, "claude-1", "proj", "prompt", 1)

	ok := s.manager.Enqueue(1, PendingMessage{
		Type: MessageTypeObservation,
		Observation: &ObservationData{
			ToolName:     "Bash",
			ToolInput:    json.RawMessage(`{"command":"ls"}`),
			ToolResponse: json.RawMessage(`"total 0"`),
			PromptNumber: 1,
			CWD:          "/tmp",
		},
	})
	s.True(ok)

	ok = s.manager.Enqueue(1, PendingMessage{
		Type:      MessageTypeSummarize,
		Summarize: &SummarizeData{LastUserMessage: "do it", LastAssistantMessage: "done"},
	})
	s.True(ok)
	s.Equal(2, s.manager.GetTotalQueueDepth())

	msgs := s.manager.DrainMessages(1)
	s.Require().Len(msgs, 2)
	s.Equal(MessageTypeObservation, msgs[0].Type)
	s.Equal("Bash", msgs[0].Observation.ToolName)
	s.Nil(msgs[0].Summarize)
	s.Equal(MessageTypeSummarize, msgs[1].Type)
	s.Equal("done", msgs[1].Summarize.LastAssistantMessage)
	s.Nil(msgs[1].Observation)

	s.Empty(s.manager.DrainMessages(1))
	s.Equal(0, s.manager.GetTotalQueueDepth())
}

// TestEnqueueUnknownSession tests that work for untracked sessions is refused.
func (s *ManagerSuite) TestEnqueueUnknownSession() {
	s.False(s.manager.Enqueue(99, PendingMessage{Type: MessageTypeObservation}))
}

// TestDrainUnknownSession tests draining an untracked session.
func (s *ManagerSuite) TestDrainUnknownSession() {
	s.Nil(s.manager.DrainMessages(999))
}

// TestDrainMessagesPreservesOrder tests that draining preserves message order.
func (s *ManagerSuite) TestDrainMessagesPreservesOrder() {
	s.manager.Register(1, "claude-1", "proj", "prompt", 1)
	s.manager.Enqueue(1, PendingMessage{Type: MessageTypeObservation, Observation: &ObservationData{ToolName: "Tool1"}})
	s.manager.Enqueue(1, PendingMessage{Type: MessageTypeSummarize, Summarize: &SummarizeData{LastUserMessage: "Msg1"}})
	s.manager.Enqueue(1, PendingMessage{Type: MessageTypeObservation, Observation: &ObservationData{ToolName: "Tool2"}})

	messages := s.manager.DrainMessages(1)

	s.Require().Len(messages, 3)
	s.Equal("Tool1", messages[0].Observation.ToolName)
	s.Equal("Msg1", messages[1].Summarize.LastUserMessage)
	s.Equal("Tool2", messages[2].Observation.ToolName)
}

// TestEnqueueWakesProcessor tests that queued work signals the drain loop.
func (s *ManagerSuite) TestEnqueueWakesProcessor() {
	s.manager.Register(1, "claude-1", "proj", "prompt", 1)
	s.manager.Enqueue(1, PendingMessage{Type: MessageTypeObservation})

	select {
	case <-s.manager.ProcessNotify:
	default:
		s.Fail("expected a processor wakeup")
	}
}

// TestNotifyProcessorNeverBlocks tests repeated signaling with no receiver.
func (s *ManagerSuite) TestNotifyProcessorNeverBlocks() {
	for i := 0; i < 10; i++ {
		s.manager.NotifyProcessor()
	}
	s.Len(s.manager.ProcessNotify, 1)
}

// TestIsAnySessionProcessing tests processing status detection.
func (s *ManagerSuite) TestIsAnySessionProcessing() {
	s.False(s.manager.IsAnySessionProcessing())

	sess := s.manager.Register(1, "claude-1", "proj", "prompt", 1)
	s.False(s.manager.IsAnySessionProcessing())

	// Queued work counts as processing.
	s.manager.Enqueue(1, PendingMessage{Type: MessageTypeObservation})
	s.True(s.manager.IsAnySessionProcessing())

	s.manager.DrainMessages(1)
	s.False(s.manager.IsAnySessionProcessing())

	// So does a drain in flight.
	sess.SetProcessing(true)
	s.True(s.manager.IsAnySessionProcessing())
	sess.SetProcessing(false)
	s.False(s.manager.IsAnySessionProcessing())
}

// TestGetAllSessions tests retrieving all sessions.
func (s *ManagerSuite) TestGetAllSessions() {
	s.Empty(s.manager.GetAllSessions())

	s.manager.Register(1, "a", "project-a", "x", 1)
	s.manager.Register(2, "b", "project-b", "y", 1)

	all := s.manager.GetAllSessions()
	s.Require().Len(all, 2)

	ids := make(map[int64]bool)
	for _, sess := range all {
		ids[sess.SessionDBID] = true
	}
	s.True(ids[1])
	s.True(ids[2])
}

// TestDeleteSession tests session deletion and the deletion callback.
func (s *ManagerSuite) TestDeleteSession() {
	var deleted []int64
	s.manager.SetOnSessionDeleted(func(id int64) {
		deleted = append(deleted, id)
	})

	s.manager.Register(5, "claude-5", "proj", "prompt", 1)
	s.manager.DeleteSession(5)

	s.Nil(s.manager.Get(5))
	s.Equal(0, s.manager.GetActiveSessionCount())
	s.Equal([]int64{5}, deleted)

	// Double delete should be safe and not fire the callback again.
	s.manager.DeleteSession(5)
	s.Equal([]int64{5}, deleted)
}

// TestDeleteNonExistentSession tests deleting a session that doesn't exist.
func (s *ManagerSuite) TestDeleteNonExistentSession() {
	callbackCalled := false
	s.manager.SetOnSessionDeleted(func(id int64) {
		callbackCalled = true
	})

	s.manager.DeleteSession(999)

	s.False(callbackCalled)
}

// TestShutdownAll tests graceful shutdown of all sessions.
func (s *ManagerSuite) TestShutdownAll() {
	s.manager.Register(1, "a", "proj", "x", 1)
	s.manager.Register(2, "b", "proj", "y", 1)
	s.manager.Register(3, "c", "proj", "z", 1)

	var deletedIDs []int64
	s.manager.SetOnSessionDeleted(func(id int64) {
		deletedIDs = append(deletedIDs, id)
	})

	s.manager.ShutdownAll(context.Background())

	s.Equal(0, s.manager.GetActiveSessionCount())
	s.Len(deletedIDs, 3)
}

// TestShutdownAllBoundedByContext tests that shutdown does not wait on
// queued work past the context deadline.
func (s *ManagerSuite) TestShutdownAllBoundedByContext() {
	s.manager.Register(1, "a", "proj", "x", 1)
	s.manager.Enqueue(1, PendingMessage{Type: MessageTypeObservation})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	s.manager.ShutdownAll(ctx)

	s.Less(time.Since(start), 5*time.Second)
	s.Equal(0, s.manager.GetActiveSessionCount())
}

// TestExpireIdle tests the idle sweep rules.
func (s *ManagerSuite) TestExpireIdle() {
	stale := s.manager.Register(1, "stale", "proj", "x", 1)
	fresh := s.manager.Register(2, "fresh", "proj", "y", 1)
	queued := s.manager.Register(3, "queued", "proj", "z", 1)
	busy := s.manager.Register(4, "busy", "proj", "w", 1)

	s.manager.Enqueue(3, PendingMessage{Type: MessageTypeObservation})
	busy.SetProcessing(true)

	old := time.Now().Add(-SessionTimeout - time.Minute).UnixNano()
	stale.lastActivity.Store(old)
	queued.lastActivity.Store(old)
	busy.lastActivity.Store(old)

	s.manager.expireIdle()

	s.Nil(s.manager.Get(1))
	s.Same(fresh, s.manager.Get(2))
	s.NotNil(s.manager.Get(3), "sessions with queued work are not expired")
	s.NotNil(s.manager.Get(4), "sessions mid-drain are not expired")
}

// TestConcurrentSessionAccess tests thread-safe session operations.
func TestConcurrentSessionAccess(t *testing.T) {
	manager := NewManager()
	defer manager.ShutdownAll(context.Background())

	var wg sync.WaitGroup
	numGoroutines := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()

			manager.Register(id, "claude", "test", "prompt", 1)
			manager.Enqueue(id, PendingMessage{Type: MessageTypeObservation})

			_ = manager.GetActiveSessionCount()
			_ = manager.GetTotalQueueDepth()
			_ = manager.IsAnySessionProcessing()
			_ = manager.GetAllSessions()

			manager.DrainMessages(id)
			manager.DeleteSession(id)
		}(int64(i))
	}

	wg.Wait()

	assert.Equal(t, 0, manager.GetActiveSessionCount())
}

// TestEnqueueRefreshesIdleClock tests that queue traffic counts as activity.
func TestEnqueueRefreshesIdleClock(t *testing.T) {
	manager := NewManager()
	defer manager.ShutdownAll(context.Background())

	active := manager.Register(1, "active", "proj", "x", 1)
	stale := manager.Register(2, "stale", "proj", "y", 1)

	old := time.Now().Add(-SessionTimeout - time.Minute).UnixNano()
	active.lastActivity.Store(old)
	stale.lastActivity.Store(old)

	// Enqueue touches the clock even once the queue drains again.
	manager.Enqueue(1, PendingMessage{Type: MessageTypeObservation})
	manager.DrainMessages(1)

	manager.expireIdle()

	assert.NotNil(t, manager.Get(1))
	assert.Nil(t, manager.Get(2))
}

// TestObservationDataRawJSON tests that tool payloads stay raw until drained.
func TestObservationDataRawJSON(t *testing.T) {
	data := ObservationData{
		ToolName:     "Write",
		ToolInput:    json.RawMessage(`{"file_path":"/tmp/a.go","content":"x"}`),
		ToolResponse: json.RawMessage(`"ok"`),
		PromptNumber: 3,
		CWD:          "/tmp",
	}

	assert.Equal(t, "Write", data.ToolName)
	assert.Equal(t, 3, data.PromptNumber)
	assert.JSONEq(t, `{"file_path":"/tmp/a.go","content":"x"}`, string(data.ToolInput))
}

// TestQueueDepth tests per-session queue accounting.
func TestQueueDepth(t *testing.T) {
	sess := &ActiveSession{}
	assert.Equal(t, 0, sess.QueueDepth())

	sess.enqueue(PendingMessage{Type: MessageTypeObservation})
	sess.enqueue(PendingMessage{Type: MessageTypeSummarize})
	assert.Equal(t, 2, sess.QueueDepth())

	msgs := sess.drain()
	require.Len(t, msgs, 2)
	assert.Equal(t, MessageTypeObservation, msgs[0].Type)
	assert.Equal(t, 0, sess.QueueDepth())
	assert.Nil(t, sess.drain())
}

// TestMessageMutex tests concurrent enqueues on one session.
func TestMessageMutex(t *testing.T) {
	sess := &ActiveSession{}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess.enqueue(PendingMessage{Type: MessageTypeObservation})
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, sess.QueueDepth())
}
