package agent

import (
	"fmt"
	"sync"

	"github.com/clintrovert/excelsior/internal/tools"
	"github.com/clintrovert/excelsior/pkg/types"
)

// Session is one conversation against one project. State lives in process
// memory only; a restart starts conversations over. mu serializes turns
// with the confirm/cancel and CSV-upload paths: RunTurn holds it end to
// end, so History and ToolState only ever have one writer at a time.
type Session struct {
	mu        sync.Mutex
	ID        string
	ConfigID  string
	History   []types.ConversationTurn
	ToolState *tools.State
	Pending   map[string]*types.PendingAction
	// LastQuestion is the user message that produced the current pending
	// action or answer; the auditors judge against it.
	LastQuestion string
}

func newSession(id, configID string) *Session {
	return &Session{
		ID:        id,
		ConfigID:  configID,
		ToolState: &tools.State{ConfigID: configID},
		Pending:   make(map[string]*types.PendingAction),
	}
}

// Reset discards conversation context for a fresh line of work. CSV rows are
// kept; they belong to the upload, not the topic.
func (s *Session) Reset() {
	s.History = nil
	s.ToolState.Cached = nil
}

// SetCSV replaces the session's uploaded CSV rows.
func (s *Session) SetCSV(rows []map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ToolState.CSVRows = rows
}

// TakePending removes and returns a pending action by id.
func (s *Session) TakePending(actionID string) (*types.PendingAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	action, ok := s.Pending[actionID]
	if !ok {
		return nil, fmt.Errorf("no pending action %q", actionID)
	}
	delete(s.Pending, actionID)
	return action, nil
}

// Sessions is the in-memory session registry.
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessions creates an empty registry.
func NewSessions() *Sessions {
	return &Sessions{sessions: make(map[string]*Session)}
}

// GetOrCreate returns the session for (id, configID), creating it on first
// use. A session id reused against a different project gets a new session.
func (s *Sessions) GetOrCreate(id, configID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok && sess.ConfigID == configID {
		return sess
	}
	sess := newSession(id, configID)
	s.sessions[id] = sess
	return sess
}
