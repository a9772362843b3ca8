package flow

import (
	"log/slog"
	"sync"
	"time"
)

// SessionStore owns every in-progress interview, keyed by conversation id.
// It is safe for concurrent use. A session itself is only touched by the
// worker that handles its conversation.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	lastSeen map[string]time.Time
	now      func() time.Time
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Get returns the active session for a conversation and marks it as seen.
func (s *SessionStore) Get(conversationID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[conversationID]
	if ok {
		s.lastSeen[conversationID] = s.now()
	}
	return session, ok
}

// Create starts a fresh session in StateSelectScreening, replacing any prior
// session for the conversation.
func (s *SessionStore) Create(conversationID string) *Session {
	now := s.now()
	session := &Session{
		ConversationID: conversationID,
		State:          StateSelectScreening,
		CreatedAt:      now,
	}

	s.mu.Lock()
	_, replaced := s.sessions[conversationID]
	s.sessions[conversationID] = session
	s.lastSeen[conversationID] = now
	s.mu.Unlock()

	if replaced {
		slog.Debug("SessionStore replaced existing session", "conversationID", conversationID)
	}
	return session
}

// Delete removes the session for a conversation. Deleting a missing session is a no-op.
func (s *SessionStore) Delete(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, conversationID)
	delete(s.lastSeen, conversationID)
}

// Len returns the number of active sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// ExpireIdle removes sessions that have not been seen for longer than maxIdle
// and returns how many were removed.
func (s *SessionStore) ExpireIdle(maxIdle time.Duration) int {
	if maxIdle <= 0 {
		return 0
	}
	cutoff := s.now().Add(-maxIdle)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, seen := range s.lastSeen {
		if seen.Before(cutoff) {
			delete(s.sessions, id)
			delete(s.lastSeen, id)
			removed++
		}
	}
	return removed
}
