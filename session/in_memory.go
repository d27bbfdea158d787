package session

import (
	"context"
	"sync"

	"github.com/hupe1980/toolmesh/core"
)

// InMemoryStore is a volatile SessionStore implementation storing
// sessions in a process local map. It is safe for concurrent access and best
// suited for tests, single-process servers or ephemeral demos. Each returned
// session is cloned to prevent external mutation of internal state.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session
}

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*core.Session)}
}

// GetOrCreate returns a clone of an existing session or creates a new one.
// Creation is atomic: concurrent callers racing on the same ID all observe
// the single session created by the winner.
func (s *InMemoryStore) GetOrCreate(_ context.Context, sessionID string) (*core.Session, error) {
	s.mu.RLock()
	if session, ok := s.sessions[sessionID]; ok {
		defer s.mu.RUnlock()
		return session.Clone(), nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	// Re-check under the write lock; another goroutine may have won the race.
	if session, ok := s.sessions[sessionID]; ok {
		return session.Clone(), nil
	}
	return s.createSessionLocked(sessionID).Clone(), nil
}

// Get returns a clone of an existing session or a *core.SessionEvictedError
// when the session is unknown.
func (s *InMemoryStore) Get(_ context.Context, sessionID string) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if session, ok := s.sessions[sessionID]; ok {
		return session.Clone(), nil
	}
	return nil, &core.SessionEvictedError{SessionID: sessionID}
}

// Append records a completed invocation: the history entry and the variable
// merge land in one step under the store lock, refreshing the idle timestamp.
func (s *InMemoryStore) Append(_ context.Context, sessionID string, entry core.HistoryEntry, vars map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = s.createSessionLocked(sessionID)
	}
	sess.AppendHistory(entry)
	if len(vars) > 0 {
		sess.MergeVariables(vars)
	}
	return nil
}

// Touch refreshes the idle timestamp of an existing session. Touching an
// unknown session returns a *core.SessionEvictedError.
func (s *InMemoryStore) Touch(_ context.Context, sessionID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return &core.SessionEvictedError{SessionID: sessionID}
	}
	sess.Touch()
	return nil
}

// Evict removes the session from the store. Evicting an unknown session is a
// no-op.
func (s *InMemoryStore) Evict(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// List returns the IDs of all live sessions in unspecified order.
func (s *InMemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids, nil
}

// createSessionLocked allocates and stores a new session; caller must already
// hold the write lock.
func (s *InMemoryStore) createSessionLocked(sessionID string) *core.Session {
	sess := core.NewSession(sessionID)
	s.sessions[sessionID] = sess
	return sess
}
