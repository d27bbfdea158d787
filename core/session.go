package core

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// HistoryEntry records one successful tool invocation inside a session: the
// tool that ran, the validated arguments it received and the result it
// produced. Entries are append-only and ordered by invocation completion.
type HistoryEntry struct {
	ToolName  string                 `json:"tool_name"`
	Arguments map[string]interface{} `json:"arguments"`
	Result    map[string]interface{} `json:"result"`
	Timestamp time.Time              `json:"timestamp"`
}

// Session is a stateful container that threads conversational context through
// tool invocations. It holds an ordered invocation history plus a mutable
// variables map that tools read from and, through declared outputs, write to.
// It is safe for concurrent access.
//
// Contract:
//   - A session is created implicitly by the first request naming its ID
//   - Mutations refresh the LastActive timestamp used for idle eviction
//   - HistoryEntries and VariablesSnapshot return defensive copies
//   - Clone performs deep copies of maps/slices for safe divergence.
type Session struct {
	ID         string                 `json:"id"`
	Variables  map[string]interface{} `json:"variables"`
	History    []HistoryEntry         `json:"history"`
	Created    time.Time              `json:"created"`
	LastActive time.Time              `json:"last_active"`
	mu         sync.RWMutex
}

// NewSession creates a new empty session with the given ID.
func NewSession(id string) *Session {
	now := time.Now()
	return &Session{ID: id, Variables: map[string]interface{}{}, History: []HistoryEntry{}, Created: now, LastActive: now}
}

// Variable returns the value and existence flag for a session variable.
func (s *Session) Variable(key string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.Variables[key]
	return v, ok
}

// SetVariable sets a key/value pair in the variables map refreshing LastActive.
func (s *Session) SetVariable(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Variables[key] = value
	s.LastActive = time.Now()
}

// MergeVariables merges the provided key/value pairs into Variables
// last-write-wins.
func (s *Session) MergeVariables(vars map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range vars {
		s.Variables[k] = v
	}
	s.LastActive = time.Now()
}

// AppendHistory appends an invocation record refreshing LastActive.
func (s *Session) AppendHistory(entry HistoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.History = append(s.History, entry)
	s.LastActive = time.Now()
}

// HistoryEntries returns a defensive copy of the invocation history.
func (s *Session) HistoryEntries() []HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]HistoryEntry, len(s.History))
	copy(entries, s.History)
	return entries
}

// VariablesSnapshot returns a shallow copy of the variables map. Handlers
// receive this snapshot so an in-flight request never observes concurrent
// writes to the live session.
func (s *Session) VariablesSnapshot() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := make(map[string]interface{}, len(s.Variables))
	for k, v := range s.Variables {
		snap[k] = v
	}
	return snap
}

// Touch refreshes the idle timestamp without mutating state.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActive = time.Now()
}

// IdleSince returns the time of the last session activity.
func (s *Session) IdleSince() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.LastActive
}

// Clone creates a deep copy of the session. Stores hand out clones so callers
// can inspect state without holding store locks.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clone := &Session{
		ID:         s.ID,
		Variables:  make(map[string]interface{}, len(s.Variables)),
		History:    make([]HistoryEntry, len(s.History)),
		Created:    s.Created,
		LastActive: s.LastActive,
	}
	for k, v := range s.Variables {
		clone.Variables[k] = v
	}
	copy(clone.History, s.History)
	return clone
}

// SessionStore defines the interface for session context persistence.
// Implementations must make GetOrCreate atomic and Append a single
// all-or-nothing mutation (history entry plus variable merge together).
type SessionStore interface {
	// GetOrCreate returns the session with the given ID, creating it when it
	// does not exist yet. Concurrent calls for the same ID observe a single
	// session.
	GetOrCreate(ctx context.Context, id string) (*Session, error)

	// Get returns the session or a *SessionEvictedError when unknown.
	Get(ctx context.Context, id string) (*Session, error)

	// Append records one completed invocation: it appends the history entry
	// and merges the tool-declared output variables last-write-wins in a
	// single atomic step, refreshing the idle timestamp.
	Append(ctx context.Context, id string, entry HistoryEntry, vars map[string]interface{}) error

	// Touch refreshes the idle timestamp of the session.
	Touch(ctx context.Context, id string) error

	// Evict destroys the session context. Evicting an unknown session is not
	// an error.
	Evict(ctx context.Context, id string) error

	// List returns the IDs of all live sessions.
	List(ctx context.Context) ([]string, error)
}

// SessionEvictedError indicates that a request referenced a session context
// that no longer exists, either never created or already destroyed.
type SessionEvictedError struct {
	SessionID string
}

// Error implements the error interface.
func (e *SessionEvictedError) Error() string {
	return fmt.Sprintf("session %q has been evicted or does not exist", e.SessionID)
}
