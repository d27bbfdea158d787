package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/toolmesh/logging"
)

// CallContext provides a constrained, auditable surface for tool handlers
// invoked by the dispatcher. Handlers read a frozen snapshot of the session
// variables and stage output variable writes without directly mutating the
// underlying session; the dispatcher merges staged outputs into the session
// only after the invocation succeeds, so a failed or timed out handler never
// leaves partial state behind.
type CallContext struct {
	ctx       context.Context
	sessionID string
	requestID string
	toolName  string
	variables map[string]interface{}
	outputs   map[string]interface{}
	history   []HistoryEntry
	valid     bool
	mu        sync.Mutex

	*loggerAdapter
}

// NewCallContext constructs a call context bound to one request, snapshotting
// variables and history from the given session.
func NewCallContext(ctx context.Context, req Request, session *Session, logger logging.Logger) *CallContext {
	var (
		vars    map[string]interface{}
		history []HistoryEntry
	)
	if session != nil {
		vars = session.VariablesSnapshot()
		history = session.HistoryEntries()
	} else {
		vars = map[string]interface{}{}
	}

	return &CallContext{
		ctx:           ctx,
		sessionID:     req.SessionID,
		requestID:     req.ID,
		toolName:      req.ToolName,
		variables:     vars,
		outputs:       map[string]interface{}{},
		history:       history,
		valid:         true,
		loggerAdapter: newLoggerAdapter(logger),
	}
}

// Context returns the context associated with the invocation. It carries the
// invocation timeout and is cancelled when the client cancels the request.
func (cc *CallContext) Context() context.Context { return cc.ctx }

// SessionID returns the session ID associated with the invocation.
func (cc *CallContext) SessionID() string { return cc.sessionID }

// RequestID returns the request ID associated with the invocation.
func (cc *CallContext) RequestID() string { return cc.requestID }

// ToolName returns the name of the tool being invoked.
func (cc *CallContext) ToolName() string { return cc.toolName }

// Logger returns the logger associated with the invocation.
func (cc *CallContext) Logger() logging.Logger { return cc.loggerAdapter.Logger() }

// Variable retrieves a session variable. Outputs staged during this
// invocation shadow the snapshot for immediate read-back.
func (cc *CallContext) Variable(k string) (interface{}, bool) {
	cc.mu.Lock()
	if v, ok := cc.outputs[k]; ok {
		cc.mu.Unlock()
		return v, true
	}
	cc.mu.Unlock()

	v, ok := cc.variables[k]
	return v, ok
}

// Variables returns a copy of the visible variables, staged outputs included.
func (cc *CallContext) Variables() map[string]interface{} {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	merged := make(map[string]interface{}, len(cc.variables)+len(cc.outputs))
	for k, v := range cc.variables {
		merged[k] = v
	}
	for k, v := range cc.outputs {
		merged[k] = v
	}
	return merged
}

// SetOutput stages a variable write. Staged writes become visible to later
// invocations only after the dispatcher merges a successful result.
func (cc *CallContext) SetOutput(k string, v interface{}) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.outputs[k] = v
}

// Outputs returns a copy of the staged variable writes.
func (cc *CallContext) Outputs() map[string]interface{} {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	out := make(map[string]interface{}, len(cc.outputs))
	for k, v := range cc.outputs {
		out[k] = v
	}
	return out
}

// History returns the session invocation history as of request receipt.
func (cc *CallContext) History() []HistoryEntry {
	entries := make([]HistoryEntry, len(cc.history))
	copy(entries, cc.history)
	return entries
}

// Validate performs a structural sanity check of the context.
func (cc *CallContext) Validate() error {
	if !cc.valid || cc.sessionID == "" || cc.requestID == "" {
		return fmt.Errorf("invalid CallContext")
	}

	return nil
}

// IsValid reports whether Validate would succeed (fast path).
func (cc *CallContext) IsValid() bool {
	return cc.valid && cc.sessionID != "" && cc.requestID != ""
}
