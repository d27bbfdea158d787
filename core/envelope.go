package core

import (
	"github.com/google/uuid"
)

// Status reports the outcome of a dispatched request.
type Status string

const (
	// StatusOK indicates the invocation succeeded and Result is populated.
	StatusOK Status = "ok"
	// StatusError indicates the request failed and ErrorDetail is populated.
	StatusError Status = "error"
)

// ErrorKind names the failure categories a response envelope can carry.
type ErrorKind string

const (
	// ErrorKindUnknownTool is returned when the tool name resolves to nothing.
	ErrorKindUnknownTool ErrorKind = "UnknownToolError"
	// ErrorKindSchemaValidation is returned when arguments fail structural validation.
	ErrorKindSchemaValidation ErrorKind = "SchemaValidationError"
	// ErrorKindToolExecution is returned when the handler fails, times out or panics.
	ErrorKindToolExecution ErrorKind = "ToolExecutionError"
	// ErrorKindSessionEvicted is returned when the referenced session no longer exists.
	ErrorKindSessionEvicted ErrorKind = "SessionEvictedError"
)

// Request is the envelope a client submits to invoke one tool within one
// session. A request is consumed exactly once and yields exactly one
// response carrying the same ID.
type Request struct {
	ID        string                 `json:"id"`
	SessionID string                 `json:"session_id"`
	ToolName  string                 `json:"tool_name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// NewRequest builds a request envelope with a fresh correlation ID.
func NewRequest(sessionID, toolName string, args map[string]interface{}) Request {
	return Request{ID: NewID(), SessionID: sessionID, ToolName: toolName, Arguments: args}
}

// Response is the envelope produced for a consumed request. Exactly one of
// Result or ErrorDetail is populated depending on Status, and ID echoes the
// request correlation ID unchanged.
type Response struct {
	ID          string                 `json:"id"`
	SessionID   string                 `json:"session_id"`
	Status      Status                 `json:"status"`
	Result      map[string]interface{} `json:"result,omitempty"`
	ErrorDetail *ErrorDetail           `json:"error_detail,omitempty"`
}

// ErrorDetail is the structured failure payload of an error response. Message
// is always safe to put on the wire; internal causes stay in the server log.
type ErrorDetail struct {
	Kind     ErrorKind `json:"kind"`
	ToolName string    `json:"tool_name,omitempty"`
	Field    string    `json:"field,omitempty"`
	Expected string    `json:"expected,omitempty"`
	Actual   string    `json:"actual,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Message  string    `json:"message"`
}

// OKResponse builds a success envelope for the given request.
func OKResponse(req Request, result map[string]interface{}) Response {
	return Response{ID: req.ID, SessionID: req.SessionID, Status: StatusOK, Result: result}
}

// ErrorResponse builds an error envelope for the given request.
func ErrorResponse(req Request, detail *ErrorDetail) Response {
	return Response{ID: req.ID, SessionID: req.SessionID, Status: StatusError, ErrorDetail: detail}
}

// NewID generates a unique identifier for requests and sessions.
func NewID() string {
	return uuid.NewString()
}
