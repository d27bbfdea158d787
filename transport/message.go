package transport

import (
	"encoding/json"
	"fmt"

	"github.com/hupe1980/toolmesh/core"
)

// Version is the JSON-RPC protocol version carried by every message.
const Version = "2.0"

// ProtocolVersion identifies the toolmesh wire protocol revision negotiated
// during the initialize handshake.
const ProtocolVersion = "2024-11-05"

// Method names understood by the server protocol loop.
const (
	MethodInitialize = "initialize"
	MethodPing       = "ping"
	MethodToolsList  = "tools/list"
	MethodToolsCall  = "tools/call"
	MethodSessionEnd = "session/end"

	NotificationInitialized = "notifications/initialized"
	NotificationCancelled   = "notifications/cancelled"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// RequestID is the correlation identifier of a request-response pair. The
// wire allows both string and numeric ids; RequestID normalizes either form
// to a string so the id survives the round trip unchanged.
type RequestID string

// UnmarshalJSON accepts string or numeric wire representations.
func (r *RequestID) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	switch v := v.(type) {
	case string:
		*r = RequestID(v)
	case float64:
		*r = RequestID(fmt.Sprintf("%d", int64(v)))
	default:
		return fmt.Errorf("request id must be a string or number, got %T", v)
	}

	return nil
}

// MarshalJSON always emits the string form.
func (r RequestID) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(r))
}

// Message is the JSON-RPC 2.0 envelope exchanged over every transport. The
// populated fields determine its role:
//   - Request: ID, Method and Params are set
//   - Response: ID and either Result or Error are set
//   - Notification: Method is set without an ID
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      RequestID       `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the JSON-RPC 2.0 error object attached to failed responses.
type RPCError struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NewRequest builds a request message, marshaling params. A nil params value
// produces a request without a params field.
func NewRequest(id RequestID, method string, params any) (Message, error) {
	msg := Message{JSONRPC: Version, ID: id, Method: method}

	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return Message{}, fmt.Errorf("failed to marshal params for %s: %w", method, err)
		}
		msg.Params = raw
	}

	return msg, nil
}

// NewNotification builds a notification message, which carries no id and
// expects no response.
func NewNotification(method string, params any) (Message, error) {
	msg, err := NewRequest("", method, params)
	if err != nil {
		return Message{}, err
	}
	msg.ID = ""
	return msg, nil
}

// NewResult builds a success response for the given request id.
func NewResult(id RequestID, result any) (Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal result: %w", err)
	}
	return Message{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewError builds an error response for the given request id.
func NewError(id RequestID, code int, message string, data map[string]any) Message {
	return Message{
		JSONRPC: Version,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message, Data: data},
	}
}

// Info names one end of a connection during the initialize handshake.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams is the payload of the initialize request.
type InitializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
	ClientInfo      Info   `json:"clientInfo"`
}

// InitializeResult is the server's reply to initialize.
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    Capabilities `json:"capabilities"`
	ServerInfo      Info         `json:"serverInfo"`
	Instructions    string       `json:"instructions,omitempty"`
}

// Capabilities advertises what the server supports. Only the tool surface
// exists today; the struct leaves room for more.
type Capabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// ToolsCapability marks tool listing and invocation as available.
type ToolsCapability struct{}

// ToolDescriptor describes one registered tool to clients.
type ToolDescriptor struct {
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	InputSchema  map[string]any `json:"inputSchema"`
	OutputSchema map[string]any `json:"outputSchema,omitempty"`
}

// ListToolsResult is the reply to tools/list.
type ListToolsResult struct {
	Tools []ToolDescriptor `json:"tools"`
}

// CallToolParams is the payload of tools/call. SessionID is optional: when
// empty the server uses the transport session's id, so a plain connection is
// one logical session while a multiplexing client can address several.
type CallToolParams struct {
	Name      string         `json:"name"`
	SessionID string         `json:"sessionId,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ContentType tags a content item. Only text content exists on this wire.
type ContentType string

// ContentTypeText marks plain text content.
const ContentTypeText ContentType = "text"

// Content is one displayable item in a tool call result.
type Content struct {
	Type ContentType `json:"type"`
	Text string      `json:"text,omitempty"`
}

// CallToolResult is the reply to tools/call. Tool-level failures travel here
// with IsError set and the structured detail attached; transport and protocol
// failures travel as JSON-RPC errors instead.
type CallToolResult struct {
	Content     []Content         `json:"content"`
	Structured  map[string]any    `json:"structuredContent,omitempty"`
	ErrorDetail *core.ErrorDetail `json:"errorDetail,omitempty"`
	IsError     bool              `json:"isError"`
}

// SessionEndParams is the payload of session/end.
type SessionEndParams struct {
	SessionID string `json:"sessionId,omitempty"`
}

// CancelledParams is the payload of notifications/cancelled.
type CancelledParams struct {
	RequestID RequestID `json:"requestId"`
	Reason    string    `json:"reason,omitempty"`
}
