// Package tool implements the tool calling subsystem: descriptors that expose
// structured capabilities (APIs, computations, side-effects) with schema
// validated arguments, a sealed registry for lock-free lookup, and consistent
// error handling across invocations.
package tool

import (
	"fmt"

	"github.com/hupe1980/toolmesh/core"
)

// Tool defines the interface for capabilities exposed through the dispatcher.
//
// Tools are registered once at startup and immutable thereafter. Every
// invocation receives a *core.CallContext granting read access to session
// variables and history plus staged output-variable writes, together with the
// already validated arguments.
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions (snake_case names)
//   - Declare JSON schemas for their arguments and, where useful, results
//   - Handle errors gracefully
//   - Be thread-safe, as distinct sessions invoke tools concurrently
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description returns a human-readable description of what this tool does.
	// The description is surfaced to clients (and their models) to help decide
	// when and how to use the tool.
	Description() string

	// InputSchema returns a JSON schema describing the expected arguments.
	// A nil schema accepts any arguments.
	InputSchema() map[string]interface{}

	// OutputSchema returns a JSON schema describing the result shape.
	// A nil schema leaves results unchecked.
	OutputSchema() map[string]interface{}

	// Call executes the tool with validated arguments and the call context.
	Call(callCtx *core.CallContext, args map[string]interface{}) (map[string]interface{}, error)
}

// ToolError represents errors that occur during tool execution. Its Message
// is written by the tool author and considered safe to surface to callers.
type ToolError struct {
	Tool    string      `json:"tool"`              // Name of the tool that failed
	Message string      `json:"message"`           // Error message
	Code    string      `json:"code"`              // Error code for categorization
	Details interface{} `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}

// DuplicateToolError is returned when a registration collides with an
// existing tool name.
type DuplicateToolError struct {
	Name string
}

// Error implements the error interface.
func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %q is already registered", e.Name)
}

// UnknownToolError is returned when a lookup names a tool that was never
// registered.
type UnknownToolError struct {
	Name string
}

// Error implements the error interface.
func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}
