package tool

import (
	"fmt"
	"time"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/schema"
)

// FunctionTool is a generic adapter that exposes a plain Go function as a tool.
//
// Responsibilities:
//   - Holds a lightweight JSON-Schema-like argument specification
//   - Validates supplied arguments against that schema before execution
//   - Invokes the wrapped function with a *core.CallContext giving access to
//     session variables, invocation history, logging and staged outputs
//   - Normalizes error handling so callers receive *ToolError with consistent
//     codes:
//     VALIDATION_ERROR  -> schema / argument mismatch
//     EXECUTION_ERROR   -> underlying function returned an error (non-ToolError)
//     (custom codes preserved if the function returns *ToolError directly)
//
// Concurrency:
//
//	A FunctionTool has no internal mutable state after construction and is safe
//	for concurrent use by multiple goroutines.
//
// Returned result:
//
//	The result map must be JSON-serializable; when an output schema is
//	declared the dispatcher checks the result against it before merging the
//	invocation into the session.
type FunctionTool struct {
	// Tool identifier (snake_case recommended)
	name string
	// Human-readable description shown to clients and models
	description string
	// JSON schema describing accepted arguments
	inputSchema map[string]any
	// Optional JSON schema describing the result shape
	outputSchema map[string]any
	// User supplied implementation
	fn func(callCtx *core.CallContext, args map[string]any) (map[string]any, error)
}

// NewFunctionTool constructs a FunctionTool from an explicit schema and function.
//
// Arguments:
//
//	name        - unique tool name (avoid collisions; snake_case suggested)
//	description - concise, imperative description ("Calculate the …")
//	inputSchema - minimal JSON-Schema-like map describing the accepted arguments
//	fn          - implementation receiving a CallContext plus already validated args
//
// Example:
//
//	sumTool := NewFunctionTool(
//	  "calculate_sum",
//	  "Calculate the sum of two numbers",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "a": map[string]any{"type": "number"},
//	      "b": map[string]any{"type": "number"},
//	    },
//	    "required": []string{"a", "b"},
//	  },
//	  func(cc *core.CallContext, args map[string]any) (map[string]any, error) {
//	    a := args["a"].(float64)
//	    b := args["b"].(float64)
//	    return map[string]any{"sum": a + b}, nil
//	  },
//	)
func NewFunctionTool(
	name, description string,
	inputSchema map[string]any,
	fn func(callCtx *core.CallContext, args map[string]any) (map[string]any, error),
) *FunctionTool {
	return &FunctionTool{
		name:        name,
		description: description,
		inputSchema: inputSchema,
		fn:          fn,
	}
}

// NewFunctionToolFromStruct derives the argument schema from a struct using
// reflection. It is a convenience for simple argument containers and produces
// a schema equivalent to schema.FromStruct(structType).
//
// Example:
//
//	type SumArgs struct {
//	  A float64 `json:"a" description:"First addend"`
//	  B float64 `json:"b" description:"Second addend"`
//	}
//
//	sumTool := NewFunctionToolFromStruct(
//	  "calculate_sum",
//	  "Calculate the sum of two numbers",
//	  SumArgs{},
//	  func(cc *core.CallContext, args map[string]any) (map[string]any, error) {
//	    return map[string]any{"sum": args["a"].(float64) + args["b"].(float64)}, nil
//	  },
//	)
func NewFunctionToolFromStruct(
	name, description string,
	structType any,
	fn func(callCtx *core.CallContext, args map[string]any) (map[string]any, error),
) *FunctionTool {
	return NewFunctionTool(name, description, schema.FromStruct(structType), fn)
}

// WithOutputSchema declares the result shape and returns the tool for chaining.
func (t *FunctionTool) WithOutputSchema(s map[string]any) *FunctionTool {
	t.outputSchema = s
	return t
}

// Name returns the unique tool name used in call routing and listings.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the short natural language description exposed to clients.
func (t *FunctionTool) Description() string { return t.description }

// InputSchema returns the (minimal) JSON schema describing expected arguments.
func (t *FunctionTool) InputSchema() map[string]any { return t.inputSchema }

// OutputSchema returns the declared result schema, or nil when unchecked.
func (t *FunctionTool) OutputSchema() map[string]any { return t.outputSchema }

// Call validates the provided args against the declared schema then invokes
// the underlying function. Validation or execution failures are wrapped (or
// passed through) as *ToolError for uniform downstream handling.
//
// The dispatcher performs the strict validation pass before calling; the
// lenient re-check here keeps standalone use safe without rejecting the
// coerced argument copy.
//
// Error Semantics:
//
//	*ToolError (returned directly)  -> forwarded unchanged
//	validation failure              -> *ToolError{Code: "VALIDATION_ERROR"}
//	other error                     -> *ToolError{Code: "EXECUTION_ERROR"}
func (t *FunctionTool) Call(callCtx *core.CallContext, args map[string]any) (map[string]any, error) {
	logger := callCtx.Logger()
	start := time.Now()

	logger.Debug("tool.call.start", "tool", t.name, "request_id", callCtx.RequestID())

	if t.inputSchema != nil {
		validated, err := schema.Validate(t.inputSchema, args, schema.WithAllowExtraFields())
		if err != nil {
			logger.Warn("tool.call.validation_failed", "tool", t.name, "error", err.Error())

			return nil, &ToolError{
				Tool:    t.name,
				Message: fmt.Sprintf("argument validation failed: %v", err),
				Code:    "VALIDATION_ERROR",
				Details: err,
			}
		}
		args = validated
	}

	result, err := t.fn(callCtx, args)
	if err != nil {
		if toolErr, ok := err.(*ToolError); ok { // Already a ToolError -> just log and forward
			logger.Error("tool.call.error", "tool", t.name, "error", toolErr.Message)

			return nil, toolErr
		}

		logger.Error("tool.call.error", "tool", t.name, "error", err.Error())

		return nil, &ToolError{
			Tool:    t.name,
			Message: err.Error(),
			Code:    "EXECUTION_ERROR",
		}
	}

	logger.Info("tool.call.success", "tool", t.name, "duration_ms", time.Since(start).Milliseconds())

	return result, nil
}
