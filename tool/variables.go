package tool

import (
	"fmt"

	"github.com/hupe1980/toolmesh/core"
)

// VariablesTool exposes session state management as a callable tool.
//
// It demonstrates how to use CallContext for variable access: reads see the
// receipt-time snapshot of the session, writes are staged through SetOutput
// and only merged into the session when the invocation succeeds.
type VariablesTool struct {
	name        string
	description string
}

// NewVariablesTool creates a new session variable management tool.
//
// The tool provides operations for:
//   - Reading and writing session variables
//   - Listing the visible variable set
//   - Inspecting the session invocation history
//
// Returns a fully initialized VariablesTool that implements the Tool interface.
func NewVariablesTool() *VariablesTool {
	return &VariablesTool{
		name: "session_variables",
		description: "Manages session variables and inspects invocation history. " +
			"Supports operations: get_variable, set_variable, list_variables, get_history.",
	}
}

// Name returns the tool identifier.
func (t *VariablesTool) Name() string {
	return t.name
}

// Description returns the tool description.
func (t *VariablesTool) Description() string {
	return t.description
}

// InputSchema returns the JSON schema for the tool arguments.
func (t *VariablesTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"operation": map[string]interface{}{
				"type": "string",
				"enum": []string{
					"get_variable", "set_variable", "list_variables", "get_history",
				},
				"description": "The variable operation to perform",
			},
			"key": map[string]interface{}{
				"type":        "string",
				"description": "Variable key for get_variable/set_variable operations",
			},
			"value": map[string]interface{}{
				"description": "Value for set_variable operations (any type)",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of history entries to return (default: 10)",
				"default":     10,
			},
		},
		"required": []string{"operation"},
	}
}

// OutputSchema returns nil; results vary per operation.
func (t *VariablesTool) OutputSchema() map[string]interface{} {
	return nil
}

// Call implements the Tool interface with structured arguments.
func (t *VariablesTool) Call(callCtx *core.CallContext, args map[string]interface{}) (map[string]interface{}, error) {
	operation, ok := args["operation"].(string)
	if !ok {
		return nil, fmt.Errorf("operation parameter is required")
	}

	switch operation {
	case "get_variable":
		return t.handleGetVariable(args, callCtx)
	case "set_variable":
		return t.handleSetVariable(args, callCtx)
	case "list_variables":
		return t.handleListVariables(callCtx)
	case "get_history":
		return t.handleGetHistory(args, callCtx)
	default:
		return nil, fmt.Errorf("unknown operation: %s", operation)
	}
}

// handleGetVariable retrieves a value from the session variables.
func (t *VariablesTool) handleGetVariable(args map[string]interface{}, callCtx *core.CallContext) (map[string]interface{}, error) {
	key, ok := args["key"].(string)
	if !ok {
		return nil, fmt.Errorf("key parameter is required for get_variable operation")
	}

	value, exists := callCtx.Variable(key)
	if !exists {
		return map[string]interface{}{
			"key":    key,
			"exists": false,
			"value":  nil,
		}, nil
	}

	return map[string]interface{}{
		"key":    key,
		"exists": true,
		"value":  value,
	}, nil
}

// handleSetVariable stages a variable write for the session.
func (t *VariablesTool) handleSetVariable(args map[string]interface{}, callCtx *core.CallContext) (map[string]interface{}, error) {
	key, ok := args["key"].(string)
	if !ok {
		return nil, fmt.Errorf("key parameter is required for set_variable operation")
	}

	value := args["value"] // Can be any type

	callCtx.SetOutput(key, value)

	return map[string]interface{}{
		"key":     key,
		"value":   value,
		"success": true,
		"message": fmt.Sprintf("Variable '%s' staged for merge", key),
	}, nil
}

// handleListVariables lists the variables visible to this invocation.
func (t *VariablesTool) handleListVariables(callCtx *core.CallContext) (map[string]interface{}, error) {
	variables := callCtx.Variables()

	return map[string]interface{}{
		"variables": variables,
		"count":     len(variables),
		"success":   true,
	}, nil
}

// handleGetHistory retrieves the session invocation history.
func (t *VariablesTool) handleGetHistory(args map[string]interface{}, callCtx *core.CallContext) (map[string]interface{}, error) {
	limit := 10
	if l, ok := args["limit"].(float64); ok {
		limit = int(l)
	}
	if l, ok := args["limit"].(int64); ok {
		limit = int(l)
	}

	history := callCtx.History()
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}

	// Convert entries to a more readable format
	entries := make([]map[string]interface{}, len(history))
	for i, entry := range history {
		entries[i] = map[string]interface{}{
			"tool_name": entry.ToolName,
			"timestamp": entry.Timestamp,
			"has_args":  len(entry.Arguments) > 0,
		}
	}

	return map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
		"success": true,
	}, nil
}
