package tool

import (
	"github.com/hupe1980/toolmesh/core"
)

// NewEchoTool returns a tool that echoes its input text back unchanged.
//
// It is the canonical smoke test for the dispatch pipeline: a call with
// {"text": "hi"} produces {"text": "hi"} and exactly one history entry in
// the session. It is also handy as a connectivity check for remote clients.
func NewEchoTool() *FunctionTool {
	return NewFunctionTool(
		"echo",
		"Echo the provided text back to the caller",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{
					"type":        "string",
					"description": "Text to echo back",
				},
			},
			"required": []string{"text"},
		},
		func(_ *core.CallContext, args map[string]any) (map[string]any, error) {
			return map[string]any{
				"text": args["text"],
			}, nil
		},
	).WithOutputSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{
				"type":        "string",
				"description": "The echoed text",
			},
		},
		"required": []string{"text"},
	})
}
