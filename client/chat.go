package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/model"
	"github.com/hupe1980/toolmesh/transport"
)

// ChatOptions configures a Chat.
type ChatOptions struct {
	// Logger receives structured chat events. Defaults to the client's logger.
	Logger logging.Logger

	// SystemPrompt is appended to the instructions the server reported
	// during the handshake.
	SystemPrompt string

	// SessionID selects a logical tool session. Empty uses the connection's
	// own session, so tool state survives across turns automatically.
	SessionID string

	// MaxModelCalls bounds model invocations per Send, so a model stuck in a
	// tool-call loop cannot spin forever. Defaults to 8.
	MaxModelCalls int
}

// Chat drives a tool-calling conversation: model output containing function
// calls is executed through the connected server and fed back until the model
// answers in plain text.
//
// A Chat keeps the conversation history between Send calls; tool state lives
// in the server's session context. Send serializes, so a Chat is safe to
// share - but turns run one at a time.
type Chat struct {
	client *Client
	model  model.Model
	logger logging.Logger

	systemPrompt  string
	sessionID     string
	maxModelCalls int

	mu      sync.Mutex
	history []core.Content
	tools   []model.ToolDefinition
}

// NewChat creates a Chat over a connected client and a model.
//
// Example:
//
//	chat := client.NewChat(c, openai.NewModel(), func(o *client.ChatOptions) {
//	    o.SystemPrompt = "Answer briefly."
//	})
//	answer, err := chat.Send(ctx, "What is the sentiment around solana today?")
func NewChat(c *Client, m model.Model, optFns ...func(o *ChatOptions)) *Chat {
	opts := ChatOptions{
		Logger:        c.logger,
		MaxModelCalls: 8,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.MaxModelCalls <= 0 {
		opts.MaxModelCalls = 8
	}

	return &Chat{
		client:        c,
		model:         m,
		logger:        opts.Logger,
		systemPrompt:  opts.SystemPrompt,
		sessionID:     opts.SessionID,
		maxModelCalls: opts.MaxModelCalls,
	}
}

// Send runs one conversation turn and returns the model's final text answer.
// Function calls emitted by the model are dispatched through the server; tool
// failures are fed back to the model as error responses rather than aborting
// the turn.
func (ch *Chat) Send(ctx context.Context, text string) (string, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	tools, err := ch.toolDefinitions(ctx)
	if err != nil {
		return "", err
	}

	ch.history = append(ch.history, core.NewTextContent("user", text))

	limiter := core.NewModelLimiter(ch.maxModelCalls)

	for {
		if err := limiter.Increment(); err != nil {
			return "", fmt.Errorf("chat turn aborted: %w", err)
		}

		content, err := ch.generate(ctx, tools)
		if err != nil {
			return "", err
		}
		ch.history = append(ch.history, content)

		calls := content.FunctionCalls()
		if len(calls) == 0 {
			return content.Text(), nil
		}

		parts := make([]core.Part, 0, len(calls))
		for _, call := range calls {
			parts = append(parts, ch.executeCall(ctx, call))
		}
		ch.history = append(ch.history, core.Content{Role: "tool", Parts: parts})
	}
}

// History returns a copy of the conversation so far.
func (ch *Chat) History() []core.Content {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	out := make([]core.Content, len(ch.history))
	copy(out, ch.history)
	return out
}

// Reset clears the conversation history. Server-side session state is
// unaffected; use Client.EndSession to drop that too.
func (ch *Chat) Reset() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.history = nil
}

// generate runs one model call and returns the final assistant content.
func (ch *Chat) generate(ctx context.Context, tools []model.ToolDefinition) (core.Content, error) {
	start := time.Now()

	respCh, errCh := ch.model.Generate(ctx, model.Request{
		Instructions: ch.instructions(),
		Contents:     ch.history,
		Tools:        tools,
	})

	var final *model.Response
	for resp := range respCh {
		if !resp.Partial {
			r := resp
			final = &r
		}
	}

	if err := <-errCh; err != nil {
		ch.logger.Error("chat.model_call.failed",
			"model", ch.model.Info().Name,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err.Error(),
		)
		return core.Content{}, fmt.Errorf("model generation failed: %w", err)
	}
	if final == nil {
		return core.Content{}, errors.New("model produced no final response")
	}

	ch.logger.Debug("chat.model_call",
		"model", ch.model.Info().Name,
		"duration_ms", time.Since(start).Milliseconds(),
		"tool_calls", len(final.Content.FunctionCalls()),
	)

	return final.Content, nil
}

// executeCall runs a single tool call and wraps the outcome as a function
// response part. Failures of any kind land in the Error field so the model
// can react to them.
func (ch *Chat) executeCall(ctx context.Context, call core.FunctionCall) core.Part {
	fail := func(reason string) core.Part {
		return core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{
			ID:    call.ID,
			Name:  call.Name,
			Error: reason,
		}}
	}

	args := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return fail(fmt.Sprintf("invalid call arguments: %v", err))
		}
	}

	ch.logger.Debug("chat.tool_call", "tool", call.Name, "session_id", ch.sessionID)

	result, err := ch.client.CallTool(ctx, transport.CallToolParams{
		Name:      call.Name,
		SessionID: ch.sessionID,
		Arguments: args,
	})
	if err != nil {
		return fail(err.Error())
	}
	if result.IsError {
		msg := "tool call failed"
		if len(result.Content) > 0 && result.Content[0].Text != "" {
			msg = result.Content[0].Text
		}
		return fail(msg)
	}

	text := ""
	if len(result.Content) > 0 {
		text = result.Content[0].Text
	}
	return core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{
		ID:       call.ID,
		Name:     call.Name,
		Response: text,
	}}
}

// toolDefinitions fetches the server's tool catalog once and converts it into
// model-facing definitions.
func (ch *Chat) toolDefinitions(ctx context.Context) ([]model.ToolDefinition, error) {
	if ch.tools != nil {
		return ch.tools, nil
	}

	descriptors, err := ch.client.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	defs := make([]model.ToolDefinition, 0, len(descriptors))
	for _, d := range descriptors {
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  cleanSchema(d.InputSchema),
			},
		})
	}

	ch.tools = defs
	return defs, nil
}

// cleanSchema strips the "title" annotations some providers reject, recursing
// into object properties. The input map stays untouched.
func cleanSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}

	out := make(map[string]any, len(schema))
	for k, v := range schema {
		if k == "title" {
			continue
		}
		out[k] = v
	}

	if props, ok := out["properties"].(map[string]any); ok {
		cleaned := make(map[string]any, len(props))
		for name, sub := range props {
			if subMap, ok := sub.(map[string]any); ok {
				cleaned[name] = cleanSchema(subMap)
			} else {
				cleaned[name] = sub
			}
		}
		out["properties"] = cleaned
	}

	return out
}

// instructions merges the server's handshake instructions with the local
// system prompt.
func (ch *Chat) instructions() string {
	server := ch.client.Instructions()

	switch {
	case server != "" && ch.systemPrompt != "":
		return server + "\n\n" + ch.systemPrompt
	case ch.systemPrompt != "":
		return ch.systemPrompt
	default:
		return server
	}
}
