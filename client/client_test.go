package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/dispatch"
	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/server"
	"github.com/hupe1980/toolmesh/session"
	"github.com/hupe1980/toolmesh/tool"
	"github.com/hupe1980/toolmesh/transport"
)

func startServer(t *testing.T, tools []tool.Tool, optFns ...func(o *server.Options)) (*transport.Pipe, *session.InMemoryStore) {
	t.Helper()

	registry := tool.NewRegistry()
	for _, tl := range tools {
		require.NoError(t, registry.Register(tl))
	}
	registry.Seal()

	store := session.NewInMemoryStore()
	d := dispatch.New(registry, store, dispatch.WithLogger(logging.NoOpLogger{}))

	pipe := transport.NewPipe()
	srv := server.New(d, pipe, optFns...)

	go srv.Serve()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	return pipe, store
}

func connect(t *testing.T, pipe *transport.Pipe, optFns ...func(o *Options)) *Client {
	t.Helper()

	c := New(pipe, optFns...)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(c.Close)

	return c
}

// -------------------- Connection Tests --------------------

func TestClient_ConnectHandshake(t *testing.T) {
	pipe, _ := startServer(t, []tool.Tool{tool.NewEchoTool()})
	c := connect(t, pipe)

	assert.Equal(t, "toolmesh", c.ServerInfo().Name)
	assert.NotEmpty(t, c.SessionID())
}

func TestClient_ConnectReportsInstructions(t *testing.T) {
	pipe, _ := startServer(t, []tool.Tool{tool.NewEchoTool()},
		server.WithInstructions("Use the echo tool for everything."))
	c := connect(t, pipe)

	assert.Equal(t, "Use the echo tool for everything.", c.Instructions())
}

func TestClient_RequestAfterCloseFails(t *testing.T) {
	pipe, _ := startServer(t, []tool.Tool{tool.NewEchoTool()})
	c := connect(t, pipe)

	c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, c.Ping(ctx))
}

func TestClient_AnswersServerPings(t *testing.T) {
	pipe, _ := startServer(t, []tool.Tool{tool.NewEchoTool()},
		server.WithPingInterval(25*time.Millisecond))
	c := connect(t, pipe)

	// Without pong replies the server would close the session after roughly
	// four ping intervals.
	time.Sleep(300 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, c.Ping(ctx))
}

// -------------------- Tool Operation Tests --------------------

func TestClient_ListTools(t *testing.T) {
	pipe, _ := startServer(t, []tool.Tool{tool.NewEchoTool()})
	c := connect(t, pipe)

	ctx := context.Background()
	tools, err := c.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].Name)
	assert.NotEmpty(t, tools[0].InputSchema)
}

func TestClient_CallTool(t *testing.T) {
	pipe, _ := startServer(t, []tool.Tool{tool.NewEchoTool()})
	c := connect(t, pipe)

	result, err := c.CallTool(context.Background(), transport.CallToolParams{
		Name:      "echo",
		Arguments: map[string]any{"text": "hi"},
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "hi", result.Structured["text"])
}

func TestClient_CallToolErrorDetailInResult(t *testing.T) {
	pipe, _ := startServer(t, []tool.Tool{tool.NewEchoTool()})
	c := connect(t, pipe)

	result, err := c.CallTool(context.Background(), transport.CallToolParams{
		Name:      "ghost",
		Arguments: map[string]any{},
	})
	// Tool level failures travel inside the result, not the error return.
	require.NoError(t, err)
	assert.True(t, result.IsError)
	require.NotNil(t, result.ErrorDetail)
	assert.Equal(t, core.ErrorKindUnknownTool, result.ErrorDetail.Kind)
}

func TestClient_SessionStateSpansCalls(t *testing.T) {
	pipe, store := startServer(t, []tool.Tool{tool.NewEchoTool()})
	c := connect(t, pipe)

	ctx := context.Background()
	for _, text := range []string{"first", "second"} {
		result, err := c.CallTool(ctx, transport.CallToolParams{
			Name:      "echo",
			Arguments: map[string]any{"text": text},
		})
		require.NoError(t, err)
		require.False(t, result.IsError)
	}

	sess, err := store.Get(ctx, c.SessionID())
	require.NoError(t, err)
	require.Len(t, sess.History, 2)
	assert.Equal(t, "first", sess.History[0].Arguments["text"])
	assert.Equal(t, "second", sess.History[1].Arguments["text"])
}

func TestClient_CallToolTimesOut(t *testing.T) {
	slow := tool.NewFunctionTool("slow", "Waits out the caller",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(cc *core.CallContext, _ map[string]any) (map[string]any, error) {
			select {
			case <-cc.Context().Done():
				return nil, cc.Context().Err()
			case <-time.After(5 * time.Second):
				return map[string]any{}, nil
			}
		})

	pipe, _ := startServer(t, []tool.Tool{slow})
	c := connect(t, pipe, WithRequestTimeout(50*time.Millisecond))

	_, err := c.CallTool(context.Background(), transport.CallToolParams{Name: "slow"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

// -------------------- Session Lifecycle Tests --------------------

func TestClient_EndSessionEvictsAndDisconnects(t *testing.T) {
	pipe, store := startServer(t, []tool.Tool{tool.NewEchoTool()})
	c := connect(t, pipe)

	ctx := context.Background()
	_, err := c.CallTool(ctx, transport.CallToolParams{
		Name:      "echo",
		Arguments: map[string]any{"text": "hi"},
	})
	require.NoError(t, err)

	sessionID := c.SessionID()
	require.NoError(t, c.EndSession(ctx, ""))

	_, err = store.Get(ctx, sessionID)
	assert.Error(t, err)

	// Ending the connection's own session also drops the connection.
	assert.Eventually(t, func() bool {
		pingCtx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		return c.Ping(pingCtx) != nil
	}, 2*time.Second, 50*time.Millisecond)
}

func TestClient_EndLogicalSessionKeepsConnection(t *testing.T) {
	pipe, store := startServer(t, []tool.Tool{tool.NewEchoTool()})
	c := connect(t, pipe)

	ctx := context.Background()
	_, err := c.CallTool(ctx, transport.CallToolParams{
		Name:      "echo",
		SessionID: "workbench",
		Arguments: map[string]any{"text": "hi"},
	})
	require.NoError(t, err)

	require.NoError(t, c.EndSession(ctx, "workbench"))

	_, err = store.Get(ctx, "workbench")
	assert.Error(t, err)

	// The connection's own session is untouched and the link stays up.
	assert.NoError(t, c.Ping(ctx))
}
