package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/dispatch"
	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/transport"
)

// protocolSession runs the protocol loop for one transport session. All
// message routing happens on the loop goroutine; request handlers run in
// their own goroutines so a slow tool never blocks pings or cancellations.
type protocolSession struct {
	sess       transport.Session
	dispatcher *dispatch.Dispatcher
	logger     logging.Logger

	info         transport.Info
	instructions string

	pingInterval         time.Duration
	pingFailureThreshold int
	sendTimeout          time.Duration

	// Touched only on the loop goroutine.
	initialized bool

	baseCtx    context.Context
	baseCancel context.CancelFunc

	cancelsMu sync.Mutex
	cancels   map[transport.RequestID]context.CancelFunc

	pongs chan transport.RequestID

	ended   chan struct{}
	endOnce sync.Once
}

func (ps *protocolSession) run(done <-chan struct{}) {
	ps.baseCtx, ps.baseCancel = context.WithCancel(context.Background())
	defer ps.baseCancel()

	loopExited := make(chan struct{})
	defer close(loopExited)

	// The single Stop caller: the session ends when the server shuts down,
	// the protocol ends it, or the client goes away.
	go func() {
		select {
		case <-done:
		case <-ps.ended:
		case <-loopExited:
		}
		ps.sess.Stop()
	}()

	if ps.pingInterval > 0 {
		go ps.ping(done)
	}

	for msg := range ps.sess.Messages() {
		ps.handle(msg)
	}
}

// end requests session termination. Idempotent.
func (ps *protocolSession) end() {
	ps.endOnce.Do(func() {
		close(ps.ended)
	})
}

func (ps *protocolSession) handle(msg transport.Message) {
	if msg.JSONRPC != transport.Version {
		ps.logger.Warn("server.message.invalid_version", "session_id", ps.sess.ID(), "jsonrpc", msg.JSONRPC)
		if msg.ID != "" {
			go ps.reply(transport.NewError(msg.ID, transport.CodeInvalidRequest,
				fmt.Sprintf("unsupported jsonrpc version %q", msg.JSONRPC), nil))
		}
		return
	}

	switch msg.Method {
	case transport.MethodPing:
		go ps.handlePing(msg.ID)

	case transport.MethodInitialize:
		go ps.handleInitialize(msg)

	case transport.NotificationInitialized:
		ps.initialized = true
		ps.logger.Debug("server.session.initialized", "session_id", ps.sess.ID())

	case transport.MethodToolsList, transport.MethodToolsCall, transport.MethodSessionEnd:
		if !ps.initialized {
			go ps.reply(transport.NewError(msg.ID, transport.CodeInvalidRequest,
				"session is not initialized", nil))
			return
		}

		reqCtx, cancel := context.WithCancel(ps.baseCtx)
		ps.trackCancel(msg.ID, cancel)

		go func() {
			defer ps.untrackCancel(msg.ID)
			ps.handleRequest(reqCtx, msg)
		}()

	case transport.NotificationCancelled:
		var params transport.CancelledParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			ps.logger.Warn("server.cancel.invalid_params", "session_id", ps.sess.ID(), "error", err)
			return
		}
		ps.cancelInflight(params.RequestID, params.Reason)

	case "":
		// A response from the client; the only requests this server sends
		// are pings.
		select {
		case ps.pongs <- msg.ID:
		default:
		}

	default:
		ps.logger.Warn("server.message.unknown_method", "session_id", ps.sess.ID(), "method", msg.Method)
		if msg.ID != "" {
			go ps.reply(transport.NewError(msg.ID, transport.CodeMethodNotFound,
				fmt.Sprintf("method %q is not supported", msg.Method),
				map[string]any{"method": msg.Method}))
		}
	}
}

func (ps *protocolSession) handleRequest(ctx context.Context, msg transport.Message) {
	switch msg.Method {
	case transport.MethodToolsList:
		ps.handleListTools(msg)
	case transport.MethodToolsCall:
		ps.handleCallTool(ctx, msg)
	case transport.MethodSessionEnd:
		ps.handleSessionEnd(ctx, msg)
	}
}

func (ps *protocolSession) handlePing(id transport.RequestID) {
	pong, err := transport.NewResult(id, struct{}{})
	if err != nil {
		ps.logger.Error("server.ping.marshal_failed", "error", err)
		return
	}
	ps.reply(pong)
}

func (ps *protocolSession) handleInitialize(msg transport.Message) {
	var params transport.InitializeParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		ps.reply(transport.NewError(msg.ID, transport.CodeInvalidParams,
			fmt.Sprintf("failed to unmarshal params: %v", err), nil))
		return
	}

	if params.ProtocolVersion != transport.ProtocolVersion {
		ps.logger.Warn("server.initialize.version_mismatch",
			"session_id", ps.sess.ID(), "client_version", params.ProtocolVersion)
		ps.reply(transport.NewError(msg.ID, transport.CodeInvalidParams,
			fmt.Sprintf("protocol version mismatch: %s != %s", params.ProtocolVersion, transport.ProtocolVersion),
			map[string]any{"supported": transport.ProtocolVersion}))
		return
	}

	res := transport.InitializeResult{
		ProtocolVersion: transport.ProtocolVersion,
		Capabilities:    transport.Capabilities{Tools: &transport.ToolsCapability{}},
		ServerInfo:      ps.info,
		Instructions:    ps.instructions,
	}

	reply, err := transport.NewResult(msg.ID, res)
	if err != nil {
		ps.logger.Error("server.initialize.marshal_failed", "error", err)
		return
	}

	ps.logger.Info("server.session.handshake",
		"session_id", ps.sess.ID(), "client", params.ClientInfo.Name, "client_version", params.ClientInfo.Version)
	ps.reply(reply)
}

func (ps *protocolSession) handleListTools(msg transport.Message) {
	tools := ps.dispatcher.Registry().List()

	res := transport.ListToolsResult{Tools: make([]transport.ToolDescriptor, 0, len(tools))}
	for _, tl := range tools {
		res.Tools = append(res.Tools, transport.ToolDescriptor{
			Name:         tl.Name(),
			Description:  tl.Description(),
			InputSchema:  tl.InputSchema(),
			OutputSchema: tl.OutputSchema(),
		})
	}

	reply, err := transport.NewResult(msg.ID, res)
	if err != nil {
		ps.logger.Error("server.tools_list.marshal_failed", "error", err)
		ps.reply(transport.NewError(msg.ID, transport.CodeInternalError, "failed to marshal tool list", nil))
		return
	}

	ps.reply(reply)
}

func (ps *protocolSession) handleCallTool(ctx context.Context, msg transport.Message) {
	var params transport.CallToolParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		ps.reply(transport.NewError(msg.ID, transport.CodeInvalidParams,
			fmt.Sprintf("failed to unmarshal params: %v", err), nil))
		return
	}

	sessionID := params.SessionID
	if sessionID == "" {
		sessionID = ps.sess.ID()
	}

	// The wire correlation id doubles as the dispatch request id so log
	// lines on both layers line up.
	req := core.Request{
		ID:        string(msg.ID),
		SessionID: sessionID,
		ToolName:  params.Name,
		Arguments: params.Arguments,
	}

	resp := ps.dispatcher.Dispatch(ctx, req)

	reply, err := transport.NewResult(msg.ID, callToolResult(resp))
	if err != nil {
		ps.logger.Error("server.tools_call.marshal_failed", "error", err)
		ps.reply(transport.NewError(msg.ID, transport.CodeInternalError, "failed to marshal tool result", nil))
		return
	}

	ps.reply(reply)
}

func (ps *protocolSession) handleSessionEnd(ctx context.Context, msg transport.Message) {
	var params transport.SessionEndParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			ps.reply(transport.NewError(msg.ID, transport.CodeInvalidParams,
				fmt.Sprintf("failed to unmarshal params: %v", err), nil))
			return
		}
	}

	sessionID := params.SessionID
	if sessionID == "" {
		sessionID = ps.sess.ID()
	}

	if err := ps.dispatcher.Store().Evict(ctx, sessionID); err != nil {
		ps.logger.Error("server.session_end.evict_failed", "session_id", sessionID, "error", err)
		ps.reply(transport.NewError(msg.ID, transport.CodeInternalError, "failed to end session", nil))
		return
	}

	ps.logger.Info("server.session.ended", "session_id", sessionID)

	reply, err := transport.NewResult(msg.ID, struct{}{})
	if err != nil {
		ps.logger.Error("server.session_end.marshal_failed", "error", err)
		return
	}
	ps.reply(reply)

	// Ending the connection's own session closes the connection; ending a
	// multiplexed logical session leaves it open.
	if sessionID == ps.sess.ID() {
		ps.end()
	}
}

// callToolResult translates a dispatch response into the wire result. Tool
// level failures ride inside the result with IsError set; only transport and
// protocol problems become JSON-RPC errors.
func callToolResult(resp core.Response) transport.CallToolResult {
	if resp.Status == core.StatusOK {
		text, err := json.Marshal(resp.Result)
		if err != nil {
			text = []byte("{}")
		}
		return transport.CallToolResult{
			Content:    []transport.Content{{Type: transport.ContentTypeText, Text: string(text)}},
			Structured: resp.Result,
		}
	}

	message := "tool call failed"
	if resp.ErrorDetail != nil && resp.ErrorDetail.Message != "" {
		message = resp.ErrorDetail.Message
	}

	return transport.CallToolResult{
		Content:     []transport.Content{{Type: transport.ContentTypeText, Text: message}},
		ErrorDetail: resp.ErrorDetail,
		IsError:     true,
	}
}

func (ps *protocolSession) reply(msg transport.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), ps.sendTimeout)
	defer cancel()

	if err := ps.sess.Send(ctx, msg); err != nil {
		ps.logger.Error("server.reply.send_failed", "session_id", ps.sess.ID(), "error", err)
	}
}

func (ps *protocolSession) trackCancel(id transport.RequestID, cancel context.CancelFunc) {
	ps.cancelsMu.Lock()
	defer ps.cancelsMu.Unlock()
	ps.cancels[id] = cancel
}

// untrackCancel removes and releases the request's cancel func once the
// handler finishes, so the map does not grow with the session's lifetime.
func (ps *protocolSession) untrackCancel(id transport.RequestID) {
	ps.cancelsMu.Lock()
	cancel, ok := ps.cancels[id]
	delete(ps.cancels, id)
	ps.cancelsMu.Unlock()

	if ok {
		cancel()
	}
}

func (ps *protocolSession) cancelInflight(id transport.RequestID, reason string) {
	ps.cancelsMu.Lock()
	cancel, ok := ps.cancels[id]
	ps.cancelsMu.Unlock()

	if !ok {
		return
	}

	ps.logger.Info("server.request.cancelled", "session_id", ps.sess.ID(), "request_id", string(id), "reason", reason)
	cancel()
}

// ping keeps the session alive and closes it after too many unanswered
// pings. Any client response id resets the failure counter when it matches
// the outstanding ping.
func (ps *protocolSession) ping(done <-chan struct{}) {
	ticker := time.NewTicker(ps.pingInterval)
	defer ticker.Stop()

	failures := 0
	var outstanding transport.RequestID

	for {
		if failures > ps.pingFailureThreshold {
			ps.logger.Warn("server.ping.threshold_exceeded", "session_id", ps.sess.ID())
			ps.end()
			return
		}

		select {
		case <-done:
			return
		case <-ps.ended:
			return
		case id := <-ps.pongs:
			if id == outstanding {
				failures = 0
			}
			continue
		case <-ticker.C:
		}

		outstanding = transport.RequestID(uuid.NewString())

		req, err := transport.NewRequest(outstanding, transport.MethodPing, nil)
		if err != nil {
			ps.logger.Error("server.ping.marshal_failed", "error", err)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), ps.sendTimeout)
		if err := ps.sess.Send(ctx, req); err != nil {
			ps.logger.Warn("server.ping.send_failed", "session_id", ps.sess.ID(), "error", err)
		}
		cancel()

		// Counts as failed until the matching pong arrives.
		failures++
	}
}
