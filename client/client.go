package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/transport"
)

var (
	// ErrNotConnected is returned when an operation requires a connected
	// client, before Connect succeeded or after the session went away.
	ErrNotConnected = errors.New("client is not connected")

	// ErrClosed is returned for requests that were in flight or issued while
	// the session was shutting down.
	ErrClosed = errors.New("client session is closed")
)

// Options configures a Client instance.
type Options struct {
	// Info identifies this client during the handshake.
	Info transport.Info

	// Logger receives structured client events. Defaults to a no-op logger.
	Logger logging.Logger

	// RequestTimeout bounds how long a request waits for its response.
	RequestTimeout time.Duration

	// SendTimeout bounds a single transport write.
	SendTimeout time.Duration

	// PingInterval sets the keepalive cadence. Zero disables keepalive.
	PingInterval time.Duration

	// PingFailureThreshold is the number of consecutive failed pings after
	// which the client closes the session.
	PingFailureThreshold int
}

// DefaultOptions provides production-ready client defaults.
var DefaultOptions = Options{
	Info:                 transport.Info{Name: "toolmesh-client", Version: "0.1.0"},
	RequestTimeout:       30 * time.Second,
	SendTimeout:          30 * time.Second,
	PingInterval:         30 * time.Second,
	PingFailureThreshold: 3,
}

// WithInfo sets the client identity sent during the handshake.
func WithInfo(info transport.Info) func(o *Options) {
	return func(o *Options) { o.Info = info }
}

// WithLogger sets the structured logger.
func WithLogger(logger logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = logger }
}

// WithRequestTimeout overrides the per-request response timeout.
func WithRequestTimeout(d time.Duration) func(o *Options) {
	return func(o *Options) { o.RequestTimeout = d }
}

// WithPingInterval overrides the keepalive cadence. Zero disables keepalive.
func WithPingInterval(d time.Duration) func(o *Options) {
	return func(o *Options) { o.PingInterval = d }
}

// Client speaks the protocol over a transport session: handshake, tool
// listing, tool calls and session control. A Client connects once; create a
// new one to reconnect.
//
// Concurrency model:
//   - Requests carry a fresh correlation id and wait on a per-request channel,
//     so any number of goroutines may issue requests concurrently.
//   - A background listener routes responses and answers server pings.
//   - When the session ends, every in-flight request fails with ErrClosed.
type Client struct {
	transport transport.ClientTransport
	info      transport.Info
	logger    logging.Logger

	requestTimeout       time.Duration
	sendTimeout          time.Duration
	pingInterval         time.Duration
	pingFailureThreshold int

	mu           sync.Mutex
	sess         transport.Session
	pending      map[transport.RequestID]chan transport.Message
	connected    bool
	serverInfo   transport.Info
	instructions string

	done     chan struct{}
	doneOnce sync.Once
}

// New creates a Client over the given transport.
//
// Example:
//
//	c := client.New(transport.NewStdIO(stdout, stdin))
//	if err := c.Connect(ctx); err != nil { ... }
//	defer c.Close()
func New(tr transport.ClientTransport, optFns ...func(o *Options)) *Client {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultOptions.RequestTimeout
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultOptions.SendTimeout
	}
	if opts.PingFailureThreshold <= 0 {
		opts.PingFailureThreshold = DefaultOptions.PingFailureThreshold
	}

	return &Client{
		transport:            tr,
		info:                 opts.Info,
		logger:               opts.Logger,
		requestTimeout:       opts.RequestTimeout,
		sendTimeout:          opts.SendTimeout,
		pingInterval:         opts.PingInterval,
		pingFailureThreshold: opts.PingFailureThreshold,
		done:                 make(chan struct{}),
	}
}

// Connect starts the transport session and performs the protocol handshake:
// an initialize request, a protocol version check and the initialized
// notification. It returns once the server accepted the session.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.sess != nil {
		c.mu.Unlock()
		return errors.New("client is already connected")
	}
	c.mu.Unlock()

	sess, err := c.transport.StartSession(ctx)
	if err != nil {
		return fmt.Errorf("failed to start transport session: %w", err)
	}

	c.mu.Lock()
	c.sess = sess
	c.pending = make(map[transport.RequestID]chan transport.Message)
	c.mu.Unlock()

	go c.listen(sess)

	resp, err := c.request(ctx, transport.MethodInitialize, transport.InitializeParams{
		ProtocolVersion: transport.ProtocolVersion,
		ClientInfo:      c.info,
	})
	if err != nil {
		c.Close()
		return fmt.Errorf("initialize request failed: %w", err)
	}
	if resp.Error != nil {
		c.Close()
		return fmt.Errorf("initialize rejected: %w", resp.Error)
	}

	var result transport.InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		c.Close()
		return fmt.Errorf("failed to unmarshal initialize result: %w", err)
	}
	if result.ProtocolVersion != transport.ProtocolVersion {
		c.Close()
		return fmt.Errorf("protocol version mismatch: %s != %s", result.ProtocolVersion, transport.ProtocolVersion)
	}

	note, err := transport.NewNotification(transport.NotificationInitialized, nil)
	if err != nil {
		c.Close()
		return err
	}
	if err := c.send(ctx, note); err != nil {
		c.Close()
		return fmt.Errorf("failed to send initialized notification: %w", err)
	}

	c.mu.Lock()
	c.connected = true
	c.serverInfo = result.ServerInfo
	c.instructions = result.Instructions
	c.mu.Unlock()

	c.logger.Info("client.session.connected",
		"session_id", sess.ID(),
		"server", result.ServerInfo.Name,
		"server_version", result.ServerInfo.Version,
	)

	if c.pingInterval > 0 {
		go c.keepalive()
	}

	return nil
}

// Close stops the transport session. In-flight requests fail with ErrClosed.
func (c *Client) Close() {
	c.doneOnce.Do(func() { close(c.done) })

	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()

	if sess != nil {
		sess.Stop()
	}
}

// SessionID returns the transport session id, which the server uses as the
// default dispatch session key. Empty before Connect.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.ID()
}

// ServerInfo returns the identity the server reported during the handshake.
func (c *Client) ServerInfo() transport.Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// Instructions returns the usage instructions the server reported during the
// handshake, if any.
func (c *Client) Instructions() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instructions
}

// ListTools retrieves the server's tool catalog.
func (c *Client) ListTools(ctx context.Context) ([]transport.ToolDescriptor, error) {
	if !c.isConnected() {
		return nil, ErrNotConnected
	}

	resp, err := c.request(ctx, transport.MethodToolsList, nil)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("tools/list failed: %w", resp.Error)
	}

	var result transport.ListToolsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tool list: %w", err)
	}
	return result.Tools, nil
}

// CallTool invokes a tool on the server and returns the wire result. A tool
// level failure arrives as a result with IsError set and a populated
// ErrorDetail, not as an error return; the error return covers transport and
// protocol problems only.
func (c *Client) CallTool(ctx context.Context, params transport.CallToolParams) (transport.CallToolResult, error) {
	if !c.isConnected() {
		return transport.CallToolResult{}, ErrNotConnected
	}

	resp, err := c.request(ctx, transport.MethodToolsCall, params)
	if err != nil {
		return transport.CallToolResult{}, err
	}
	if resp.Error != nil {
		return transport.CallToolResult{}, fmt.Errorf("tools/call failed: %w", resp.Error)
	}

	var result transport.CallToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return transport.CallToolResult{}, fmt.Errorf("failed to unmarshal tool result: %w", err)
	}
	return result, nil
}

// EndSession asks the server to evict a session context. An empty sessionID
// ends the connection's own session, which also closes the connection.
func (c *Client) EndSession(ctx context.Context, sessionID string) error {
	if !c.isConnected() {
		return ErrNotConnected
	}

	var params any
	if sessionID != "" {
		params = transport.SessionEndParams{SessionID: sessionID}
	}

	resp, err := c.request(ctx, transport.MethodSessionEnd, params)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("session/end failed: %w", resp.Error)
	}
	return nil
}

// Ping checks that the server is responsive.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.request(ctx, transport.MethodPing, nil)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("ping failed: %w", resp.Error)
	}
	return nil
}

func (c *Client) isConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// request sends one request and waits for the matching response.
func (c *Client) request(ctx context.Context, method string, params any) (transport.Message, error) {
	id := transport.RequestID(uuid.NewString())

	msg, err := transport.NewRequest(id, method, params)
	if err != nil {
		return transport.Message{}, err
	}

	ch, err := c.register(id)
	if err != nil {
		return transport.Message{}, err
	}
	defer c.unregister(id)

	if err := c.send(ctx, msg); err != nil {
		return transport.Message{}, err
	}

	timer := time.NewTimer(c.requestTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		c.cancelRequest(id)
		return transport.Message{}, ctx.Err()
	case <-timer.C:
		c.cancelRequest(id)
		return transport.Message{}, fmt.Errorf("%s request timed out after %s", method, c.requestTimeout)
	case resp, ok := <-ch:
		if !ok {
			return transport.Message{}, ErrClosed
		}
		return resp, nil
	}
}

func (c *Client) register(id transport.RequestID) (chan transport.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess == nil {
		return nil, ErrNotConnected
	}
	if c.pending == nil {
		return nil, ErrClosed
	}

	ch := make(chan transport.Message, 1)
	c.pending[id] = ch
	return ch, nil
}

func (c *Client) unregister(id transport.RequestID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

func (c *Client) send(ctx context.Context, msg transport.Message) error {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()

	if sess == nil {
		return ErrNotConnected
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()

	return sess.Send(sendCtx, msg)
}

// cancelRequest tells the server to abandon an in-flight request.
// Best-effort: the request already failed locally.
func (c *Client) cancelRequest(id transport.RequestID) {
	note, err := transport.NewNotification(transport.NotificationCancelled, transport.CancelledParams{
		RequestID: id,
		Reason:    "client cancelled the request",
	})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.sendTimeout)
	defer cancel()

	if err := c.send(ctx, note); err != nil {
		c.logger.Warn("client.cancel.send_failed", "request_id", string(id), "error", err.Error())
	}
}

// listen routes incoming messages until the session ends: responses go to
// their waiting requests, server pings get answered, everything else is
// logged and dropped.
func (c *Client) listen(sess transport.Session) {
	defer c.failPending()

	for msg := range sess.Messages() {
		if msg.JSONRPC != transport.Version {
			c.logger.Warn("client.message.invalid_version", "jsonrpc", msg.JSONRPC)
			continue
		}

		switch msg.Method {
		case transport.MethodPing:
			go c.answerPing(msg.ID)

		case "":
			c.route(msg)

		default:
			c.logger.Warn("client.message.unhandled_method", "method", msg.Method)
		}
	}
}

// failPending closes every waiter and marks the client dead so late
// registrations fail fast instead of hanging.
func (c *Client) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pending = nil
	c.connected = false

	c.logger.Info("client.session.disconnected")
}

func (c *Client) route(msg transport.Message) {
	c.mu.Lock()
	ch, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("client.message.unmatched_response", "id", string(msg.ID))
		return
	}

	ch <- msg
}

func (c *Client) answerPing(id transport.RequestID) {
	pong, err := transport.NewResult(id, struct{}{})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.sendTimeout)
	defer cancel()

	if err := c.send(ctx, pong); err != nil {
		c.logger.Warn("client.pong.send_failed", "error", err.Error())
	}
}

// keepalive pings the server on a fixed cadence and closes the session after
// too many consecutive failures.
func (c *Client) keepalive() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	failures := 0

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout)
		err := c.Ping(ctx)
		cancel()

		if err == nil {
			failures = 0
			continue
		}
		if errors.Is(err, ErrClosed) || errors.Is(err, ErrNotConnected) {
			return
		}

		failures++
		c.logger.Warn("client.ping.failed", "failures", failures, "error", err.Error())

		if failures > c.pingFailureThreshold {
			c.logger.Warn("client.ping.threshold_exceeded", "failures", failures)
			c.Close()
			return
		}
	}
}
