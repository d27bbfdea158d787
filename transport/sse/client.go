package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"
	gosse "github.com/tmaxmax/go-sse"

	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/transport"
)

// ClientOptions configures an SSE client transport.
type ClientOptions struct {
	// HTTPClient performs the stream GET and message POSTs. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client

	// MaxEventSize caps the size of a single received event in bytes.
	// Zero means the go-sse default.
	MaxEventSize int

	// Logger receives stream read failures. Defaults to a no-op logger.
	Logger logging.Logger
}

// Client is the HTTP Server-Sent Events client transport. It opens the
// stream with a GET to the connect URL, waits for the server's "endpoint"
// event, and then POSTs outgoing messages to the advertised endpoint. A
// relative endpoint is resolved against the connect URL.
type Client struct {
	connectURL   string
	httpClient   *http.Client
	maxEventSize int
	logger       logging.Logger
}

// NewClient creates an SSE client transport for the given connect URL.
func NewClient(connectURL string, optFns ...func(o *ClientOptions)) *Client {
	opts := ClientOptions{
		HTTPClient: http.DefaultClient,
		Logger:     logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Client{
		connectURL:   connectURL,
		httpClient:   opts.HTTPClient,
		maxEventSize: opts.MaxEventSize,
		logger:       opts.Logger,
	}
}

// StartSession connects to the server and blocks until the endpoint event
// arrives, so the returned session can send immediately. The given context
// bounds the handshake; the stream itself lives until Stop.
func (c *Client) StartSession(ctx context.Context) (transport.Session, error) {
	base, err := url.Parse(c.connectURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connect URL: %w", err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.connectURL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req) //nolint:bodyclose // closed by the stream reader
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect to SSE server: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("unexpected status code %d from SSE server", resp.StatusCode)
	}

	sess := &clientSession{
		base:       base,
		httpClient: c.httpClient,
		logger:     c.logger,
		messages:   make(chan transport.Message),
		done:       make(chan struct{}),
		cancel:     cancel,
	}

	ready := make(chan error, 1)
	go sess.readStream(resp.Body, c.maxEventSize, ready)

	select {
	case err := <-ready:
		if err != nil {
			sess.Stop()
			return nil, err
		}
	case <-ctx.Done():
		sess.Stop()
		return nil, ctx.Err()
	}

	return sess, nil
}

type clientSession struct {
	id         string
	base       *url.URL
	messageURL string
	httpClient *http.Client
	logger     logging.Logger

	messages chan transport.Message
	done     chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
}

func (s *clientSession) ID() string {
	return s.id
}

// Send POSTs one message to the session's endpoint.
func (s *clientSession) Send(ctx context.Context, msg transport.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.messageURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create message request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code %d from message endpoint", resp.StatusCode)
	}

	return nil
}

func (s *clientSession) Messages() iter.Seq[transport.Message] {
	return func(yield func(transport.Message) bool) {
		for {
			select {
			case <-s.done:
				return
			case msg, ok := <-s.messages:
				if !ok {
					return
				}
				if !yield(msg) {
					return
				}
			}
		}
	}
}

// Stop closes the stream. Safe to call more than once.
func (s *clientSession) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.cancel()
	})
}

// readStream consumes the SSE stream. The first "endpoint" event resolves
// the ready channel; every "message" event is forwarded to Messages.
func (s *clientSession) readStream(body io.ReadCloser, maxEventSize int, ready chan<- error) {
	defer func() {
		body.Close()
		close(s.messages)

		// If the stream ended before the endpoint event, unblock the
		// handshake. The buffered channel makes this a no-op otherwise.
		select {
		case ready <- errors.New("stream ended before the endpoint event"):
		default:
		}
	}()

	var cfg *gosse.ReadConfig
	if maxEventSize > 0 {
		cfg = &gosse.ReadConfig{MaxEventSize: maxEventSize}
	}

	for ev, err := range gosse.Read(body, cfg) {
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				s.logger.Error("transport.sse.stream_read_failed", "error", err)
			}
			return
		}

		switch ev.Type {
		case "endpoint":
			u, err := url.Parse(ev.Data)
			if err != nil {
				ready <- fmt.Errorf("failed to parse endpoint URL: %w", err)
				return
			}
			if u.String() == "" {
				ready <- errors.New("server advertised an empty endpoint URL")
				return
			}

			if s.base != nil {
				u = s.base.ResolveReference(u)
			}
			s.messageURL = u.String()

			// Both ends share the session id the server put into the
			// endpoint URL.
			if id := u.Query().Get("sessionID"); id != "" {
				s.id = id
			} else {
				s.id = uuid.NewString()
			}

			ready <- nil
		case "message":
			if s.messageURL == "" {
				s.logger.Warn("transport.sse.message_before_endpoint")
				continue
			}

			var msg transport.Message
			if err := json.Unmarshal([]byte(ev.Data), &msg); err != nil {
				s.logger.Warn("transport.sse.invalid_event", "error", err)
				continue
			}

			select {
			case <-s.done:
				return
			case s.messages <- msg:
			}
		default:
			s.logger.Warn("transport.sse.unhandled_event", "type", ev.Type)
		}
	}
}
