package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"

	"github.com/google/uuid"
	gosse "github.com/tmaxmax/go-sse"

	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/transport"
)

// ServerOptions configures an SSE server transport.
type ServerOptions struct {
	// Logger receives connection and delivery failures. Defaults to a no-op
	// logger.
	Logger logging.Logger
}

// Server is the HTTP Server-Sent Events server transport. Server-to-client
// messages stream over an SSE connection opened with HandleSSE; client-to-
// server messages arrive as POST requests on HandleMessage. Both handlers
// are plain http.Handlers so they mount on any mux.
//
// On connect the server emits an "endpoint" event carrying the POST URL for
// that session; every subsequent message travels as a "message" event.
type Server struct {
	messageURL string
	logger     logging.Logger

	sessions chan *serverSession
	removed  chan string
	received chan inbound

	done   chan struct{}
	closed chan struct{}
}

type inbound struct {
	sessionID string
	msg       transport.Message
}

// NewServer creates an SSE server transport. messageURL is the externally
// reachable URL of the HandleMessage endpoint; the per-session endpoint
// advertised to clients appends a sessionID query parameter to it.
func NewServer(messageURL string, optFns ...func(o *ServerOptions)) *Server {
	opts := ServerOptions{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Server{
		messageURL: messageURL,
		logger:     opts.Logger,
		sessions:   make(chan *serverSession, 5),
		removed:    make(chan string),
		received:   make(chan inbound),
		done:       make(chan struct{}),
		closed:     make(chan struct{}),
	}
}

// Sessions yields a session per connected client and routes POSTed messages
// to the session they address.
func (s *Server) Sessions() iter.Seq[transport.Session] {
	return func(yield func(transport.Session) bool) {
		defer close(s.closed)

		// Active sessions by id, for routing inbound messages.
		active := make(map[string]*serverSession)

		for {
			select {
			case <-s.done:
				return
			case sess := <-s.sessions:
				go sess.processSends()
				active[sess.id] = sess

				if !yield(sess) {
					return
				}
			case id := <-s.removed:
				delete(active, id)
			case in := <-s.received:
				sess, ok := active[in.sessionID]
				if !ok {
					// The session may have disconnected between the POST
					// arriving and this loop seeing it.
					s.logger.Debug("transport.sse.unroutable_message", "session_id", in.sessionID)
					continue
				}

				select {
				case <-s.done:
					return
				case sess.receivedMsgs <- in.msg:
				}
			}
		}
	}
}

// Shutdown stops the routing loop and waits for it to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.done)

	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to shut down SSE transport: %w", ctx.Err())
	case <-s.closed:
		return nil
	}
}

// HandleSSE returns the GET handler that upgrades a connection to an SSE
// stream. The handler blocks for the lifetime of the session.
func (s *Server) HandleSSE() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stream, err := gosse.Upgrade(w, r)
		if err != nil {
			s.logger.Error("transport.sse.upgrade_failed", "error", err)
			http.Error(w, "failed to upgrade to an SSE stream", http.StatusInternalServerError)
			return
		}

		sessionID := uuid.NewString()

		// Tell the client where to POST its messages for this session.
		endpoint := fmt.Sprintf("%s?sessionID=%s", s.messageURL, sessionID)

		ev := &gosse.Message{Type: gosse.Type("endpoint")}
		ev.AppendData(endpoint)
		if err := stream.Send(ev); err != nil {
			s.logger.Error("transport.sse.endpoint_send_failed", "error", err)
			return
		}
		if err := stream.Flush(); err != nil {
			s.logger.Error("transport.sse.endpoint_flush_failed", "error", err)
			return
		}

		sess := &serverSession{
			id:           sessionID,
			stream:       stream,
			logger:       s.logger,
			sendMsgs:     make(chan outboundEvent, 5),
			receivedMsgs: make(chan transport.Message, 5),
			done:         make(chan struct{}),
			sendClosed:   make(chan struct{}),
		}

		select {
		case s.sessions <- sess:
		case <-s.done:
			return
		}

		s.logger.Info("transport.sse.session_connected", "session_id", sessionID)

		// Keep the handler, and with it the HTTP connection, open until the
		// session stops. sendClosed closes only after done, and the send
		// loop is the sole writer to the stream, so waiting on it is enough.
		<-sess.sendClosed

		select {
		case s.removed <- sessionID:
		case <-s.done:
		}

		s.logger.Info("transport.sse.session_disconnected", "session_id", sessionID)
	})
}

// HandleMessage returns the POST handler that accepts client messages. It
// expects a sessionID query parameter and a JSON-encoded message body.
func (s *Server) HandleMessage() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("sessionID")
		if sessionID == "" {
			http.Error(w, "missing sessionID query parameter", http.StatusBadRequest)
			return
		}

		var msg transport.Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			s.logger.Warn("transport.sse.invalid_body", "session_id", sessionID, "error", err)
			http.Error(w, "failed to decode message", http.StatusBadRequest)
			return
		}

		select {
		case <-s.done:
			http.Error(w, "transport is shutting down", http.StatusServiceUnavailable)
		case s.received <- inbound{sessionID: sessionID, msg: msg}:
		}
	})
}

type outboundEvent struct {
	ev   *gosse.Message
	errs chan error
}

type serverSession struct {
	id     string
	stream *gosse.Session
	logger logging.Logger

	sendMsgs     chan outboundEvent
	receivedMsgs chan transport.Message

	done       chan struct{}
	sendClosed chan struct{}
}

func (s *serverSession) ID() string {
	return s.id
}

func (s *serverSession) Send(ctx context.Context, msg transport.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	ev := &gosse.Message{Type: gosse.Type("message")}
	ev.AppendData(string(payload))

	out := outboundEvent{ev: ev, errs: make(chan error, 1)}

	// All sends funnel through processSends, one writer per stream.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return fmt.Errorf("session %s is closed", s.id)
	case s.sendMsgs <- out:
	}

	select {
	case err := <-out.errs:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return fmt.Errorf("session %s is closed", s.id)
	}
}

func (s *serverSession) Messages() iter.Seq[transport.Message] {
	return func(yield func(transport.Message) bool) {
		for {
			select {
			case <-s.done:
				return
			case msg := <-s.receivedMsgs:
				if !yield(msg) {
					return
				}
			}
		}
	}
}

func (s *serverSession) Stop() {
	close(s.done)
	<-s.sendClosed
}

func (s *serverSession) processSends() {
	defer close(s.sendClosed)

	for {
		select {
		case <-s.done:
			return
		case out := <-s.sendMsgs:
			if err := s.stream.Send(out.ev); err != nil {
				s.logger.Warn("transport.sse.send_failed", "session_id", s.id, "error", err)
				out.errs <- err
				continue
			}
			if err := s.stream.Flush(); err != nil {
				s.logger.Warn("transport.sse.flush_failed", "session_id", s.id, "error", err)
				out.errs <- err
				continue
			}
			out.errs <- nil
		}
	}
}
