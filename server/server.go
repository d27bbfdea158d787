package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/toolmesh/dispatch"
	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/transport"
)

// Options configures a Server.
type Options struct {
	// Info identifies this server during the initialize handshake.
	Info transport.Info

	// Instructions is an optional free-form hint sent to clients on
	// initialize, typically describing what the registered tools are for.
	Instructions string

	// Logger receives protocol events. Defaults to a no-op logger.
	Logger logging.Logger

	// PingInterval is how often the server pings idle clients. Zero
	// disables server-initiated pings.
	PingInterval time.Duration

	// PingFailureThreshold is the number of consecutive unanswered pings
	// after which the session is closed.
	PingFailureThreshold int

	// SendTimeout bounds every outgoing message.
	SendTimeout time.Duration
}

// DefaultOptions are the options Serve starts from.
var DefaultOptions = Options{
	Info:                 transport.Info{Name: "toolmesh", Version: "0.1.0"},
	PingInterval:         30 * time.Second,
	PingFailureThreshold: 3,
	SendTimeout:          30 * time.Second,
}

// WithInfo sets the server identity sent during the handshake.
func WithInfo(info transport.Info) func(o *Options) {
	return func(o *Options) {
		o.Info = info
	}
}

// WithInstructions sets the instructions string sent on initialize.
func WithInstructions(instructions string) func(o *Options) {
	return func(o *Options) {
		o.Instructions = instructions
	}
}

// WithLogger sets the protocol logger.
func WithLogger(logger logging.Logger) func(o *Options) {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithPingInterval sets the keepalive interval. Zero disables pings.
func WithPingInterval(interval time.Duration) func(o *Options) {
	return func(o *Options) {
		o.PingInterval = interval
	}
}

// WithSendTimeout bounds outgoing sends.
func WithSendTimeout(timeout time.Duration) func(o *Options) {
	return func(o *Options) {
		o.SendTimeout = timeout
	}
}

// Server speaks the tool protocol over a ServerTransport and routes every
// tools/call through a Dispatcher. Each transport session runs its own
// protocol loop; sessions are independent and a failure in one never
// affects another.
type Server struct {
	info         transport.Info
	instructions string

	dispatcher *dispatch.Dispatcher
	transport  transport.ServerTransport
	logger     logging.Logger

	pingInterval         time.Duration
	pingFailureThreshold int
	sendTimeout          time.Duration

	sessionsWG sync.WaitGroup
	done       chan struct{}
}

// New creates a Server on top of a dispatcher and a server transport.
func New(dispatcher *dispatch.Dispatcher, tr transport.ServerTransport, optFns ...func(o *Options)) *Server {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.PingFailureThreshold <= 0 {
		opts.PingFailureThreshold = DefaultOptions.PingFailureThreshold
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultOptions.SendTimeout
	}

	return &Server{
		info:                 opts.Info,
		instructions:         opts.Instructions,
		dispatcher:           dispatcher,
		transport:            tr,
		logger:               opts.Logger,
		pingInterval:         opts.PingInterval,
		pingFailureThreshold: opts.PingFailureThreshold,
		sendTimeout:          opts.SendTimeout,
		done:                 make(chan struct{}),
	}
}

// Serve accepts transport sessions and runs a protocol loop for each. It
// blocks until the transport's Sessions iteration ends, which happens after
// Shutdown.
func (s *Server) Serve() {
	for sess := range s.transport.Sessions() {
		ps := &protocolSession{
			sess:                 sess,
			dispatcher:           s.dispatcher,
			logger:               s.logger,
			info:                 s.info,
			instructions:         s.instructions,
			pingInterval:         s.pingInterval,
			pingFailureThreshold: s.pingFailureThreshold,
			sendTimeout:          s.sendTimeout,
			cancels:              make(map[transport.RequestID]context.CancelFunc),
			pongs:                make(chan transport.RequestID, 10),
			ended:                make(chan struct{}),
		}

		s.sessionsWG.Add(1)

		go func() {
			defer s.sessionsWG.Done()

			s.logger.Info("server.session.connected", "session_id", sess.ID())
			ps.run(s.done)
			s.logger.Info("server.session.disconnected", "session_id", sess.ID())
		}()
	}
}

// Shutdown stops all sessions, waits for their protocol loops to finish and
// shuts the transport down.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.done)

	s.sessionsWG.Wait()

	if err := s.transport.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down transport: %w", err)
	}

	return nil
}
