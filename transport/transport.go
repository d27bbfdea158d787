package transport

import (
	"context"
	"iter"
)

// ServerTransport is the server-side wire channel. Implementations accept
// client connections and surface each one as a Session.
type ServerTransport interface {
	// Sessions yields client sessions as they connect. Every yielded session
	// has an id unique among active sessions. The iteration ends when
	// Shutdown is called. Implementations must not stop yielded sessions
	// themselves; the consumer owns their lifecycle.
	Sessions() iter.Seq[Session]

	// Shutdown releases transport resources and ends the Sessions iteration.
	// It is called at most once.
	Shutdown(ctx context.Context) error
}

// ClientTransport is the client-side wire channel.
type ClientTransport interface {
	// StartSession opens a session to the server. The returned session is
	// ready for Send and Messages immediately.
	StartSession(ctx context.Context) (Session, error)
}

// Session is one bidirectional message channel between a client and the
// server. Both sides hold a Session; each sees the other's sends in its
// Messages iteration.
type Session interface {
	// ID returns the session's unique identifier. The server uses it as the
	// default dispatch session key, so it must be stable for the lifetime of
	// the connection.
	ID() string

	// Send transmits one message to the other party.
	Send(ctx context.Context, msg Message) error

	// Messages yields messages received from the other party. The iteration
	// ends when the session stops or the underlying channel closes.
	Messages() iter.Seq[Message]

	// Stop closes the session. The owner calls it exactly once; it is safe
	// for the other side of an in-process pair to have stopped first.
	Stop()
}
