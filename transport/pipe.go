package transport

import (
	"context"
	"errors"
	"iter"
	"sync"

	"github.com/google/uuid"
)

// ErrPipeClosed is returned by Send on a stopped pipe session.
var ErrPipeClosed = errors.New("pipe session is closed")

// Pipe is an in-process transport connecting a client and a server through
// channels, with no serialization boundary beyond the Message struct itself.
// It backs embedded setups and tests where spawning a real wire would only
// add noise. Like StdIO it carries a single session.
type Pipe struct {
	id       string
	toServer chan Message
	toClient chan Message
	done     chan struct{}
	closed   chan struct{}
	stop     *sync.Once
}

// NewPipe creates a connected in-process transport pair. Use the Pipe as the
// ServerTransport and as the ClientTransport of the same connection.
func NewPipe() *Pipe {
	return &Pipe{
		id:       uuid.NewString(),
		toServer: make(chan Message, 16),
		toClient: make(chan Message, 16),
		done:     make(chan struct{}),
		closed:   make(chan struct{}),
		stop:     &sync.Once{},
	}
}

// Sessions yields the server side of the pipe and blocks until it stops.
func (p *Pipe) Sessions() iter.Seq[Session] {
	return func(yield func(Session) bool) {
		defer close(p.closed)

		if !yield(&pipeSession{id: p.id, in: p.toServer, out: p.toClient, done: p.done, stop: p.stop}) {
			return
		}
		<-p.done
	}
}

// Shutdown waits for the Sessions iteration to end.
func (p *Pipe) Shutdown(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.closed:
		return nil
	}
}

// StartSession returns the client side of the pipe.
func (p *Pipe) StartSession(_ context.Context) (Session, error) {
	return &pipeSession{id: p.id, in: p.toClient, out: p.toServer, done: p.done, stop: p.stop}, nil
}

type pipeSession struct {
	id   string
	in   chan Message
	out  chan Message
	done chan struct{}
	stop *sync.Once
}

func (s *pipeSession) ID() string {
	return s.id
}

func (s *pipeSession) Send(ctx context.Context, msg Message) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrPipeClosed
	case s.out <- msg:
		return nil
	}
}

func (s *pipeSession) Messages() iter.Seq[Message] {
	return func(yield func(Message) bool) {
		for {
			// Drain pending messages before honoring done, so a reply
			// queued just before Stop still reaches the other side.
			select {
			case msg := <-s.in:
				if !yield(msg) {
					return
				}
				continue
			default:
			}

			select {
			case <-s.done:
				return
			case msg := <-s.in:
				if !yield(msg) {
					return
				}
			}
		}
	}
}

// Stop closes both directions. Either side may stop first; the shared once
// makes the second call a no-op.
func (s *pipeSession) Stop() {
	s.stop.Do(func() {
		close(s.done)
	})
}
