package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/google/uuid"

	"github.com/hupe1980/toolmesh/logging"
)

// StdIOOptions configures a StdIO transport.
type StdIOOptions struct {
	// Logger receives read and write failures. Defaults to a no-op logger.
	Logger logging.Logger
}

// StdIO carries newline-delimited JSON messages over an io.Reader/io.Writer
// pair, typically stdin and stdout. It exposes a single persistent session
// and serves as either end of the connection: Sessions for the server side,
// StartSession for the client side.
type StdIO struct {
	sess   *stdioSession
	closed chan struct{}
}

type stdioSession struct {
	id     string
	reader io.Reader
	writer io.Writer
	logger logging.Logger

	writes      chan outgoing
	done        chan struct{}
	readClosed  chan struct{}
	writeClosed chan struct{}
}

type outgoing struct {
	payload []byte
	errs    chan error
}

// NewStdIO creates a StdIO transport over the given reader and writer.
func NewStdIO(reader io.Reader, writer io.Writer, optFns ...func(o *StdIOOptions)) *StdIO {
	opts := StdIOOptions{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &StdIO{
		sess: &stdioSession{
			id:          uuid.NewString(),
			reader:      reader,
			writer:      writer,
			logger:      opts.Logger,
			writes:      make(chan outgoing),
			done:        make(chan struct{}),
			readClosed:  make(chan struct{}),
			writeClosed: make(chan struct{}),
		},
		closed: make(chan struct{}),
	}
}

// Sessions yields the single stdio session and blocks until it stops.
func (s *StdIO) Sessions() iter.Seq[Session] {
	return func(yield func(Session) bool) {
		defer close(s.closed)

		go s.sess.processWrites()

		if !yield(s.sess) {
			return
		}
		<-s.sess.done
	}
}

// Shutdown waits for the Sessions iteration to end.
func (s *StdIO) Shutdown(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
		return nil
	}
}

// StartSession returns the single stdio session as the client side.
func (s *StdIO) StartSession(_ context.Context) (Session, error) {
	go s.sess.processWrites()
	return s.sess, nil
}

func (s *stdioSession) ID() string {
	return s.id
}

func (s *stdioSession) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	// Newline terminates one frame.
	payload = append(payload, '\n')

	out := outgoing{
		payload: payload,
		errs:    make(chan error, 1),
	}

	// All writes funnel through one goroutine so concurrent senders never
	// interleave partial frames.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		s.logger.Warn("transport.stdio.send_after_close", "method", msg.Method)
		return nil
	case s.writes <- out:
	}

	select {
	case err := <-out.errs:
		if err != nil {
			s.logger.Error("transport.stdio.write_failed", "error", err)
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return nil
	}
}

func (s *stdioSession) Messages() iter.Seq[Message] {
	return func(yield func(Message) bool) {
		defer close(s.readClosed)

		// bufio.Reader rather than Scanner: frames have no fixed size cap.
		reader := bufio.NewReader(s.reader)

		for {
			type readResult struct {
				line string
				err  error
			}

			lines := make(chan readResult, 1)

			// The blocking read runs in its own goroutine so a stopped
			// session does not hang on a silent peer.
			go func() {
				line, err := reader.ReadString('\n')
				if err != nil {
					lines <- readResult{err: err}
					return
				}
				lines <- readResult{line: strings.TrimSuffix(line, "\n")}
			}()

			var res readResult
			select {
			case <-s.done:
				return
			case res = <-lines:
			}

			if res.err != nil {
				if !errors.Is(res.err, io.EOF) {
					s.logger.Error("transport.stdio.read_failed", "error", res.err)
				}
				return
			}

			if res.line == "" {
				continue
			}

			var msg Message
			if err := json.Unmarshal([]byte(res.line), &msg); err != nil {
				s.logger.Warn("transport.stdio.invalid_frame", "error", err)
				continue
			}

			if !yield(msg) {
				return
			}
		}
	}
}

func (s *stdioSession) Stop() {
	close(s.done)
	<-s.readClosed
	<-s.writeClosed
}

func (s *stdioSession) processWrites() {
	defer close(s.writeClosed)

	for {
		var out outgoing
		select {
		case <-s.done:
			return
		case out = <-s.writes:
		}

		_, err := s.writer.Write(out.payload)
		out.errs <- err
	}
}
