package transport

import (
	"context"
	"errors"
	"testing"
	"time"
)

var (
	_ ServerTransport = (*Pipe)(nil)
	_ ClientTransport = (*Pipe)(nil)
)

func TestPipeRoundTrip(t *testing.T) {
	p := NewPipe()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	serverSess := acceptSession(t, p)
	clientSess, err := p.StartSession(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if serverSess.ID() != clientSess.ID() {
		t.Fatalf("both ends must share one session id, got %q and %q", serverSess.ID(), clientSess.ID())
	}

	req, err := NewRequest("req-1", MethodToolsList, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := clientSess.Send(ctx, req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got Message
	for msg := range serverSess.Messages() {
		got = msg
		break
	}
	if got.Method != MethodToolsList || got.ID != "req-1" {
		t.Fatalf("got %q/%q, want tools/list/req-1", got.Method, got.ID)
	}

	resp, err := NewResult(got.ID, ListToolsResult{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := serverSess.Send(ctx, resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for msg := range clientSess.Messages() {
		if msg.ID != "req-1" {
			t.Errorf("got id %q, want %q", msg.ID, "req-1")
		}
		break
	}
}

func TestPipeSendAfterStop(t *testing.T) {
	p := NewPipe()

	ctx := context.Background()
	sess, err := p.StartSession(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sess.Stop()

	msg, err := NewRequest("req-1", MethodPing, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sess.Send(ctx, msg); !errors.Is(err, ErrPipeClosed) {
		t.Fatalf("got %v, want ErrPipeClosed", err)
	}
}

func TestPipeStopFromEitherSide(t *testing.T) {
	p := NewPipe()

	serverSess := acceptSession(t, p)
	clientSess, err := p.StartSession(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Both ends stop; the shared once keeps the second call harmless.
	clientSess.Stop()
	serverSess.Stop()

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for range serverSess.Messages() {
		}
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Messages did not end after Stop")
	}
}

func TestPipeShutdownAfterSessionStops(t *testing.T) {
	p := NewPipe()

	sessCh := make(chan Session, 1)
	go func() {
		// Consume the iteration without breaking so it ends with the
		// transport, as a server loop would.
		for s := range p.Sessions() {
			sessCh <- s
		}
	}()

	sess := <-sessCh
	sess.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
