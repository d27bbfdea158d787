package transport

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

var (
	_ ServerTransport = (*StdIO)(nil)
	_ ClientTransport = (*StdIO)(nil)
)

func acceptSession(t *testing.T, tr ServerTransport) Session {
	t.Helper()

	sessCh := make(chan Session, 1)
	go func() {
		for s := range tr.Sessions() {
			sessCh <- s
			return
		}
	}()

	select {
	case s := <-sessCh:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a session")
		return nil
	}
}

func TestStdIOBidirectionalFlow(t *testing.T) {
	clientReader, serverWriter := io.Pipe()
	serverReader, clientWriter := io.Pipe()

	serverTr := NewStdIO(serverReader, serverWriter)
	clientTr := NewStdIO(clientReader, clientWriter)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	serverSess := acceptSession(t, serverTr)
	clientSess, err := clientTr.StartSession(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	serverGot := make(chan Message, 1)
	go func() {
		for msg := range serverSess.Messages() {
			serverGot <- msg
			return
		}
	}()
	clientGot := make(chan Message, 1)
	go func() {
		for msg := range clientSess.Messages() {
			clientGot <- msg
			return
		}
	}()

	req, err := NewRequest("req-1", MethodPing, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := clientSess.Send(ctx, req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var gotReq Message
	select {
	case gotReq = <-serverGot:
	case <-ctx.Done():
		t.Fatal("timed out waiting for the request")
	}
	if gotReq.Method != MethodPing || gotReq.ID != "req-1" {
		t.Fatalf("got %q/%q, want ping/req-1", gotReq.Method, gotReq.ID)
	}

	resp, err := NewResult(gotReq.ID, map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := serverSess.Send(ctx, resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case gotResp := <-clientGot:
		if gotResp.ID != "req-1" {
			t.Errorf("got id %q, want %q", gotResp.ID, "req-1")
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for the response")
	}
}

func TestStdIOSkipsMalformedFrames(t *testing.T) {
	input := "this is not json\n" +
		`{"jsonrpc":"2.0","id":"req-1","method":"ping"}` + "\n"

	tr := NewStdIO(strings.NewReader(input), io.Discard)
	sess := acceptSession(t, tr)

	var got []Message
	for msg := range sess.Messages() {
		got = append(got, msg)
	}

	// The malformed line is skipped, the valid one delivered, EOF ends
	// the iteration.
	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1", len(got))
	}
	if got[0].Method != MethodPing {
		t.Errorf("got method %q, want %q", got[0].Method, MethodPing)
	}
}

func TestStdIOSendHonorsContext(t *testing.T) {
	// No session loop is running, so the write queue never drains and Send
	// must give up when the context expires.
	tr := NewStdIO(strings.NewReader(""), io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	msg, err := NewRequest("req-1", MethodPing, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = tr.sess.Send(ctx, msg)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want context.DeadlineExceeded", err)
	}
}

func TestStdIOStopEndsMessages(t *testing.T) {
	reader, writer := io.Pipe()
	defer writer.Close()

	tr := NewStdIO(reader, io.Discard)
	sess := acceptSession(t, tr)

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for range sess.Messages() {
		}
	}()

	sess.Stop()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Messages did not end after Stop")
	}
}
