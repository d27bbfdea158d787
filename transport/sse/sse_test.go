package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hupe1980/toolmesh/transport"
)

var (
	_ transport.ServerTransport = (*Server)(nil)
	_ transport.ClientTransport = (*Client)(nil)
)

type harness struct {
	server     *Server
	client     *Client
	serverSess transport.Session
	clientSess transport.Session
}

func setupHarness(t *testing.T) *harness {
	t.Helper()

	mux := http.NewServeMux()
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	server := NewServer(ts.URL + "/message")
	mux.Handle("/sse", server.HandleSSE())
	mux.Handle("/message", server.HandleMessage())

	serverSessCh := make(chan transport.Session, 1)
	go func() {
		for sess := range server.Sessions() {
			serverSessCh <- sess
		}
	}()
	t.Cleanup(func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	client := NewClient(ts.URL + "/sse")
	clientSess, err := client.StartSession(ctx)
	if err != nil {
		t.Fatalf("failed to start client session: %v", err)
	}
	t.Cleanup(clientSess.Stop)

	var serverSess transport.Session
	select {
	case serverSess = <-serverSessCh:
	case <-ctx.Done():
		t.Fatal("timed out waiting for the server session")
	}
	t.Cleanup(serverSess.Stop)

	return &harness{server: server, client: client, serverSess: serverSess, clientSess: clientSess}
}

func TestSSESessionIDsMatch(t *testing.T) {
	h := setupHarness(t)

	if h.serverSess.ID() != h.clientSess.ID() {
		t.Errorf("both ends must share one session id, got %q and %q",
			h.serverSess.ID(), h.clientSess.ID())
	}
}

func TestSSEClientToServer(t *testing.T) {
	h := setupHarness(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan transport.Message, 1)
	go func() {
		for msg := range h.serverSess.Messages() {
			got <- msg
			return
		}
	}()

	req, err := transport.NewRequest("req-1", transport.MethodPing, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.clientSess.Send(ctx, req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case msg := <-got:
		if msg.Method != transport.MethodPing || msg.ID != "req-1" {
			t.Errorf("got %q/%q, want ping/req-1", msg.Method, msg.ID)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for the message")
	}
}

func TestSSEServerToClient(t *testing.T) {
	h := setupHarness(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan transport.Message, 1)
	go func() {
		for msg := range h.clientSess.Messages() {
			got <- msg
			return
		}
	}()

	resp, err := transport.NewResult("req-1", transport.ListToolsResult{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.serverSess.Send(ctx, resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case msg := <-got:
		if msg.ID != "req-1" {
			t.Errorf("got id %q, want %q", msg.ID, "req-1")
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for the message")
	}
}

func TestSSERelativeEndpointResolvesAgainstConnectURL(t *testing.T) {
	mux := http.NewServeMux()
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	server := NewServer("/message")
	mux.Handle("/sse", server.HandleSSE())
	mux.Handle("/message", server.HandleMessage())

	serverSessCh := make(chan transport.Session, 1)
	go func() {
		for sess := range server.Sessions() {
			serverSessCh <- sess
		}
	}()
	t.Cleanup(func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := NewClient(ts.URL + "/sse")
	clientSess, err := client.StartSession(ctx)
	if err != nil {
		t.Fatalf("failed to start client session: %v", err)
	}
	t.Cleanup(clientSess.Stop)

	var serverSess transport.Session
	select {
	case serverSess = <-serverSessCh:
	case <-ctx.Done():
		t.Fatal("timed out waiting for the server session")
	}
	t.Cleanup(serverSess.Stop)

	got := make(chan transport.Message, 1)
	go func() {
		for msg := range serverSess.Messages() {
			got <- msg
			return
		}
	}()

	req, err := transport.NewRequest("req-1", transport.MethodPing, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := clientSess.Send(ctx, req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case msg := <-got:
		if msg.Method != transport.MethodPing {
			t.Errorf("got method %q, want %q", msg.Method, transport.MethodPing)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for the message")
	}
}

func TestSSEMessageEndpointRejectsMissingSession(t *testing.T) {
	mux := http.NewServeMux()
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	server := NewServer(ts.URL + "/message")
	mux.Handle("/message", server.HandleMessage())

	resp, err := http.Post(ts.URL+"/message", "application/json", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("got status %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}
