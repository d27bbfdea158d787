// Package toolmesh provides a high-level façade over the dispatch engine and
// its services (tool registry, session store & logging) enabling rapid
// construction of session-aware tool servers. Most applications interact
// with this package by:
//  1. Creating a Mesh via New() (optionally overriding the default in-memory session store)
//  2. Registering one or more tools (function tools, struct-derived tools, custom implementations)
//  3. Dispatching requests directly (Dispatch) or serving a transport (Serve)
//
// The façade delegates request handling to dispatch.Dispatcher while keeping
// setup and usage ergonomics concise. All defaults are safe for local
// development and testing; production deployments typically supply a Redis
// session store and a structured logger.
package toolmesh

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/dispatch"
	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/server"
	"github.com/hupe1980/toolmesh/session"
	"github.com/hupe1980/toolmesh/tool"
	"github.com/hupe1980/toolmesh/transport"
)

// Options configures the Mesh instance.
type Options struct {
	// Dispatch configuration (invocation timeout, concurrency, schema
	// strictness).
	DispatchConfig dispatch.Config

	// SessionIdleTimeout evicts sessions idle for longer than this. Zero
	// disables idle eviction.
	SessionIdleTimeout time.Duration

	// SessionStore defaults to the in-memory implementation if not provided.
	SessionStore core.SessionStore

	// Instructions is the usage hint served to connecting clients.
	Instructions string

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Mesh is the high-level façade aggregating registry, dispatcher and the
// idle-session janitor.
type Mesh struct {
	opts       Options
	registry   *tool.Registry
	dispatcher *dispatch.Dispatcher
	janitor    *session.Janitor

	mu  sync.Mutex
	srv *server.Server
}

// New creates a new Mesh instance with optional overrides. Any unset service
// is initialized with an in-memory implementation.
func New(optFns ...func(o *Options)) *Mesh {
	opts := Options{
		DispatchConfig: dispatch.DefaultConfig,
		SessionStore:   session.NewInMemoryStore(),
		Logger:         logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	registry := tool.NewRegistry()

	dispatcher := dispatch.New(registry, opts.SessionStore,
		dispatch.WithConfig(opts.DispatchConfig),
		dispatch.WithLogger(opts.Logger),
	)

	m := &Mesh{
		opts:       opts,
		registry:   registry,
		dispatcher: dispatcher,
	}

	// TTL-backed stores expire sessions on their own; the sweep loop only
	// serves the in-memory store.
	if _, inMemory := opts.SessionStore.(*session.InMemoryStore); inMemory && opts.SessionIdleTimeout > 0 {
		m.janitor = session.NewJanitor(opts.SessionStore, dispatcher.Locks(), opts.SessionIdleTimeout, func(o *session.JanitorOptions) {
			o.Logger = opts.Logger
		})
	}

	return m
}

// RegisterTool adds a tool to the underlying registry. Registration must
// happen before Seal or Serve.
func (m *Mesh) RegisterTool(t tool.Tool) error { return m.registry.Register(t) }

// Seal freezes the registry so dispatch lookups run lock-free. Serve seals
// implicitly.
func (m *Mesh) Seal() { m.registry.Seal() }

// Registry exposes the underlying tool registry.
func (m *Mesh) Registry() *tool.Registry { return m.registry }

// Dispatcher exposes the underlying dispatcher.
func (m *Mesh) Dispatcher() *dispatch.Dispatcher { return m.dispatcher }

// Dispatch routes one request through validation, invocation and state merge,
// returning a terminal response.
func (m *Mesh) Dispatch(ctx context.Context, req core.Request) core.Response {
	return m.dispatcher.Dispatch(ctx, req)
}

// Serve seals the registry, starts the idle-session janitor and serves
// protocol sessions on the given transport. It blocks until Shutdown.
func (m *Mesh) Serve(tr transport.ServerTransport) {
	if !m.registry.Sealed() {
		m.registry.Seal()
	}
	if m.janitor != nil {
		m.janitor.Start()
	}

	srv := server.New(m.dispatcher, tr,
		server.WithLogger(m.opts.Logger),
		server.WithInstructions(m.opts.Instructions),
	)

	m.mu.Lock()
	m.srv = srv
	m.mu.Unlock()

	srv.Serve()
}

// Shutdown stops the protocol server and the janitor. Safe to call whether or
// not Serve ran.
func (m *Mesh) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	srv := m.srv
	m.srv = nil
	m.mu.Unlock()

	if m.janitor != nil {
		m.janitor.Stop()
	}
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
