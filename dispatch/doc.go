// Package dispatch implements the message-dispatch core of ToolMesh.
//
// The Dispatcher consumes request envelopes and drives each one through a
// fixed lifecycle, producing exactly one response envelope per request. It
// bridges the transport-facing server layer and the tool registry, session
// store and schema validator underneath.
//
// # Request Lifecycle
//
// Every request moves through the states defined in the core package:
//
//	RECEIVED ──▶ VALIDATED ──▶ INVOKING ──▶ MERGED ──▶ RESPONDED
//	    │             │             │           │
//	    └─────────────┴─────────────┴───────────┴──────▶ ERRORED
//
// The success path advances strictly forward; any failure drops the request
// into the terminal ERRORED state and yields a structured error envelope.
// A request is dispatched at most once: there are no retries at this layer,
// and a validation failure never reaches the tool handler.
//
// # Core Responsibilities
//
// Routing and Validation:
//   - Tool resolution against the sealed registry
//   - Strict structural argument validation with type coercion
//   - Unknown tools and malformed arguments rejected before any side effect
//
// Session Coordination:
//   - Per-session serialization through a keyed mutex, so two requests for
//     the same session never interleave their context updates
//   - Atomic get-or-create of session contexts
//   - All-or-nothing merge of invocation outcomes (history entry plus staged
//     variable writes) after success only
//
// Invocation Control:
//   - Bounded execution time per invocation with timeout conversion into
//     structured errors
//   - Panic recovery so a misbehaving handler never takes down the server
//   - Global concurrency limiting across sessions
//
// # Extensibility
//
// The hook system exposes the lifecycle to cross-cutting concerns: hooks can
// observe every state transition, veto invocations before they start, and
// inspect failures. See Hook and HookManager.
//
// # Usage
//
//	registry := tool.NewRegistry()
//	_ = registry.Register(tool.NewEchoTool())
//	registry.Seal()
//
//	d := dispatch.New(registry, session.NewInMemoryStore(),
//	    dispatch.WithLogger(logger),
//	    dispatch.WithInvocationTimeout(10*time.Second))
//
//	resp := d.Dispatch(ctx, core.NewRequest("session-1", "echo", map[string]any{"text": "hi"}))
package dispatch
