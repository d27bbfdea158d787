// Package core provides the foundational domain types, interfaces and execution
// contexts used by ToolMesh. It defines the core abstractions for:
//
//   - Request / Response envelopes (one response per consumed request)
//   - Sessions (stateful conversational containers with invocation history)
//   - The per-request lifecycle state machine
//   - CallContext (scoped tool execution with staged variable writes)
//   - Pluggable stores for session state
//
// The package intentionally keeps implementation concerns (persistence,
// dispatch orchestration, concrete transports) out of scope, exposing small
// interfaces to enable custom backends and extensions. All exported
// identifiers include concise documentation to aid discoverability and
// external consumption.
package core
