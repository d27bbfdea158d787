// Package server runs the wire protocol on top of the dispatcher.
//
// Each transport session gets its own protocol loop:
//
//	+--------------------------------------------------------------+
//	|                      protocol session                        |
//	|                                                              |
//	|  initialize ----> version check ----> capabilities reply     |
//	|  notifications/initialized ----> request gate opens          |
//	|  ping <---------> pong (both directions, with keepalive)     |
//	|  tools/list ----> registry snapshot                          |
//	|  tools/call ----> Dispatcher.Dispatch ----> CallToolResult   |
//	|  session/end ----> store eviction (+ connection close)       |
//	|  notifications/cancelled ----> in-flight request cancel      |
//	+--------------------------------------------------------------+
//
// # Error Surfaces
//
// Failures split across two layers. Anything the dispatcher produced, such
// as an unknown tool, a schema violation or a handler failure, is a valid
// protocol outcome: it travels inside CallToolResult with IsError set and
// the structured detail attached, and the request id still gets exactly one
// response. Only protocol-level problems, such as malformed params or an
// unsupported method, become JSON-RPC error objects.
//
// # Sessions
//
// The transport session id is the default dispatch session key, so one
// connection is one conversation. A client may address other logical
// sessions by putting an explicit sessionId into tools/call params.
//
// # Usage
//
//	registry := tool.NewRegistry()
//	_ = registry.Register(tool.NewEchoTool())
//	registry.Seal()
//
//	d := dispatch.New(registry, session.NewInMemoryStore())
//	srv := server.New(d, transport.NewStdIO(os.Stdin, os.Stdout))
//
//	go srv.Serve()
//	defer srv.Shutdown(context.Background())
package server
