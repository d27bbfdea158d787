// Package sse provides the HTTP Server-Sent Events transport. The server
// streams messages to clients over a long-lived GET connection and receives
// client messages through a POST endpoint; an "endpoint" event sent on
// connect tells each client where to POST for its session.
//
// Server and Client implement the transport.ServerTransport and
// transport.ClientTransport interfaces, so swapping SSE for stdio is a
// construction-time choice.
package sse
