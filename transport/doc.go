// Package transport defines the wire layer: the JSON-RPC 2.0 message
// envelope, the ServerTransport/ClientTransport/Session interfaces, and two
// built-in implementations.
//
// StdIO frames messages as newline-delimited JSON over an io.Reader/io.Writer
// pair, which is the standard way to run a server as a child process. Pipe
// connects both ends in-process through channels for embedding and tests.
// HTTP Server-Sent Events live in the transport/sse subpackage.
//
// A transport moves Message values and knows nothing about tools or sessions
// beyond the session id; the protocol semantics live in the server and client
// packages.
package transport
