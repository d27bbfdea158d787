// Package client connects to a toolmesh server over any client transport and
// exposes the protocol surface: handshake, tool listing, tool calls and
// session control.
//
// Two layers build on each other:
//
//   - Client speaks the raw protocol. It correlates requests with responses,
//     answers server pings and keeps the connection alive.
//   - Chat drives a tool-calling conversation on top of a Client: model
//     output containing function calls is executed through the server and the
//     results are fed back until the model produces a final text answer.
//
// # Usage
//
//	c := client.New(transport.NewStdIO(serverOut, serverIn))
//	if err := c.Connect(ctx); err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	chat := client.NewChat(c, openai.NewModel())
//	answer, err := chat.Send(ctx, "How is the sentiment around bitcoin today?")
//
// Tool state accumulates in the server's session context keyed by the
// transport session id, so consecutive Send calls share tool results without
// any client-side bookkeeping.
package client
