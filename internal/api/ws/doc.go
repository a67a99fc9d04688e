// Package ws streams a shell session over a WebSocket.
//
// Each connection is bound to one session. The server pushes every output
// event as it happens; the client drives the session with small JSON
// frames. Frames are encoded with sonic.
//
// Message Types (Client → Server):
//   - line: Submit a line of input
//   - input: Raw bytes for the foreground job
//   - eof: End-of-file for the foreground job
//   - interrupt: Ctrl-C
//   - detach: Move the foreground job to the background
//   - resize: New window size (rows, cols)
//   - ping: Keep-alive ping
//
// Message Types (Server → Client):
//   - system: Connection accepted
//   - output: Sanitized session output
//   - clear: The screen was cleared
//   - pong: Keep-alive reply
//   - error: A client frame failed
//
// Example Usage:
//
//	handler := ws.NewHandler(manager, metrics, logger)
//	router.GET("/sessions/:id/stream", handler.HandleConnection)
package ws
