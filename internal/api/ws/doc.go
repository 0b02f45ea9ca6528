// Package ws streams interpreter sessions over WebSocket.
//
// A client connects to /sessions/:id/ws and receives every line the
// session reads plus the result of every command, whoever submitted it.
//
// Message Types (Client → Server):
//   - run: submit a command without waiting
//   - exec: submit a command with a timeout; failures come back as error
//   - debug: toggle raw line mirroring
//   - ping: keep-alive ping
//
// Message Types (Server → Client):
//   - connected: sent once after the upgrade
//   - line: a raw interpreter line with its classification
//   - result: a finished command
//   - accepted: a run or exec was submitted
//   - closed: the session closed; the connection is closed after it
//   - pong, error
//
// Example Usage:
//
//	handler := ws.NewHandler(manager, metrics, logger)
//	router.GET("/sessions/:id/ws", handler.HandleConnection)
package ws
