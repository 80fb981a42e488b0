// Package transport owns the WebSocket connection to the chat backend.
//
// A Socket wraps one gorilla/websocket connection with the lifecycle the
// desktop apps rely on:
//   - Idempotent Connect: rapid re-invocation never creates a second socket
//   - Heartbeat: periodic ping frames while the connection is open; pong
//     replies are consumed and never forwarded
//   - Reconnect: unexpected closure schedules a fixed-delay retry, unbounded
//     attempt count, suppressed after an explicit Disconnect
//   - Status: connecting | connected | disconnected | error, observable
//     through a status callback for UI indicators and rejoin logic
//
// The Socket never returns errors to callers; Send reports success as a
// boolean and all failures are logged and surfaced through status changes.
// Inbound frames are parsed and delivered to a single handler in the order
// the connection delivers them.
package transport
