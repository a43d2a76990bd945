// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Maintains one persistent WebSocket connection to the queue server
//   - Tracks lifecycle: disconnected, connecting, connected,
//     reconnect pending, failed
//   - Re-dials after abnormal closure on a fixed delay, bounded by an
//     attempt budget; close code 1000 never triggers a retry
//   - Decodes inbound JSON frames and keeps the most recent one
//   - Notifies subscribers of state changes and messages, in order
//
// Connect, Disconnect and Send never block on the network. Outcomes are
// observed through State, LastMessage, LastError or the subscriptions.
package connection
