// Package router implements the Message Router component.
//
// The Message Router:
//   - Accepts decoded envelopes from the connection manager without blocking
//   - Parses queue_update, token_update and analytics_update payloads
//   - Fans them out to growable buffers consumed by the archive writers
//   - Tracks metrics for routing performance
package router
