// Package writer implements batch writers that archive routed queue traffic.
//
// Writers:
//   - Token writer (token_events)
//   - Queue snapshot writer (queue_snapshots)
//   - Analytics writer (analytics_snapshots)
//
// All writers use append-only semantics (never update, only insert).
// Token events are keyed by a UUID derived from the token id and updated_at,
// so a version replayed after a reconnect is stored once.
package writer
