// Package database provides the PostgreSQL connection pool and schema for
// the optional queue archive.
//
// Tables:
//   - token_events: one row per token version, keyed by a derived UUID
//   - queue_snapshots: one row per queue_update, entries as JSONB
//   - analytics_snapshots: one row per analytics_update
package database
