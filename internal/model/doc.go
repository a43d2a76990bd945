// Package model defines the queue domain types shared by the router, the
// archive writers and the REST client.
//
// Conventions:
//   - Priority: 1 (CRITICAL) to 6 (CONSULTATION); lower is more urgent
//   - Wait times: whole minutes
//   - Timestamps: time.Time, as sent by the queue server (RFC 3339)
package model
