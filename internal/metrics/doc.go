// Package metrics exposes queuelink's runtime counters to Prometheus.
//
// Metrics are not updated inline. A Collector holds stats sources and reads
// them on every scrape:
//   - Stream connection state, reconnect counter and frame counts
//   - Router throughput and buffer depth
//   - Hub connections per role and delivery counts
//   - REST poll cycles and fetch results
//   - Archive writer inserts, conflicts and errors
//
// Server serves the registry over HTTP alongside a /health endpoint.
package metrics
