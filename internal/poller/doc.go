// Package poller implements the REST snapshot poller.
//
// The poller:
//   - Fetches the queue (and optionally analytics) from the REST API on an interval
//   - Fills gaps while the stream connection is down when gated on its state
//   - Runs the fetches of one cycle concurrently
//   - Hands results to the same consumers as streamed updates
package poller
