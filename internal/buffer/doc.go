// Package buffer provides an unbounded FIFO queue used to hand work between
// goroutines without blocking producers.
//
// Consumers:
//   - Connection Manager notification dispatcher (state changes, messages)
//   - Message Router typed outputs (queue, token, analytics updates)
package buffer
