package poller

import "github.com/rickgao/queuelink/internal/router"

// BufferHandler delivers snapshots into the router's output buffers, so
// polled and streamed updates reach the same consumers. Snapshots arriving
// after the router stopped are dropped.
type BufferHandler struct {
	Buffers router.RouterBuffers
}

func (h BufferHandler) HandleQueue(msg router.QueueMsg) {
	h.Buffers.Queue.Send(msg)
}

func (h BufferHandler) HandleAnalytics(msg router.AnalyticsMsg) {
	h.Buffers.Analytics.Send(msg)
}
