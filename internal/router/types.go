package router

import (
	"time"

	"github.com/rickgao/queuelink/internal/buffer"
	"github.com/rickgao/queuelink/internal/model"
)

// Envelope types sent by the queue server.
const (
	TypeQueueUpdate     = "queue_update"
	TypeTokenUpdate     = "token_update"
	TypeAnalyticsUpdate = "analytics_update"
)

// RouterConfig holds configuration for the Message Router.
type RouterConfig struct {
	// Initial buffer capacities; buffers grow as needed.
	InputBufferSize     int // Default: 256
	QueueBufferSize     int // Default: 256
	TokenBufferSize     int // Default: 1000
	AnalyticsBufferSize int // Default: 64
}

// DefaultRouterConfig returns default configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		InputBufferSize:     256,
		QueueBufferSize:     256,
		TokenBufferSize:     1000,
		AnalyticsBufferSize: 64,
	}
}

// RouterBuffers provides access to output buffers for writers.
type RouterBuffers struct {
	Queue     *buffer.Queue[QueueMsg]
	Token     *buffer.Queue[TokenMsg]
	Analytics *buffer.Queue[AnalyticsMsg]
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	MessagesReceived int64
	MessagesRouted   int64
	ParseErrors      int64
	UnknownMessages  int64
	InputBuffer      buffer.Stats
	QueueBuffer      buffer.Stats
	TokenBuffer      buffer.Stats
	AnalyticsBuffer  buffer.Stats
}

// QueueMsg is a routed queue snapshot.
type QueueMsg struct {
	Entries    []model.QueueEntry
	ReceivedAt time.Time
}

// TokenMsg is a routed token update.
type TokenMsg struct {
	Token      model.Token
	ReceivedAt time.Time
}

// AnalyticsMsg is a routed analytics update.
type AnalyticsMsg struct {
	Analytics  model.Analytics
	ReceivedAt time.Time
}
