package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rickgao/queuelink/internal/buffer"
	"github.com/rickgao/queuelink/internal/connection"
	"github.com/rickgao/queuelink/internal/model"
)

// Router parses decoded queue envelopes and routes them to typed buffers.
type Router interface {
	// Start begins routing messages from the input buffer.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the router.
	Stop(ctx context.Context) error

	// Handle enqueues a message without blocking. It matches the
	// connection.Manager OnMessage callback signature.
	Handle(msg connection.Message)

	// Buffers returns output buffers for writers to consume.
	Buffers() RouterBuffers

	// Stats returns current router statistics.
	Stats() RouterStats
}

// router is the internal implementation.
type router struct {
	cfg    RouterConfig
	logger *slog.Logger

	// Input from the connection manager
	input *buffer.Queue[connection.Message]

	// Output to writers
	queueBuf     *buffer.Queue[QueueMsg]
	tokenBuf     *buffer.Queue[TokenMsg]
	analyticsBuf *buffer.Queue[AnalyticsMsg]

	// Lifecycle
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu              sync.RWMutex
	received        int64
	routed          int64
	parseErrors     int64
	unknownMessages int64
}

// NewRouter creates a new Message Router.
func NewRouter(cfg RouterConfig, logger *slog.Logger) Router {
	if logger == nil {
		logger = slog.Default()
	}

	return &router{
		cfg:          cfg,
		logger:       logger,
		input:        buffer.New[connection.Message](cfg.InputBufferSize),
		queueBuf:     buffer.New[QueueMsg](cfg.QueueBufferSize),
		tokenBuf:     buffer.New[TokenMsg](cfg.TokenBufferSize),
		analyticsBuf: buffer.New[AnalyticsMsg](cfg.AnalyticsBufferSize),
	}
}

// Start begins routing messages.
func (r *router) Start(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)

	// Closing the input unblocks routeLoop once it has drained.
	go func() {
		<-ctx.Done()
		r.input.Close()
	}()

	r.wg.Add(1)
	go r.routeLoop()

	r.logger.Info("message router started",
		"queue_buffer", r.cfg.QueueBufferSize,
		"token_buffer", r.cfg.TokenBufferSize,
		"analytics_buffer", r.cfg.AnalyticsBufferSize,
	)

	return nil
}

// Stop gracefully shuts down the router. Messages already handed to
// Handle are routed before the output buffers close.
func (r *router) Stop(ctx context.Context) error {
	r.logger.Info("stopping message router")

	r.input.Close()
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("message router stopped")
	case <-ctx.Done():
		r.logger.Warn("message router stop timed out")
	}

	r.queueBuf.Close()
	r.tokenBuf.Close()
	r.analyticsBuf.Close()

	return nil
}

// Handle enqueues msg for routing.
func (r *router) Handle(msg connection.Message) {
	if !r.input.Send(msg) {
		r.logger.Debug("router stopped, dropping message", "type", msg.Type)
	}
}

// Buffers returns output buffers for writers.
func (r *router) Buffers() RouterBuffers {
	return RouterBuffers{
		Queue:     r.queueBuf,
		Token:     r.tokenBuf,
		Analytics: r.analyticsBuf,
	}
}

// Stats returns current statistics.
func (r *router) Stats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return RouterStats{
		MessagesReceived: r.received,
		MessagesRouted:   r.routed,
		ParseErrors:      r.parseErrors,
		UnknownMessages:  r.unknownMessages,
		InputBuffer:      r.input.Stats(),
		QueueBuffer:      r.queueBuf.Stats(),
		TokenBuffer:      r.tokenBuf.Stats(),
		AnalyticsBuffer:  r.analyticsBuf.Stats(),
	}
}

// routeLoop is the main routing goroutine.
func (r *router) routeLoop() {
	defer r.wg.Done()

	for {
		msg, ok := r.input.Receive()
		if !ok {
			return
		}
		r.route(msg)
	}
}

// route parses and routes a single message.
func (r *router) route(msg connection.Message) {
	r.mu.Lock()
	r.received++
	r.mu.Unlock()

	var (
		sent bool
		err  error
	)

	switch msg.Type {
	case TypeQueueUpdate:
		var out QueueMsg
		out, err = parseQueueUpdate(msg)
		if err == nil {
			sent = r.queueBuf.Send(out)
		}

	case TypeTokenUpdate:
		var out TokenMsg
		out, err = parseTokenUpdate(msg)
		if err == nil {
			sent = r.tokenBuf.Send(out)
		}

	case TypeAnalyticsUpdate:
		var out AnalyticsMsg
		out, err = parseAnalyticsUpdate(msg)
		if err == nil {
			sent = r.analyticsBuf.Send(out)
		}

	default:
		r.logger.Debug("skipping message type", "type", msg.Type)
		r.mu.Lock()
		r.unknownMessages++
		r.mu.Unlock()
		return
	}

	if err != nil {
		r.logger.Warn("failed to parse message", "type", msg.Type, "error", err)
		r.mu.Lock()
		r.parseErrors++
		r.mu.Unlock()
		return
	}

	if sent {
		r.mu.Lock()
		r.routed++
		r.mu.Unlock()
	}
}

// parseQueueUpdate parses a queue_update message. A null data field is an
// empty queue.
func parseQueueUpdate(msg connection.Message) (QueueMsg, error) {
	var entries []model.QueueEntry
	if err := msg.DecodeData(&entries); err != nil {
		return QueueMsg{}, err
	}
	for _, e := range entries {
		if e.TokenID == "" {
			return QueueMsg{}, fmt.Errorf("queue entry at position %d has no token_id", e.Position)
		}
	}
	return QueueMsg{Entries: entries, ReceivedAt: msg.ReceivedAt}, nil
}

// parseTokenUpdate parses a token_update message.
func parseTokenUpdate(msg connection.Message) (TokenMsg, error) {
	var tok model.Token
	if err := msg.DecodeData(&tok); err != nil {
		return TokenMsg{}, err
	}
	if tok.ID == "" {
		return TokenMsg{}, fmt.Errorf("token has no id")
	}
	if !tok.PriorityLevel.Valid() {
		return TokenMsg{}, fmt.Errorf("token %s: invalid priority %d", tok.ID, tok.PriorityLevel)
	}
	return TokenMsg{Token: tok, ReceivedAt: msg.ReceivedAt}, nil
}

// parseAnalyticsUpdate parses an analytics_update message.
func parseAnalyticsUpdate(msg connection.Message) (AnalyticsMsg, error) {
	var a model.Analytics
	if err := msg.DecodeData(&a); err != nil {
		return AnalyticsMsg{}, err
	}
	return AnalyticsMsg{Analytics: a, ReceivedAt: msg.ReceivedAt}, nil
}
