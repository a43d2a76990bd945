package connection

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/queuelink/internal/version"
)

// Close codes used on the wire.
const (
	CloseNormal   = websocket.CloseNormalClosure   // intentional shutdown, never retried
	CloseAbnormal = websocket.CloseAbnormalClosure // dropped without a close frame
)

// EventKind classifies transport events.
type EventKind int

const (
	EventMessage EventKind = iota
	EventError
	EventClose
)

// Event is one transport lifecycle notification.
type Event struct {
	Kind   EventKind
	Data   []byte    // EventMessage
	Err    error     // EventError
	Code   int       // EventClose
	Reason string    // EventClose
	At     time.Time // Local timestamp
}

// Transport opens connections to an endpoint.
type Transport interface {
	Dial(ctx context.Context, endpoint string, header http.Header) (Conn, error)
}

// Conn is one open connection.
//
// Events yields message frames in arrival order, then at most one error,
// then exactly one close event, and is closed afterwards. After a local
// Close the channel may be closed without a close event.
type Conn interface {
	ID() string
	Events() <-chan Event
	Write(data []byte) error
	Close(code int, reason string) error
}

// WebSocketTransport dials gorilla/websocket connections.
type WebSocketTransport struct {
	cfg    Config
	logger *slog.Logger
}

// NewWebSocketTransport creates the default transport. Only the timeout
// fields of cfg are used.
func NewWebSocketTransport(cfg Config, logger *slog.Logger) *WebSocketTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketTransport{cfg: cfg, logger: logger}
}

// Dial establishes the WebSocket connection and starts its read and
// keepalive loops.
func (t *WebSocketTransport) Dial(ctx context.Context, endpoint string, header http.Header) (Conn, error) {
	h := http.Header{}
	for k, v := range header {
		h[k] = v
	}
	h.Set("Accept", "application/json")
	if h.Get("User-Agent") == "" {
		h.Set("User-Agent", version.UserAgent())
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: t.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, endpoint, h)
	if err != nil {
		return nil, err
	}

	c := &wsConn{
		id:         uuid.NewString(),
		cfg:        t.cfg,
		conn:       conn,
		events:     make(chan Event, 64),
		done:       make(chan struct{}),
		lastPingAt: time.Now(),
	}
	c.logger = t.logger.With("conn_id", c.id)

	// Server sends ping, we respond with pong
	conn.SetPingHandler(func(data string) error {
		c.touch()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	go c.readLoop()
	if t.cfg.PingInterval > 0 {
		go c.heartbeatLoop()
	}

	c.logger.Debug("websocket connected", "url", endpoint)
	return c, nil
}

// wsConn implements Conn over a gorilla/websocket connection.
type wsConn struct {
	id     string
	cfg    Config
	logger *slog.Logger
	conn   *websocket.Conn

	events chan Event
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once

	mu         sync.Mutex
	lastPingAt time.Time
	stale      bool
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Events() <-chan Event { return c.events }

// Write sends one text frame.
func (c *wsConn) Write(data []byte) error {
	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout()))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame with code and reason and tears the socket down.
func (c *wsConn) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()

		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) writeTimeout() time.Duration {
	if c.cfg.WriteTimeout > 0 {
		return c.cfg.WriteTimeout
	}
	return 5 * time.Second
}

func (c *wsConn) touch() {
	c.mu.Lock()
	c.lastPingAt = time.Now()
	c.mu.Unlock()
}

// emit delivers an event unless the connection was closed locally.
func (c *wsConn) emit(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

// readLoop is the only producer on events.
func (c *wsConn) readLoop() {
	defer close(c.events)

	for {
		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			// Ignore errors after Close() is called
			select {
			case <-c.done:
				return
			default:
			}

			c.mu.Lock()
			stale := c.stale
			c.mu.Unlock()

			code, reason, cause := classifyReadError(err)
			if stale {
				code, reason, cause = CloseAbnormal, "stale connection", ErrStaleConnection
			}
			if cause != nil {
				if !c.emit(Event{Kind: EventError, Err: cause, At: receivedAt}) {
					return
				}
			}
			c.emit(Event{Kind: EventClose, Code: code, Reason: reason, At: receivedAt})
			c.closeOnce.Do(func() {
				close(c.done)
				c.conn.Close()
			})
			return
		}

		if !c.emit(Event{Kind: EventMessage, Data: data, At: receivedAt}) {
			return
		}
	}
}

// classifyReadError maps a read error to a close code, reason and the error
// to report, if any. Clean close frames other than 1006 report no error.
func classifyReadError(err error) (int, string, error) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Code == CloseAbnormal {
			return ce.Code, ce.Text, err
		}
		return ce.Code, ce.Text, nil
	}
	return CloseAbnormal, err.Error(), err
}

// heartbeatLoop pings the server and detects stale connections.
func (c *wsConn) heartbeatLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			deadline := time.Now().Add(c.writeTimeout())
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}
			c.writeMu.Unlock()

			if c.cfg.PingTimeout <= 0 {
				continue
			}

			c.mu.Lock()
			lastPing := c.lastPingAt
			c.mu.Unlock()

			if time.Since(lastPing) > c.cfg.PingTimeout {
				c.logger.Warn("no ping received, connection stale",
					"last_ping", lastPing,
					"timeout", c.cfg.PingTimeout,
				)
				c.mu.Lock()
				c.stale = true
				c.mu.Unlock()
				// Unblocks readLoop, which reports the close.
				c.conn.Close()
				return
			}
		}
	}
}
