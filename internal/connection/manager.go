package connection

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/rickgao/queuelink/internal/buffer"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithTransport replaces the default WebSocket transport.
func WithTransport(t Transport) Option {
	return func(m *Manager) {
		if t != nil {
			m.transport = t
		}
	}
}

// WithRetryPolicy replaces the default fixed-delay policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(m *Manager) {
		if p != nil {
			m.policy = p
		}
	}
}

// WithHeader adds HTTP headers to every dial.
func WithHeader(h http.Header) Option {
	return func(m *Manager) {
		m.header = h.Clone()
	}
}

// WithHeaderFunc computes headers before every dial, on top of WithHeader.
// An error fails the attempt like a refused dial.
func WithHeaderFunc(fn func(context.Context) (http.Header, error)) Option {
	return func(m *Manager) {
		m.headerFn = fn
	}
}

// notice is one queued notification for subscribers.
type notice struct {
	change *StateChange
	msg    *Message
}

// Manager owns one persistent connection and reconnects it after abnormal
// closure.
//
// All state (lifecycle, handle, reconnect counter, pending timer) is guarded
// by mu. Transport events and timer callbacks carry the generation they were
// started with and are dropped once the generation moves on.
type Manager struct {
	cfg       Config
	logger    *slog.Logger
	transport Transport
	policy    RetryPolicy
	header    http.Header
	headerFn  func(context.Context) (http.Header, error)

	mu         sync.Mutex
	state      State
	gen        uint64
	handle     Conn
	cancelDial context.CancelFunc
	attempts   int
	sched      *scheduler
	lastMsg    *Message
	lastErr    error
	closed     bool
	stats      ManagerStats

	subMu     sync.RWMutex
	nextSubID int
	stateSubs map[int]func(StateChange)
	msgSubs   map[int]func(Message)

	notices      *buffer.Queue[notice]
	dispatchDone chan struct{}
}

// New validates cfg and creates a Manager in StateDisconnected. No
// connection is attempted until Connect.
func New(cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:          cfg,
		logger:       slog.Default(),
		state:        StateDisconnected,
		stateSubs:    make(map[int]func(StateChange)),
		msgSubs:      make(map[int]func(Message)),
		notices:      buffer.New[notice](64),
		dispatchDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("endpoint", cfg.Endpoint)
	if m.policy == nil {
		m.policy = FixedDelay(cfg.ReconnectInterval)
	}
	if m.transport == nil {
		m.transport = NewWebSocketTransport(cfg, m.logger)
	}
	m.sched = newScheduler(m.policy)

	go m.dispatchLoop()

	return m, nil
}

// Connect starts a connection attempt and returns immediately.
//
// It is a no-op while connecting or connected. From Failed it resets the
// reconnect counter. From ReconnectPending it cancels the timer and dials
// now, keeping the counter.
func (m *Manager) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}

	switch m.state {
	case StateConnecting, StateConnected:
		return nil
	case StateReconnectPending:
		m.sched.cancel()
	case StateFailed:
		m.attempts = 0
	}

	m.open()
	return nil
}

// Disconnect cancels any pending reconnect, closes the connection with the
// normal closure code and moves to Disconnected. Nothing from the closed
// connection or the cancelled timer can change state afterwards.
func (m *Manager) Disconnect(reason string) {
	m.mu.Lock()

	m.sched.cancel()
	if m.state == StateDisconnected || m.state == StateFailed {
		m.mu.Unlock()
		return
	}

	m.gen++
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	h := m.handle
	m.handle = nil
	m.setState(StateDisconnected, nil)
	m.mu.Unlock()

	m.logger.Info("disconnected", "reason", reason)

	if h != nil {
		if err := h.Close(CloseNormal, reason); err != nil {
			m.logger.Debug("close handle", "conn_id", h.ID(), "error", err)
		}
	}
}

// Send JSON-encodes payload and writes it as one text frame. It returns
// ErrNotConnected without touching the transport unless the state is
// Connected. Nothing is buffered.
func (m *Manager) Send(payload any) error {
	m.mu.Lock()
	if m.state != StateConnected || m.handle == nil {
		m.stats.SendsDropped++
		state := m.state
		m.mu.Unlock()
		m.logger.Warn("send dropped, not connected", "state", state)
		return ErrNotConnected
	}
	h := m.handle
	m.mu.Unlock()

	data, err := encodePayload(payload)
	if err != nil {
		return err
	}

	if err := h.Write(data); err != nil {
		m.mu.Lock()
		m.lastErr = err
		m.mu.Unlock()
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastMessage returns the most recently decoded message, if any.
func (m *Manager) LastMessage() (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastMsg == nil {
		return Message{}, false
	}
	return *m.lastMsg, true
}

// LastError returns the most recent transport error, or nil.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Stats returns current counters.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.State = m.state
	s.ReconnectAttempts = m.attempts
	return s
}

// OnStateChange registers fn for every state transition. Callbacks run on a
// single dispatcher goroutine in transition order. The returned func
// unregisters fn.
func (m *Manager) OnStateChange(fn func(StateChange)) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	m.stateSubs[id] = fn
	return func() {
		m.subMu.Lock()
		delete(m.stateSubs, id)
		m.subMu.Unlock()
	}
}

// OnMessage registers fn for every decoded message. The returned func
// unregisters fn.
func (m *Manager) OnMessage(fn func(Message)) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	m.msgSubs[id] = fn
	return func() {
		m.subMu.Lock()
		delete(m.msgSubs, id)
		m.subMu.Unlock()
	}
}

// Close disconnects and stops the notification dispatcher. Queued
// notifications are still delivered. Connect fails afterwards.
func (m *Manager) Close() error {
	m.Disconnect("manager closed")

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.notices.Close()
	return nil
}

// Done is closed once the dispatcher has delivered every notification after
// Close.
func (m *Manager) Done() <-chan struct{} {
	return m.dispatchDone
}

// open starts a new handle. Caller holds mu.
func (m *Manager) open() {
	m.gen++
	gen := m.gen

	ctx, cancel := context.WithCancel(context.Background())
	m.cancelDial = cancel

	m.setState(StateConnecting, nil)
	m.stats.Dials++

	m.logger.Info("connecting", "attempt", m.attempts, "gen", gen)

	go m.run(ctx, gen)
}

// run dials and pumps transport events for one generation.
func (m *Manager) run(ctx context.Context, gen uint64) {
	var conn Conn
	header, err := m.dialHeader(ctx)
	if err == nil {
		conn, err = m.transport.Dial(ctx, m.cfg.Endpoint, header)
	}
	if err != nil {
		m.handleEvent(gen, Event{Kind: EventError, Err: fmt.Errorf("dial: %w", err), At: time.Now()})
		m.handleEvent(gen, Event{Kind: EventClose, Code: CloseAbnormal, Reason: "dial failed", At: time.Now()})
		return
	}

	if !m.attach(gen, conn) {
		conn.Close(CloseNormal, "superseded")
		return
	}

	closed := false
	for ev := range conn.Events() {
		if ev.Kind == EventClose {
			closed = true
		}
		m.handleEvent(gen, ev)
	}
	if !closed {
		m.handleEvent(gen, Event{Kind: EventClose, Code: CloseAbnormal, Reason: "event stream ended", At: time.Now()})
	}
}

func (m *Manager) dialHeader(ctx context.Context) (http.Header, error) {
	if m.headerFn == nil {
		return m.header, nil
	}
	extra, err := m.headerFn(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial header: %w", err)
	}
	h := m.header.Clone()
	if h == nil {
		h = http.Header{}
	}
	for k, v := range extra {
		h[k] = v
	}
	return h, nil
}

// attach installs conn as the live handle if gen is still current.
func (m *Manager) attach(gen uint64, conn Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.state != StateConnecting {
		return false
	}
	m.handle = conn
	m.cancelDial = nil
	m.attempts = 0
	m.lastErr = nil
	m.stats.Opens++
	m.setState(StateConnected, nil)

	m.logger.Info("connected", "conn_id", conn.ID())
	return true
}

// handleEvent applies one transport event for gen.
func (m *Manager) handleEvent(gen uint64, ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		return
	}

	switch ev.Kind {
	case EventMessage:
		msg, err := decodeFrame(ev.Data, ev.At)
		if err != nil {
			m.stats.DecodeErrors++
			m.logger.Warn("dropping malformed frame", "error", err, "bytes", len(ev.Data))
			return
		}
		m.lastMsg = &msg
		m.stats.MessagesReceived++
		m.notices.Send(notice{msg: &msg})

	case EventError:
		m.lastErr = ev.Err
		m.logger.Warn("transport error", "error", ev.Err)

	case EventClose:
		m.handleClose(ev)
	}
}

// handleClose routes a close event. Caller holds mu.
func (m *Manager) handleClose(ev Event) {
	m.handle = nil
	m.cancelDial = nil
	m.gen++

	if ev.Code == CloseNormal {
		m.logger.Info("connection closed normally", "reason", ev.Reason)
		m.setState(StateDisconnected, nil)
		return
	}

	m.stats.AbnormalCloses++
	cause := fmt.Errorf("%w: code %d %s", ErrAbnormalClosure, ev.Code, ev.Reason)

	next, attempts := retryDecision(m.attempts, m.cfg.MaxReconnectAttempts)
	if next == StateFailed {
		if m.lastErr != nil {
			m.lastErr = fmt.Errorf("%w: %w", ErrRetryExhausted, m.lastErr)
		} else {
			m.lastErr = ErrRetryExhausted
		}
		m.stats.Failures++
		m.logger.Error("reconnect attempts exhausted",
			"max_attempts", m.cfg.MaxReconnectAttempts,
			"code", ev.Code,
		)
		m.setState(StateFailed, m.lastErr)
		return
	}

	m.attempts = attempts
	if !m.setState(StateReconnectPending, cause) {
		return
	}
	delay, err := m.sched.arm(attempts, m.onTimer)
	if err != nil {
		m.logger.Error("failed to schedule reconnect", "error", err)
		return
	}
	m.logger.Info("reconnect scheduled",
		"attempt", attempts,
		"max_attempts", m.cfg.MaxReconnectAttempts,
		"delay", delay,
		"code", ev.Code,
	)
}

// onTimer fires the pending reconnect.
func (m *Manager) onTimer(seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.sched.claim(seq) || m.closed || m.state != StateReconnectPending {
		return
	}
	m.open()
}

// setState performs a checked transition and queues the notification.
// Caller holds mu.
func (m *Manager) setState(to State, cause error) bool {
	from := m.state
	if !canTransition(from, to) {
		m.logger.Error("rejected state transition",
			"from", from,
			"to", to,
			"error", ErrInvalidTransition,
		)
		return false
	}
	m.state = to

	m.logger.Debug("state changed", "from", from, "to", to, "attempt", m.attempts)

	m.notices.Send(notice{change: &StateChange{
		From:    from,
		To:      to,
		Attempt: m.attempts,
		Err:     cause,
		At:      time.Now(),
	}})
	return true
}

// dispatchLoop delivers notifications in order until Close.
func (m *Manager) dispatchLoop() {
	defer close(m.dispatchDone)

	for {
		n, ok := m.notices.Receive()
		if !ok {
			return
		}

		m.subMu.RLock()
		var stateFns []func(StateChange)
		var msgFns []func(Message)
		if n.change != nil {
			for _, fn := range m.stateSubs {
				stateFns = append(stateFns, fn)
			}
		}
		if n.msg != nil {
			for _, fn := range m.msgSubs {
				msgFns = append(msgFns, fn)
			}
		}
		m.subMu.RUnlock()

		for _, fn := range stateFns {
			m.deliver(func() { fn(*n.change) })
		}
		for _, fn := range msgFns {
			m.deliver(func() { fn(*n.msg) })
		}
	}
}

// deliver runs one subscriber callback, containing panics.
func (m *Manager) deliver(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("subscriber panicked", "panic", r)
		}
	}()
	fn()
}
