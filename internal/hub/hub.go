package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Hub tracks connections by user and role and fans messages out to them.
type Hub struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.RWMutex
	users  map[string]*client          // Latest connection per user
	roles  map[Role]map[string]*client // Connection ID -> client
	closed bool

	sent     atomic.Int64
	failures atomic.Int64
}

// New creates an empty Hub.
func New(cfg Config, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}

	roles := make(map[Role]map[string]*client, len(Roles))
	for _, r := range Roles {
		roles[r] = make(map[string]*client)
	}

	return &Hub{
		cfg:    cfg,
		logger: logger,
		users:  make(map[string]*client),
		roles:  roles,
	}
}

// register adds conn. A user reconnecting replaces its personal route; the
// older connection keeps receiving role broadcasts until it closes.
func (h *Hub) register(conn *websocket.Conn, userID string, role Role) (*client, error) {
	c := &client{
		id:     uuid.NewString(),
		userID: userID,
		role:   role,
		conn:   conn,
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	h.users[userID] = c
	h.roles[role][c.id] = c

	h.logger.Info("client connected",
		"user_id", userID,
		"role", role,
		"conn_id", c.id,
		"total", len(h.users),
	)
	return c, nil
}

// unregister removes c if it is still registered.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.users[c.userID] == c {
		delete(h.users, c.userID)
	}
	if _, ok := h.roles[c.role][c.id]; !ok {
		return
	}
	delete(h.roles[c.role], c.id)

	h.logger.Info("client disconnected",
		"user_id", c.userID,
		"role", c.role,
		"conn_id", c.id,
		"total", len(h.users),
	)
}

// drop unregisters and closes a connection whose write failed.
func (h *Hub) drop(c *client, err error) {
	h.failures.Add(1)
	h.logger.Error("send failed, dropping client",
		"user_id", c.userID,
		"role", c.role,
		"conn_id", c.id,
		"error", err,
	)
	h.unregister(c)
	c.close(websocket.CloseGoingAway, "write failed")
}

func (h *Hub) send(c *client, msg []byte) bool {
	if err := c.write(msg, h.cfg.WriteTimeout); err != nil {
		h.drop(c, err)
		return false
	}
	h.sent.Add(1)
	return true
}

// SendPersonal sends msg to the user's latest connection.
func (h *Hub) SendPersonal(userID string, msg []byte) error {
	h.mu.RLock()
	c, ok := h.users[userID]
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUserNotConnected, userID)
	}
	if !h.send(c, msg) {
		return fmt.Errorf("send to %s failed", userID)
	}
	return nil
}

// BroadcastRole sends msg to every connection of role and returns how many
// writes succeeded.
func (h *Hub) BroadcastRole(role Role, msg []byte) int {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.roles[role]))
	for _, c := range h.roles[role] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if h.send(c, msg) {
			delivered++
		}
	}
	return delivered
}

// BroadcastAll sends msg to every connection.
func (h *Hub) BroadcastAll(msg []byte) int {
	delivered := 0
	for _, r := range Roles {
		delivered += h.BroadcastRole(r, msg)
	}
	return delivered
}

// SendQueueUpdate sends a queue_update to staff and admin.
func (h *Hub) SendQueueUpdate(queue any) (int, error) {
	msg, err := encode(TypeQueueUpdate, queue)
	if err != nil {
		return 0, err
	}
	return h.BroadcastRole(RoleStaff, msg) + h.BroadcastRole(RoleAdmin, msg), nil
}

// SendTokenUpdate sends a token_update to userID, if set and connected, and
// to staff and admin.
func (h *Hub) SendTokenUpdate(token any, userID string) (int, error) {
	msg, err := encode(TypeTokenUpdate, token)
	if err != nil {
		return 0, err
	}

	delivered := 0
	if userID != "" {
		if err := h.SendPersonal(userID, msg); err != nil {
			h.logger.Debug("token update not delivered to user", "user_id", userID, "error", err)
		} else {
			delivered++
		}
	}
	return delivered + h.BroadcastRole(RoleStaff, msg) + h.BroadcastRole(RoleAdmin, msg), nil
}

// SendAnalyticsUpdate sends an analytics_update to staff and admin.
func (h *Hub) SendAnalyticsUpdate(analytics any) (int, error) {
	msg, err := encode(TypeAnalyticsUpdate, analytics)
	if err != nil {
		return 0, err
	}
	return h.BroadcastRole(RoleStaff, msg) + h.BroadcastRole(RoleAdmin, msg), nil
}

// Stats returns current counts.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns := make(map[Role]int, len(h.roles))
	for r, m := range h.roles {
		conns[r] = len(m)
	}
	return Stats{
		Users:        len(h.users),
		Connections:  conns,
		MessagesSent: h.sent.Load(),
		SendFailures: h.failures.Load(),
	}
}

// Shutdown closes every connection with the normal closure code. New
// connections are refused afterwards.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	var all []*client
	for r, m := range h.roles {
		for _, c := range m {
			all = append(all, c)
		}
		h.roles[r] = make(map[string]*client)
	}
	h.users = make(map[string]*client)
	h.mu.Unlock()

	h.logger.Info("hub shutting down", "connections", len(all))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, c := range all {
			c.close(websocket.CloseNormalClosure, "server shutdown")
		}
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pingLoop keeps c alive until it closes.
func (h *Hub) pingLoop(c *client) {
	if h.cfg.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ping(h.cfg.WriteTimeout); err != nil {
				h.logger.Debug("ping failed", "conn_id", c.id, "error", err)
				return
			}
		}
	}
}

func encode(msgType string, data any) ([]byte, error) {
	msg, err := json.Marshal(envelope{Type: msgType, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msgType, err)
	}
	return msg, nil
}
