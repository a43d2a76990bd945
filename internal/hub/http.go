package hub

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

const maxBodyBytes = 1 << 20

// Routes returns the hub's HTTP surface:
//
//	GET  /ws?user_id=&role=[&token=] WebSocket upgrade
//	POST /broadcast/{role}         raw JSON to a role, or "all"
//	POST /updates/queue            queue_update to staff and admin
//	POST /updates/token?user_id=   token_update to the user, staff and admin
//	POST /updates/analytics        analytics_update to staff and admin
//	GET  /healthz
func (h *Hub) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/ws", h.serveWS)
	r.Get("/healthz", h.serveHealth)
	r.Post("/broadcast/{role}", h.serveBroadcast)
	r.Route("/updates", func(r chi.Router) {
		r.Post("/queue", h.serveUpdate(func(data json.RawMessage, _ *http.Request) (int, error) {
			return h.SendQueueUpdate(data)
		}))
		r.Post("/token", h.serveUpdate(func(data json.RawMessage, req *http.Request) (int, error) {
			return h.SendTokenUpdate(data, req.URL.Query().Get("user_id"))
		}))
		r.Post("/analytics", h.serveUpdate(func(data json.RawMessage, _ *http.Request) (int, error) {
			return h.SendAnalyticsUpdate(data)
		}))
	})

	return r
}

func (h *Hub) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      h.checkOrigin,
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	role, err := ParseRole(r.URL.Query().Get("role"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.cfg.Verifier != nil {
		sub, err := h.cfg.Verifier.Verify(bearerToken(r))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if sub != userID {
			writeError(w, http.StatusForbidden, "token does not match user_id")
			return
		}
	}

	up := h.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Warn("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}

	c, err := h.register(conn, userID, role)
	if err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, err.Error()),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	go h.pingLoop(c)

	// Inbound frames are not part of the protocol; reading keeps control
	// frames flowing and detects disconnects.
	if h.cfg.ReadLimit > 0 {
		conn.SetReadLimit(h.cfg.ReadLimit)
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("client read error", "conn_id", c.id, "error", err)
			}
			break
		}
	}

	h.unregister(c)
	c.close(websocket.CloseNormalClosure, "")
}

// bearerToken reads the Authorization header, falling back to ?token= for
// browsers that cannot set headers on a WebSocket handshake.
func bearerToken(r *http.Request) string {
	if v := r.Header.Get("Authorization"); strings.HasPrefix(v, "Bearer ") {
		return strings.TrimPrefix(v, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func (h *Hub) serveHealth(w http.ResponseWriter, r *http.Request) {
	s := h.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"users":       s.Users,
		"connections": s.Total(),
	})
}

func (h *Hub) serveBroadcast(w http.ResponseWriter, r *http.Request) {
	body, err := readJSONBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	target := chi.URLParam(r, "role")
	var delivered int
	if target == "all" {
		delivered = h.BroadcastAll(body)
	} else {
		role, err := ParseRole(target)
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		delivered = h.BroadcastRole(role, body)
	}

	writeJSON(w, http.StatusAccepted, map[string]int{"delivered": delivered})
}

func (h *Hub) serveUpdate(send func(json.RawMessage, *http.Request) (int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readJSONBody(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		delivered, err := send(json.RawMessage(body), r)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]int{"delivered": delivered})
	}
}

func readJSONBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxBodyBytes {
		return nil, errors.New("body too large")
	}
	if !json.Valid(body) {
		return nil, errors.New("body must be valid JSON")
	}
	return body, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
