package hub

import (
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrUnknownRole      = errors.New("unknown role")
	ErrUserNotConnected = errors.New("user not connected")
	ErrHubClosed        = errors.New("hub closed")
)

// Role groups connections for broadcast.
type Role string

const (
	RolePatient Role = "patient"
	RoleStaff   Role = "staff"
	RoleAdmin   Role = "admin"
)

// Roles lists every role in broadcast order.
var Roles = []Role{RolePatient, RoleStaff, RoleAdmin}

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RolePatient, RoleStaff, RoleAdmin:
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

// Envelope types.
const (
	TypeQueueUpdate     = "queue_update"
	TypeTokenUpdate     = "token_update"
	TypeAnalyticsUpdate = "analytics_update"
)

// envelope is the wire shape of every hub message.
type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Config configures a Hub.
type Config struct {
	WriteTimeout   time.Duration // Per-message write deadline
	PingInterval   time.Duration // Server keepalive pings (0 disables)
	AllowedOrigins []string      // Empty allows any origin
	ReadLimit      int64         // Max inbound frame size

	// Verifier, when set, requires a bearer token (Authorization header or
	// ?token=) whose subject matches user_id.
	Verifier TokenVerifier
}

// TokenVerifier validates a token and returns its subject.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		WriteTimeout: 5 * time.Second,
		PingInterval: 25 * time.Second,
		ReadLimit:    64 * 1024,
	}
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Users        int
	Connections  map[Role]int
	MessagesSent int64
	SendFailures int64
}

// Total returns the number of registered connections.
func (s Stats) Total() int {
	n := 0
	for _, c := range s.Connections {
		n += c
	}
	return n
}
