package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Errors
var (
	ErrNotConnected      = errors.New("not connected")
	ErrStaleConnection   = errors.New("connection stale (no ping)")
	ErrRetryExhausted    = errors.New("reconnect attempts exhausted")
	ErrAbnormalClosure   = errors.New("connection closed abnormally")
	ErrManagerClosed     = errors.New("manager closed")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// ConfigError reports an invalid Config at construction time.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config [%s]: %s", e.Field, e.Reason)
}

// Config configures a Manager. It is copied on construction and never
// modified afterwards.
type Config struct {
	Endpoint             string        // ws:// or wss:// URL of the queue stream
	MaxReconnectAttempts int           // Automatic retries before Failed (0 = none)
	ReconnectInterval    time.Duration // Delay before each automatic retry
	HandshakeTimeout     time.Duration // Dial + upgrade deadline
	WriteTimeout         time.Duration // Write deadline for sends
	PingInterval         time.Duration // Keepalive ping period
	PingTimeout          time.Duration // Max time without ping/pong before the connection is stale
}

// DefaultConfig returns sensible defaults. Endpoint must still be set.
func DefaultConfig() Config {
	return Config{
		MaxReconnectAttempts: 5,
		ReconnectInterval:    3 * time.Second,
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         5 * time.Second,
		PingInterval:         30 * time.Second,
		PingTimeout:          60 * time.Second,
	}
}

// Validate checks the endpoint and retry settings.
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return &ConfigError{Field: "endpoint", Reason: "required"}
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return &ConfigError{Field: "endpoint", Reason: err.Error()}
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return &ConfigError{Field: "endpoint", Reason: fmt.Sprintf("scheme must be ws or wss, got %q", u.Scheme)}
	}
	if u.Host == "" {
		return &ConfigError{Field: "endpoint", Reason: "missing host"}
	}
	if c.MaxReconnectAttempts < 0 {
		return &ConfigError{Field: "max_reconnect_attempts", Reason: "must be >= 0"}
	}
	if c.ReconnectInterval <= 0 {
		return &ConfigError{Field: "reconnect_interval", Reason: "must be > 0"}
	}
	return nil
}

// Message is one successfully decoded inbound frame.
//
// Frames shaped as a queue envelope ({"type": ..., "data": ...}) also have
// Type and Data populated; other JSON values only carry Raw.
type Message struct {
	Raw        json.RawMessage // Entire frame
	Type       string          // Envelope type, if any
	Data       json.RawMessage // Envelope data, if any
	ReceivedAt time.Time       // Local timestamp when the frame was read
}

// Decode unmarshals the whole frame into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Raw, v)
}

// DecodeData unmarshals the envelope data into v.
func (m Message) DecodeData(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("message %q has no data", m.Type)
	}
	return json.Unmarshal(m.Data, v)
}

// StateChange is delivered to state subscribers on every transition.
type StateChange struct {
	From    State
	To      State
	Attempt int   // Reconnect counter after the transition
	Err     error // Cause, for transitions driven by a close or exhaustion
	At      time.Time
}

// ManagerStats provides counters for monitoring.
type ManagerStats struct {
	State             State
	ReconnectAttempts int   // Current reconnect counter
	Dials             int64 // Handles opened (initial + retries)
	Opens             int64 // Successful opens
	AbnormalCloses    int64
	MessagesReceived  int64 // Decoded frames
	DecodeErrors      int64 // Dropped frames
	SendsDropped      int64 // Send calls rejected while not connected
	Failures          int64 // Entries into Failed
}
