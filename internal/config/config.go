package config

import (
	"net/url"
	"time"
)

// Config is the root configuration for a queuelink process.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	Stream   StreamConfig   `yaml:"stream"`
	API      APIConfig      `yaml:"api"`
	Hub      HubConfig      `yaml:"hub"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// InstanceConfig identifies this process.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// StreamConfig holds the queue stream connection settings.
type StreamConfig struct {
	Endpoint string `yaml:"endpoint"` // ws:// or wss:// base URL
	UserID   string `yaml:"user_id"`  // Sent as ?user_id=
	Role     string `yaml:"role"`     // patient, staff or admin

	// MaxReconnectAttempts is a pointer so an explicit 0 (never retry)
	// survives defaulting.
	MaxReconnectAttempts *int          `yaml:"max_reconnect_attempts"`
	ReconnectInterval    time.Duration `yaml:"reconnect_interval"`
	Backoff              string        `yaml:"backoff"` // fixed or exponential
	MaxReconnectInterval time.Duration `yaml:"max_reconnect_interval"`

	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	PingTimeout      time.Duration `yaml:"ping_timeout"`
}

// URL returns the endpoint with user_id and role added to the query.
func (s StreamConfig) URL() (string, error) {
	u, err := url.Parse(s.Endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if s.UserID != "" {
		q.Set("user_id", s.UserID)
	}
	if s.Role != "" {
		q.Set("role", s.Role)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Attempts returns the configured retry budget.
func (s StreamConfig) Attempts() int {
	if s.MaxReconnectAttempts == nil {
		return DefaultMaxReconnectAttempts
	}
	return *s.MaxReconnectAttempts
}

// APIConfig holds the queue REST API settings used for login and polling.
type APIConfig struct {
	BaseURL      string        `yaml:"base_url"` // e.g. http://localhost:8001/api
	Email        string        `yaml:"email"`    // Empty disables login
	Password     string        `yaml:"password"`
	PasswordFile string        `yaml:"password_file"`
	Timeout      time.Duration `yaml:"timeout"`

	// Poll is off, fallback (only while the stream is not connected) or
	// always.
	Poll          string        `yaml:"poll"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	PollAnalytics bool          `yaml:"poll_analytics"`
}

// Authenticated reports whether login credentials are configured.
func (a APIConfig) Authenticated() bool {
	return a.Email != ""
}

// HubConfig holds the broadcast hub server settings.
type HubConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	AllowedOrigins []string      `yaml:"allowed_origins"` // Empty allows any origin
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	JWTSecret      string        `yaml:"jwt_secret"` // Non-empty requires ?token= on /ws
}

// ArchiveConfig controls the optional PostgreSQL archive of routed updates.
type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Name            string `yaml:"name"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	SSLMode         string `yaml:"ssl_mode"`
	ApplicationName string `yaml:"application_name"`
	MaxConns        int    `yaml:"max_conns"`
	MinConns        int    `yaml:"min_conns"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
