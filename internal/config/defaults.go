package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInstanceID           = "queuelink"
	DefaultStreamEndpoint       = "ws://localhost:8001/ws"
	DefaultRole                 = "patient"
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectInterval    = 3 * time.Second
	DefaultBackoff              = BackoffFixed
	DefaultMaxReconnectInterval = 30 * time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultPingInterval         = 30 * time.Second
	DefaultPingTimeout          = 60 * time.Second
	DefaultAPIBaseURL           = "http://localhost:8001/api"
	DefaultAPITimeout           = 30 * time.Second
	DefaultPollMode             = PollOff
	DefaultPollInterval         = time.Minute
	DefaultHubListenAddr        = ":8001"
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultApplicationName      = "queuelink"
	DefaultMaxConns             = 4
	DefaultMinConns             = 1
	DefaultBatchSize            = 500
	DefaultFlushInterval        = 2 * time.Second
	DefaultBufferSize           = 256
	DefaultMetricsPort          = 9090
	DefaultMetricsPath          = "/metrics"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
)

// Poll modes.
const (
	PollOff      = "off"
	PollFallback = "fallback"
	PollAlways   = "always"
)

// Backoff names.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

func (c *Config) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// Stream defaults
	if c.Stream.Endpoint == "" {
		c.Stream.Endpoint = DefaultStreamEndpoint
	}
	if c.Stream.Role == "" {
		c.Stream.Role = DefaultRole
	}
	if c.Stream.MaxReconnectAttempts == nil {
		n := DefaultMaxReconnectAttempts
		c.Stream.MaxReconnectAttempts = &n
	}
	if c.Stream.ReconnectInterval == 0 {
		c.Stream.ReconnectInterval = DefaultReconnectInterval
	}
	if c.Stream.Backoff == "" {
		c.Stream.Backoff = DefaultBackoff
	}
	if c.Stream.MaxReconnectInterval == 0 {
		c.Stream.MaxReconnectInterval = DefaultMaxReconnectInterval
	}
	if c.Stream.HandshakeTimeout == 0 {
		c.Stream.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Stream.WriteTimeout == 0 {
		c.Stream.WriteTimeout = DefaultWriteTimeout
	}
	if c.Stream.PingInterval == 0 {
		c.Stream.PingInterval = DefaultPingInterval
	}
	if c.Stream.PingTimeout == 0 {
		c.Stream.PingTimeout = DefaultPingTimeout
	}

	// API defaults
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultAPIBaseURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.Poll == "" {
		c.API.Poll = DefaultPollMode
	}
	if c.API.PollInterval == 0 {
		c.API.PollInterval = DefaultPollInterval
	}

	// Hub defaults
	if c.Hub.ListenAddr == "" {
		c.Hub.ListenAddr = DefaultHubListenAddr
	}
	if c.Hub.WriteTimeout == 0 {
		c.Hub.WriteTimeout = DefaultWriteTimeout
	}

	// Archive defaults
	applyDBDefaults(&c.Archive.Database)
	if c.Archive.BatchSize == 0 {
		c.Archive.BatchSize = DefaultBatchSize
	}
	if c.Archive.FlushInterval == 0 {
		c.Archive.FlushInterval = DefaultFlushInterval
	}
	if c.Archive.BufferSize == 0 {
		c.Archive.BufferSize = DefaultBufferSize
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.ApplicationName == "" {
		db.ApplicationName = DefaultApplicationName
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
