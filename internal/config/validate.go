package config

import (
	"errors"
	"fmt"
	"net/url"
)

var validRoles = map[string]bool{"patient": true, "staff": true, "admin": true}

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := c.Stream.validate(); err != nil {
		return err
	}

	if err := c.API.validate(); err != nil {
		return err
	}

	if c.Hub.ListenAddr == "" {
		return errors.New("hub.listen_addr is required")
	}

	if c.Archive.Enabled {
		if err := c.Archive.Database.validate("archive.database"); err != nil {
			return err
		}
		if c.Archive.BatchSize < 1 {
			return errors.New("archive.batch_size must be >= 1")
		}
		if c.Archive.FlushInterval <= 0 {
			return errors.New("archive.flush_interval must be > 0")
		}
		if c.Archive.BufferSize < 1 {
			return errors.New("archive.buffer_size must be >= 1")
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func (s *StreamConfig) validate() error {
	if s.Endpoint == "" {
		return errors.New("stream.endpoint is required")
	}
	u, err := url.Parse(s.Endpoint)
	if err != nil {
		return fmt.Errorf("stream.endpoint: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("stream.endpoint must use ws or wss, got %q", u.Scheme)
	}
	if !validRoles[s.Role] {
		return fmt.Errorf("stream.role must be patient, staff or admin, got %q", s.Role)
	}
	if s.MaxReconnectAttempts != nil && *s.MaxReconnectAttempts < 0 {
		return errors.New("stream.max_reconnect_attempts must be >= 0")
	}
	if s.ReconnectInterval <= 0 {
		return errors.New("stream.reconnect_interval must be > 0")
	}
	switch s.Backoff {
	case BackoffFixed:
	case BackoffExponential:
		if s.MaxReconnectInterval < s.ReconnectInterval {
			return fmt.Errorf("stream.max_reconnect_interval (%s) cannot be less than reconnect_interval (%s)",
				s.MaxReconnectInterval, s.ReconnectInterval)
		}
	default:
		return fmt.Errorf("stream.backoff must be fixed or exponential, got %q", s.Backoff)
	}
	return nil
}

func (a *APIConfig) validate() error {
	if a.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	u, err := url.Parse(a.BaseURL)
	if err != nil {
		return fmt.Errorf("api.base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("api.base_url must use http or https, got %q", u.Scheme)
	}
	if a.Email != "" && a.Password == "" && a.PasswordFile == "" {
		return errors.New("api.password or api.password_file is required with api.email")
	}
	switch a.Poll {
	case PollOff:
	case PollFallback, PollAlways:
		if !a.Authenticated() {
			return fmt.Errorf("api.poll %q requires api.email", a.Poll)
		}
		if a.PollInterval <= 0 {
			return errors.New("api.poll_interval must be > 0")
		}
	default:
		return fmt.Errorf("api.poll must be off, fallback or always, got %q", a.Poll)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
