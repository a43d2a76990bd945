// Package auth handles bearer-token authentication against the queue
// server: logging in with staff or patient credentials, caching the issued
// JWT until it nears expiry, and verifying tokens presented to the hub.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrLoginFailed is returned when the server rejects the credentials.
var ErrLoginFailed = errors.New("login failed")

// Credentials identify a queue server account.
type Credentials struct {
	Email    string
	Password string
}

// LoadCredentials builds credentials, reading the password from
// passwordPath when password is empty.
func LoadCredentials(email, password, passwordPath string) (*Credentials, error) {
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if password == "" {
		if passwordPath == "" {
			return nil, fmt.Errorf("password or password file is required")
		}
		data, err := os.ReadFile(passwordPath)
		if err != nil {
			return nil, fmt.Errorf("read password file: %w", err)
		}
		password = strings.TrimSpace(string(data))
		if password == "" {
			return nil, fmt.Errorf("password file %s is empty", passwordPath)
		}
	}
	return &Credentials{Email: email, Password: password}, nil
}

// User is the account returned by a successful login.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	User        User   `json:"user"`
}

// DefaultRefreshSkew is how long before expiry a cached token is replaced.
const DefaultRefreshSkew = 5 * time.Minute

// Session logs in on demand and caches the access token. It is safe for
// concurrent use.
type Session struct {
	baseURL    string
	creds      Credentials
	httpClient *http.Client
	logger     *slog.Logger
	skew       time.Duration
	now        func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time // Zero when the token carries no exp claim
	user      User
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithHTTPClient sets the client used for login requests.
func WithHTTPClient(hc *http.Client) SessionOption {
	return func(s *Session) {
		s.httpClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithRefreshSkew sets how early tokens are refreshed.
func WithRefreshSkew(d time.Duration) SessionOption {
	return func(s *Session) {
		s.skew = d
	}
}

// NewSession creates a session for the API at baseURL (e.g.
// "http://localhost:8001/api"). No request is made until Token.
func NewSession(baseURL string, creds Credentials, opts ...SessionOption) *Session {
	s := &Session{
		baseURL:    strings.TrimRight(baseURL, "/"),
		creds:      creds,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     slog.Default(),
		skew:       DefaultRefreshSkew,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Token returns a valid access token, logging in if none is cached or the
// cached one expires within the refresh skew.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && (s.expiresAt.IsZero() || s.now().Add(s.skew).Before(s.expiresAt)) {
		return s.token, nil
	}
	if err := s.login(ctx); err != nil {
		return "", err
	}
	return s.token, nil
}

// Header returns an Authorization header carrying a valid token.
func (s *Session) Header(ctx context.Context) (http.Header, error) {
	token, err := s.Token(ctx)
	if err != nil {
		return nil, err
	}
	return http.Header{"Authorization": {"Bearer " + token}}, nil
}

// Invalidate drops the cached token so the next Token logs in again.
func (s *Session) Invalidate() {
	s.mu.Lock()
	s.token = ""
	s.expiresAt = time.Time{}
	s.mu.Unlock()
}

// User returns the account from the most recent login.
func (s *Session) User() User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// login posts the credentials. Caller holds mu.
func (s *Session) login(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{
		"email":    s.creds.Email,
		"password": s.creds.Password,
	})
	if err != nil {
		return fmt.Errorf("encode login: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read login response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d %s", ErrLoginFailed, resp.StatusCode, detail(data))
	}

	var lr loginResponse
	if err := json.Unmarshal(data, &lr); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}
	if lr.AccessToken == "" {
		return fmt.Errorf("%w: empty access token", ErrLoginFailed)
	}

	s.token = lr.AccessToken
	s.expiresAt = tokenExpiry(lr.AccessToken)
	s.user = lr.User

	s.logger.Info("logged in",
		"user_id", lr.User.ID,
		"role", lr.User.Role,
		"expires_at", s.expiresAt,
	)
	return nil
}

// tokenExpiry reads the exp claim without verifying the signature; the
// server that issued the token is the one that checks it.
func tokenExpiry(token string) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// detail extracts the error detail from a JSON error body.
func detail(body []byte) string {
	var e struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &e) == nil && e.Detail != "" {
		return e.Detail
	}
	return http.StatusText(http.StatusUnauthorized)
}
