package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickgao/queuelink/internal/model"
)

// staticTokens hands out "token-N", bumping N on every Invalidate.
type staticTokens struct {
	generation  atomic.Int32
	invalidated atomic.Int32
	err         error
}

func (s *staticTokens) Token(context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "token-" + string(rune('0'+s.generation.Load())), nil
}

func (s *staticTokens) Invalidate() {
	s.invalidated.Add(1)
	s.generation.Add(1)
}

func fastClient(url string, tokens TokenSource) *Client {
	return NewClient(url, tokens, WithRetries(3, time.Millisecond))
}

func TestNewClient(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		c := NewClient("http://localhost:8001/api/", nil)

		if c.baseURL != "http://localhost:8001/api" {
			t.Errorf("baseURL = %q, want trailing slash trimmed", c.baseURL)
		}
		if c.httpClient.Timeout != DefaultTimeout {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, DefaultTimeout)
		}
		if c.maxRetries != DefaultMaxRetries {
			t.Errorf("maxRetries = %d, want %d", c.maxRetries, DefaultMaxRetries)
		}
		if c.retryBackoff != DefaultRetryBackoff {
			t.Errorf("retryBackoff = %v, want %v", c.retryBackoff, DefaultRetryBackoff)
		}
		if c.logger == nil {
			t.Error("logger should not be nil")
		}
	})

	t.Run("with options", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		c := NewClient("http://localhost", nil,
			WithTimeout(5*time.Second),
			WithRetries(10, 500*time.Millisecond),
			WithLogger(logger),
			WithUserAgent("queuelink/test"),
		)
		if c.httpClient.Timeout != 5*time.Second {
			t.Errorf("Timeout = %v, want 5s", c.httpClient.Timeout)
		}
		if c.maxRetries != 10 || c.retryBackoff != 500*time.Millisecond {
			t.Errorf("retries = %d/%v", c.maxRetries, c.retryBackoff)
		}
		if c.logger != logger {
			t.Error("logger not set correctly")
		}
		if c.userAgent != "queuelink/test" {
			t.Errorf("userAgent = %q", c.userAgent)
		}
	})

	t.Run("nil logger keeps default", func(t *testing.T) {
		c := NewClient("http://localhost", nil, WithLogger(nil))
		if c.logger == nil {
			t.Error("logger should not be nil")
		}
	})

	t.Run("with custom HTTP client", func(t *testing.T) {
		custom := &http.Client{Timeout: 10 * time.Second}
		c := NewClient("http://localhost", nil, WithHTTPClient(custom))
		if c.httpClient != custom {
			t.Error("custom HTTP client not set")
		}
	})
}

func TestAPIError(t *testing.T) {
	err := &APIError{StatusCode: 403, Message: "Staff access required"}
	if err.Error() != "queue api error 403: Staff access required" {
		t.Errorf("Error() = %q", err.Error())
	}

	for _, tt := range []struct {
		code int
		want bool
	}{
		{500, true}, {502, true}, {503, true}, {429, true},
		{400, false}, {401, false}, {403, false}, {404, false},
	} {
		if got := (&APIError{StatusCode: tt.code}).IsRetryable(); got != tt.want {
			t.Errorf("IsRetryable(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestDoRequest(t *testing.T) {
	t.Run("sends bearer token and headers", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get("Authorization"); got != "Bearer token-0" {
				t.Errorf("Authorization = %q", got)
			}
			if got := r.Header.Get("Accept"); got != "application/json" {
				t.Errorf("Accept = %q", got)
			}
			if got := r.Header.Get("User-Agent"); got != "queuelink/test" {
				t.Errorf("User-Agent = %q", got)
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, &staticTokens{}, WithUserAgent("queuelink/test"))
		if _, err := c.doRequest(context.Background(), "/queue", true); err != nil {
			t.Fatalf("doRequest failed: %v", err)
		}
	})

	t.Run("unauthenticated request sends no token", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get("Authorization"); got != "" {
				t.Errorf("Authorization = %q, want empty", got)
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, &staticTokens{})
		if _, err := c.doRequest(context.Background(), "/health", false); err != nil {
			t.Fatalf("doRequest failed: %v", err)
		}
	})

	t.Run("missing token source", func(t *testing.T) {
		c := NewClient("http://localhost", nil)
		if _, err := c.doRequest(context.Background(), "/queue", true); !errors.Is(err, ErrNoTokenSource) {
			t.Errorf("err = %v, want ErrNoTokenSource", err)
		}
	})

	t.Run("token source error", func(t *testing.T) {
		c := NewClient("http://localhost", &staticTokens{err: errors.New("login failed")})
		_, err := c.doRequest(context.Background(), "/queue", true)
		if err == nil || !strings.Contains(err.Error(), "get token: login failed") {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("error detail becomes message", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"detail":"Staff access required"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, &staticTokens{})
		_, err := c.doRequest(context.Background(), "/analytics/dashboard", true)

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected APIError, got %T", err)
		}
		if apiErr.StatusCode != http.StatusForbidden || apiErr.Message != "Staff access required" {
			t.Errorf("apiErr = %+v", apiErr)
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(100 * time.Millisecond)
		}))
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		c := NewClient(server.URL, nil)
		if _, err := c.doRequest(ctx, "/health", false); err == nil {
			t.Error("expected error for cancelled context")
		}
	})
}

func TestDoWithRetry(t *testing.T) {
	t.Run("retries on 5xx and succeeds", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(`{"status":"healthy"}`))
		}))
		defer server.Close()

		c := fastClient(server.URL, nil)
		if _, err := c.doWithRetry(context.Background(), "/health", false); err != nil {
			t.Fatalf("doWithRetry failed: %v", err)
		}
		if calls.Load() != 3 {
			t.Errorf("calls = %d, want 3", calls.Load())
		}
	})

	t.Run("does not retry on 4xx", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		c := fastClient(server.URL, &staticTokens{})
		if _, err := c.doWithRetry(context.Background(), "/tokens/x", true); err == nil {
			t.Fatal("expected error")
		}
		if calls.Load() != 1 {
			t.Errorf("calls = %d, want 1", calls.Load())
		}
	})

	t.Run("max retries exceeded", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		c := fastClient(server.URL, nil)
		_, err := c.doWithRetry(context.Background(), "/health", false)
		if err == nil || !strings.Contains(err.Error(), "max retries exceeded") {
			t.Errorf("err = %v, want max retries exceeded", err)
		}
		if calls.Load() != 4 {
			t.Errorf("calls = %d, want 4 (1 + 3 retries)", calls.Load())
		}
	})

	t.Run("401 refreshes token once", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			if r.Header.Get("Authorization") != "Bearer token-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte(`{"queue":[],"total_count":0}`))
		}))
		defer server.Close()

		tokens := &staticTokens{}
		c := NewClient(server.URL, tokens, WithRetries(0, time.Millisecond))
		if _, err := c.doWithRetry(context.Background(), "/queue", true); err != nil {
			t.Fatalf("doWithRetry failed: %v", err)
		}
		if tokens.invalidated.Load() != 1 {
			t.Errorf("invalidated = %d, want 1", tokens.invalidated.Load())
		}
		if calls.Load() != 2 {
			t.Errorf("calls = %d, want 2", calls.Load())
		}
	})

	t.Run("persistent 401 fails", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		tokens := &staticTokens{}
		c := fastClient(server.URL, tokens)
		_, err := c.doWithRetry(context.Background(), "/queue", true)

		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
			t.Errorf("err = %v, want 401", err)
		}
		if tokens.invalidated.Load() != 1 {
			t.Errorf("invalidated = %d, want 1", tokens.invalidated.Load())
		}
	})

	t.Run("context cancellation during retry", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		c := NewClient(server.URL, nil, WithRetries(5, time.Second))
		if _, err := c.doWithRetry(ctx, "/health", false); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("err = %v, want deadline exceeded", err)
		}
	})
}

func TestGetQueue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/queue" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{
			"queue": [
				{"token_id":"a","token_number":"C001","patient_name":"Asha","priority_level":1,"position":1,"estimated_wait_time":0,"status":"active","created_at":"2025-03-01T09:00:00Z"},
				{"token_id":"b","token_number":"M002","patient_name":"Ravi","priority_level":4,"position":2,"estimated_wait_time":20,"status":"active","created_at":"2025-03-01T09:01:00Z"}
			],
			"total_count": 2
		}`))
	}))
	defer server.Close()

	c := fastClient(server.URL+"/api", &staticTokens{})
	resp, err := c.GetQueue(context.Background())
	if err != nil {
		t.Fatalf("GetQueue failed: %v", err)
	}
	if resp.TotalCount != 2 || len(resp.Queue) != 2 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Queue[0].PriorityLevel != model.PriorityCritical {
		t.Errorf("PriorityLevel = %v, want CRITICAL", resp.Queue[0].PriorityLevel)
	}
	if resp.Queue[1].EstimatedWaitTime != 20 {
		t.Errorf("EstimatedWaitTime = %d, want 20", resp.Queue[1].EstimatedWaitTime)
	}
}

func TestGetToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() != "/tokens/tok%2F1" {
			t.Errorf("path = %s, want escaped id", r.URL.EscapedPath())
		}
		w.Write([]byte(`{"id":"tok/1","token_number":"H004","priority_level":2,"status":"active"}`))
	}))
	defer server.Close()

	c := fastClient(server.URL, &staticTokens{})
	tok, err := c.GetToken(context.Background(), "tok/1")
	if err != nil {
		t.Fatalf("GetToken failed: %v", err)
	}
	if tok.ID != "tok/1" || tok.PriorityLevel != model.PriorityHigh {
		t.Errorf("tok = %+v", tok)
	}
}

func TestGetDashboardAnalytics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"total_tokens_today":12,"active_tokens":5,"completed_tokens_today":7,"average_wait_time":18.5,"priority_distribution":{"CRITICAL":1,"HIGH":3}}`))
	}))
	defer server.Close()

	c := fastClient(server.URL, &staticTokens{})
	a, err := c.GetDashboardAnalytics(context.Background())
	if err != nil {
		t.Fatalf("GetDashboardAnalytics failed: %v", err)
	}
	if a.ActiveTokens != 5 || a.AverageWaitTime != 18.5 || a.PriorityDistribution["HIGH"] != 3 {
		t.Errorf("analytics = %+v", a)
	}
}

func TestHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"healthy","timestamp":"2025-03-01T09:00:00+00:00"}`))
	}))
	defer server.Close()

	c := fastClient(server.URL, nil)
	h, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if h.Status != "healthy" {
		t.Errorf("Status = %q", h.Status)
	}
}
