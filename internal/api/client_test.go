package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewClient(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	custom := &http.Client{Timeout: 10 * time.Second}

	tests := []struct {
		name  string
		opts  []ClientOption
		check func(t *testing.T, c *Client)
	}{
		{
			name: "defaults",
			check: func(t *testing.T, c *Client) {
				if c.healthPath != DefaultHealthPath || c.whoamiPath != DefaultWhoAmIPath {
					t.Errorf("paths = %q, %q", c.healthPath, c.whoamiPath)
				}
				if c.httpClient.Timeout != 5*time.Second {
					t.Errorf("Timeout = %v, want 5s", c.httpClient.Timeout)
				}
				if c.maxRetries != 3 || c.retryBackoff != time.Second {
					t.Errorf("retries = %d/%v, want 3/1s", c.maxRetries, c.retryBackoff)
				}
				if c.logger == nil {
					t.Error("logger should not be nil")
				}
			},
		},
		{
			name: "timeout and retries",
			opts: []ClientOption{WithTimeout(15 * time.Second), WithRetries(10, 500*time.Millisecond)},
			check: func(t *testing.T, c *Client) {
				if c.httpClient.Timeout != 15*time.Second {
					t.Errorf("Timeout = %v", c.httpClient.Timeout)
				}
				if c.maxRetries != 10 || c.retryBackoff != 500*time.Millisecond {
					t.Errorf("retries = %d/%v", c.maxRetries, c.retryBackoff)
				}
			},
		},
		{
			name: "logger",
			opts: []ClientOption{WithLogger(logger)},
			check: func(t *testing.T, c *Client) {
				if c.logger != logger {
					t.Error("logger not set")
				}
			},
		},
		{
			name: "custom http client",
			opts: []ClientOption{WithHTTPClient(custom)},
			check: func(t *testing.T, c *Client) {
				if c.httpClient != custom {
					t.Error("custom HTTP client not set")
				}
			},
		},
		{
			name: "paths",
			opts: []ClientOption{WithHealthPath("/healthz"), WithWhoAmIPath("/whoami")},
			check: func(t *testing.T, c *Client) {
				if c.healthPath != "/healthz" || c.whoamiPath != "/whoami" {
					t.Errorf("paths = %q, %q", c.healthPath, c.whoamiPath)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, NewClient(tt.opts...))
		})
	}
}

func TestAPIError(t *testing.T) {
	err := &APIError{StatusCode: 404, Message: "Not Found", Body: []byte(`{"error": "room not found"}`)}
	if got := err.Error(); got != "backend api error 404: Not Found" {
		t.Errorf("Error() = %q", got)
	}

	retryable := map[int]bool{
		500: true, 502: true, 503: true, 504: true, 429: true,
		400: false, 401: false, 404: false, 499: false, 200: false,
	}
	for code, want := range retryable {
		if got := (&APIError{StatusCode: code}).IsRetryable(); got != want {
			t.Errorf("IsRetryable(%d) = %v, want %v", code, got, want)
		}
	}
}

func TestDoRequest(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantErr  bool
		wantCode int
	}{
		{name: "ok", status: http.StatusOK, body: `{"status":"ok"}`},
		{name: "no content is success", status: http.StatusNoContent},
		{name: "not found", status: http.StatusNotFound, body: `{"error":"not found"}`, wantErr: true, wantCode: 404},
		{name: "unavailable", status: http.StatusServiceUnavailable, body: "draining", wantErr: true, wantCode: 503},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if got := r.Header.Get("Accept"); got != "application/json" {
					t.Errorf("Accept = %q", got)
				}
				if r.URL.Path != "/api/room/whoami" || r.URL.Query().Get("probe") != "1" {
					t.Errorf("request = %s", r.URL)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			body, err := NewClient().doRequest(context.Background(), http.MethodGet,
				server.URL+"/api/room/whoami", map[string][]string{"probe": {"1"}})

			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if string(body) != tt.body {
					t.Errorf("body = %q, want %q", body, tt.body)
				}
				return
			}

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("err = %v, want *APIError", err)
			}
			if apiErr.StatusCode != tt.wantCode || string(apiErr.Body) != tt.body {
				t.Errorf("APIError = %d %q", apiErr.StatusCode, apiErr.Body)
			}
		})
	}

	t.Run("cancelled context", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := NewClient().doRequest(ctx, http.MethodGet, server.URL, nil)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})
}

func TestDoWithRetry(t *testing.T) {
	tests := []struct {
		name         string
		statuses     []int // Answers in order; the last one repeats
		retries      int
		wantAttempts int32
		wantErr      string
	}{
		{name: "first try", statuses: []int{200}, retries: 3, wantAttempts: 1},
		{name: "5xx then ok", statuses: []int{500, 502, 200}, retries: 3, wantAttempts: 3},
		{name: "429 then ok", statuses: []int{429, 200}, retries: 3, wantAttempts: 2},
		{name: "4xx is final", statuses: []int{400}, retries: 3, wantAttempts: 1, wantErr: "400"},
		{name: "budget exhausted", statuses: []int{503}, retries: 2, wantAttempts: 3, wantErr: "max retries exceeded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := int(attempts.Add(1))
				status := tt.statuses[min(n, len(tt.statuses))-1]
				w.WriteHeader(status)
				if status == http.StatusOK {
					w.Write([]byte(`{"ok":true}`))
				}
			}))
			defer server.Close()

			c := NewClient(WithRetries(tt.retries, 10*time.Millisecond))
			body, err := c.doWithRetry(context.Background(), http.MethodGet, server.URL, nil)

			if got := attempts.Load(); got != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", got, tt.wantAttempts)
			}
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if string(body) != `{"ok":true}` {
					t.Errorf("body = %q", body)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}

	t.Run("context ends during backoff", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
		defer cancel()

		_, err := NewClient(WithRetries(5, 50*time.Millisecond)).doWithRetry(ctx, http.MethodGet, server.URL, nil)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("err = %v, want deadline exceeded", err)
		}
	})
}

// TestGetWhoAmI tests the GetWhoAmI method.
func TestGetWhoAmI(t *testing.T) {
	t.Run("successful response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != DefaultWhoAmIPath {
				t.Errorf("path = %q, want %q", r.URL.Path, DefaultWhoAmIPath)
			}
			json.NewEncoder(w).Encode(WhoAmI{
				Instance: "backend-1",
				Time:     "2024-03-01T15:04:05Z",
				Domain:   "example.test",
			})
		}))
		defer server.Close()

		c := NewClient()
		info, err := c.GetWhoAmI(context.Background(), server.URL+"/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if info.Instance != "backend-1" || info.Domain != "example.test" {
			t.Errorf("info = %+v", info)
		}
		ts, err := info.ParsedTime()
		if err != nil {
			t.Fatalf("ParsedTime: %v", err)
		}
		if ts.Hour() != 15 {
			t.Errorf("hour = %d, want 15", ts.Hour())
		}
	})

	t.Run("missing domain", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"instance":"b","time":"2024-03-01T15:04:05Z"}`))
		}))
		defer server.Close()

		info, err := NewClient().GetWhoAmI(context.Background(), server.URL)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if info.Domain != "" {
			t.Errorf("Domain = %q, want empty", info.Domain)
		}
	})

	t.Run("server error is wrapped", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		_, err := NewClient().GetWhoAmI(context.Background(), server.URL)
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected APIError, got %v", err)
		}
		if apiErr.StatusCode != http.StatusNotFound {
			t.Errorf("StatusCode = %d, want 404", apiErr.StatusCode)
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`not json`))
		}))
		defer server.Close()

		_, err := NewClient().GetWhoAmI(context.Background(), server.URL)
		if err == nil || !strings.Contains(err.Error(), "unmarshal") {
			t.Errorf("expected unmarshal error, got %v", err)
		}
	})
}

// TestCheckHealth tests the CheckHealth method.
func TestCheckHealth(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		delay   time.Duration
		timeout time.Duration
		wantErr bool
	}{
		{"200 ok", http.StatusOK, 0, time.Second, false},
		{"204 no content", http.StatusNoContent, 0, time.Second, false},
		{"503 unhealthy", http.StatusServiceUnavailable, 0, time.Second, true},
		{"timeout", http.StatusOK, 200 * time.Millisecond, 50 * time.Millisecond, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&attempts, 1)
				if r.URL.Path != DefaultHealthPath {
					t.Errorf("path = %q, want %q", r.URL.Path, DefaultHealthPath)
				}
				if tt.delay > 0 {
					time.Sleep(tt.delay)
				}
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			c := NewClient(WithRetries(3, 10*time.Millisecond))
			ctx, cancel := context.WithTimeout(context.Background(), tt.timeout)
			defer cancel()

			rt, err := c.CheckHealth(ctx, server.URL)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && rt <= 0 {
				t.Errorf("response time = %v, want > 0", rt)
			}
			if n := atomic.LoadInt32(&attempts); n != 1 {
				t.Errorf("attempts = %d, want 1 (no retries)", n)
			}
		})
	}
}
