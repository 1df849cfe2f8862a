package api

import (
	"log/slog"
	"net/http"
	"time"
)

// Default paths, relative to a backend base URL.
const (
	DefaultHealthPath = "/health"
	DefaultWhoAmIPath = "/api/room/whoami"
)

// Client talks to the HTTP side of any backend. The base URL is passed per
// call since the load balancer decides which backend to use.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger

	healthPath string
	whoamiPath string

	maxRetries   int
	retryBackoff time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new backend HTTP client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		logger:       slog.Default(),
		healthPath:   DefaultHealthPath,
		whoamiPath:   DefaultWhoAmIPath,
		maxRetries:   3,
		retryBackoff: time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithHealthPath overrides the health check path.
func WithHealthPath(path string) ClientOption {
	return func(c *Client) {
		c.healthPath = path
	}
}

// WithWhoAmIPath overrides the whoami path.
func WithWhoAmIPath(path string) ClientOption {
	return func(c *Client) {
		c.whoamiPath = path
	}
}
