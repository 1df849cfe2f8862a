package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/cursor-sync/internal/hubproto"
)

const maxNegotiateRedirects = 100

// Client represents a single websocket connection to a backend hub.
type Client interface {
	// Connect negotiates, dials and completes the hub handshake.
	Connect(ctx context.Context) error

	// Close gracefully closes the connection.
	Close() error

	// Send writes one or more encoded hub records to the connection.
	Send(data []byte) error

	// Messages returns a channel of raw frames received after the handshake.
	// Each message includes a local timestamp for when it was received.
	Messages() <-chan TimestampedMessage

	// Errors returns a channel of connection errors.
	Errors() <-chan error

	// IsConnected returns current connection state.
	IsConnected() bool
}

// client implements the Client interface.
type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn *websocket.Conn

	// Output channels
	messages chan TimestampedMessage
	errors   chan error
	done     chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// State
	mu         sync.RWMutex
	connected  bool
	lastSeenAt time.Time
	closed     bool
}

// NewClient creates a new websocket hub client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1
	}

	return &client{
		cfg:      cfg,
		logger:   logger,
		messages: make(chan TimestampedMessage, cfg.BufferSize),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
	}
}

// Connect establishes the websocket connection and performs the handshake.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	hubURL := strings.TrimRight(c.cfg.URL, "/") + c.cfg.HubPath

	header := http.Header{}
	for k, v := range c.cfg.Header {
		header[k] = append([]string(nil), v...)
	}

	token := ""
	if !c.cfg.SkipNegotiation {
		neg, finalURL, accessToken, err := c.negotiate(ctx, hubURL, header)
		if err != nil {
			return fmt.Errorf("negotiate: %w", err)
		}
		hubURL = finalURL
		token = neg.Token()
		if accessToken != "" {
			header.Set("Authorization", "Bearer "+accessToken)
		}
	}

	wsURL, err := websocketURL(hubURL, token)
	if err != nil {
		return err
	}

	// Dial with context
	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: status %d: %w", wsURL, resp.StatusCode, err)
		}
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}

	rest, err := c.handshake(ctx, conn)
	if err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrAlreadyClosed
	}
	c.conn = conn
	c.connected = true
	c.lastSeenAt = time.Now()
	c.mu.Unlock()

	// Server-initiated websocket pings count as traffic.
	conn.SetPingHandler(func(data string) error {
		c.touch()
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	conn.SetPongHandler(func(data string) error {
		c.touch()
		return nil
	})

	if len(rest) > 0 {
		c.messages <- TimestampedMessage{Data: rest, ReceivedAt: time.Now()}
	}

	// Start goroutines
	go c.readLoop()
	go c.heartbeatLoop()

	c.logger.Debug("hub connected", "url", wsURL)

	return nil
}

// handshake sends the protocol handshake and waits for the reply. Records
// that arrive in the same frame as the reply are returned.
func (c *client) handshake(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	deadline := time.Now().Add(c.cfg.HandshakeTimeout)
	if c.cfg.HandshakeTimeout <= 0 {
		deadline = time.Time{}
	}

	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, hubproto.EncodeHandshake()); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("write handshake: %w", err)
	}

	conn.SetReadDeadline(deadline)
	_, data, err := conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("read handshake: %w", err)
	}
	conn.SetReadDeadline(time.Time{})
	conn.SetWriteDeadline(time.Time{})

	return hubproto.ParseHandshakeResponse(data)
}

// negotiate asks the hub for a connection token, following redirects to
// another service when told to.
func (c *client) negotiate(ctx context.Context, hubURL string, header http.Header) (hubproto.NegotiateResponse, string, string, error) {
	httpClient := c.cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: c.cfg.HandshakeTimeout}
	}

	accessToken := ""
	for i := 0; i < maxNegotiateRedirects; i++ {
		negURL, err := negotiateURL(hubURL)
		if err != nil {
			return hubproto.NegotiateResponse{}, "", "", err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, negURL, nil)
		if err != nil {
			return hubproto.NegotiateResponse{}, "", "", fmt.Errorf("create request: %w", err)
		}
		for k, v := range header {
			req.Header[k] = v
		}
		if accessToken != "" {
			req.Header.Set("Authorization", "Bearer "+accessToken)
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			return hubproto.NegotiateResponse{}, "", "", fmt.Errorf("do request: %w", err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return hubproto.NegotiateResponse{}, "", "", fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return hubproto.NegotiateResponse{}, "", "", fmt.Errorf("unexpected status %d", resp.StatusCode)
		}

		var neg hubproto.NegotiateResponse
		if err := json.Unmarshal(body, &neg); err != nil {
			return hubproto.NegotiateResponse{}, "", "", fmt.Errorf("unmarshal response: %w", err)
		}
		if neg.Error != "" {
			return hubproto.NegotiateResponse{}, "", "", &HubError{Method: "negotiate", Message: neg.Error}
		}

		if neg.URL != "" {
			c.logger.Debug("negotiate redirect", "url", neg.URL)
			hubURL = neg.URL
			accessToken = neg.AccessToken
			continue
		}

		if !neg.SupportsWebSockets() {
			return hubproto.NegotiateResponse{}, "", "", ErrWebSocketsNotSupported
		}
		return neg, hubURL, accessToken, nil
	}

	return hubproto.NegotiateResponse{}, "", "", fmt.Errorf("too many negotiate redirects")
}

// Close gracefully closes the connection.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	c.mu.Unlock()

	// Signal goroutines to stop
	close(c.done)

	// Close the websocket connection
	if conn != nil {
		c.writeMu.Lock()
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		return conn.Close()
	}

	return nil
}

// Send writes raw bytes to the connection.
func (c *client) Send(data []byte) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Messages returns the messages channel.
func (c *client) Messages() <-chan TimestampedMessage {
	return c.messages
}

// Errors returns the errors channel.
func (c *client) Errors() <-chan error {
	return c.errors
}

// IsConnected returns the current connection state.
func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *client) touch() {
	c.mu.Lock()
	c.lastSeenAt = time.Now()
	c.mu.Unlock()
}

func (c *client) fail(err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	select {
	case c.errors <- err:
	default:
	}
}

// readLoop reads frames from the websocket and sends them to the messages channel.
func (c *client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now() // Capture timestamp immediately

		if err != nil {
			// Ignore errors after Close() is called
			select {
			case <-c.done:
				return
			default:
				c.fail(err)
				return
			}
		}

		c.touch()

		msg := TimestampedMessage{
			Data:       data,
			ReceivedAt: receivedAt,
		}

		select {
		case c.messages <- msg:
		case <-c.done:
			return
		default:
			c.logger.Warn("message buffer full, dropping frame")
		}
	}
}

// heartbeatLoop sends keepalive pings and watches for a silent server.
func (c *client) heartbeatLoop() {
	interval := c.cfg.KeepAliveInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ping, _ := hubproto.Encode(hubproto.Ping())

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.Send(ping); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}

			c.mu.RLock()
			lastSeen := c.lastSeenAt
			c.mu.RUnlock()

			if c.cfg.ServerTimeout > 0 && time.Since(lastSeen) > c.cfg.ServerTimeout {
				c.logger.Warn("no server traffic, connection stale",
					"last_seen", lastSeen,
					"timeout", c.cfg.ServerTimeout,
				)
				c.fail(ErrStaleConnection)
				return
			}
		}
	}
}

// negotiateURL appends /negotiate to the hub path, keeping any query.
func negotiateURL(hubURL string) (string, error) {
	u, err := url.Parse(hubURL)
	if err != nil {
		return "", fmt.Errorf("parse hub url: %w", err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/negotiate"
	q := u.Query()
	q.Set("negotiateVersion", fmt.Sprint(hubproto.NegotiateVersion))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// websocketURL converts an http(s) hub URL to ws(s) and attaches the
// connection token.
func websocketURL(hubURL, token string) (string, error) {
	u, err := url.Parse(hubURL)
	if err != nil {
		return "", fmt.Errorf("parse hub url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported hub url scheme %q", u.Scheme)
	}
	if token != "" {
		q := u.Query()
		q.Set("id", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
