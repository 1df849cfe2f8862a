package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
)

// Errors
var (
	ErrNotConnected           = errors.New("not connected")
	ErrStaleConnection        = errors.New("connection stale (no server traffic)")
	ErrTimeout                = errors.New("operation timeout")
	ErrAlreadyClosed          = errors.New("already closed")
	ErrAborted                = errors.New("connection aborted")
	ErrConnectionLost         = errors.New("connection lost")
	ErrConnectionClosed       = errors.New("connection closed")
	ErrDisposed               = errors.New("session disposed")
	ErrWebSocketsNotSupported = errors.New("server does not offer websocket transport")
)

// IsAbort reports whether err is a cancellation that must not be retried.
func IsAbort(err error) bool {
	return errors.Is(err, ErrAborted) || errors.Is(err, context.Canceled)
}

// ConnectError is returned once a connect budget is exhausted.
type ConnectError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// HubError is a failure reported by the hub in a completion or close record.
type HubError struct {
	Method  string
	Message string
}

func (e *HubError) Error() string {
	if e.Method == "" {
		return "hub error: " + e.Message
	}
	return fmt.Sprintf("hub error in %s: %s", e.Method, e.Message)
}

// State is the Channel Session lifecycle state.
type State string

const (
	StateDisconnected State = "Disconnected"
	StateConnecting   State = "Connecting"
	StateConnected    State = "Connected"
	StateReconnecting State = "Reconnecting"
	StateClosing      State = "Closing"
	StateAborted      State = "Aborted"
	StateFailed       State = "Failed"
)

func (s State) String() string {
	return string(s)
}

// TimestampedMessage wraps raw frame data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw frame bytes, possibly several hub records
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// Handler receives the raw arguments of an inbound hub invocation.
type Handler func(args []json.RawMessage)

// ClientConfig configures a websocket client.
type ClientConfig struct {
	URL               string        // Backend base URL (e.g., http://localhost:8080)
	HubPath           string        // Hub path appended to URL (e.g., /hubs/cursor)
	SkipNegotiation   bool          // Dial the websocket directly without POST /negotiate
	HandshakeTimeout  time.Duration // Websocket upgrade + hub handshake deadline
	KeepAliveInterval time.Duration // How often a ping record is sent
	ServerTimeout     time.Duration // Max silence from the server before the connection is stale
	WriteTimeout      time.Duration // Write deadline for sends
	BufferSize        int           // Message channel buffer size
	HTTPClient        *http.Client  // Used for negotiation (nil = default with HandshakeTimeout)
	Header            http.Header   // Extra headers for negotiate and dial
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HubPath:           "/hubs/cursor",
		HandshakeTimeout:  15 * time.Second,
		KeepAliveInterval: 15 * time.Second,
		ServerTimeout:     30 * time.Second,
		WriteTimeout:      5 * time.Second,
		BufferSize:        1000,
	}
}

// ClientFactory builds the transport for one connection attempt.
type ClientFactory func(cfg ClientConfig, logger *slog.Logger) Client

// SessionConfig configures a Channel Session.
type SessionConfig struct {
	Client        ClientConfig
	Reconnect     RetryPolicy   // Transport auto-reconnect budget
	InvokeTimeout time.Duration // Max wait for a hub completion

	// Clock drives backoff waits (nil = wall clock).
	Clock clock.Clock

	// NewClient builds transports (nil = websocket client).
	NewClient ClientFactory

	// OnStateChange is called with the session lock held; it must not call
	// back into the Session.
	OnStateChange func(from, to State)
}

// DefaultSessionConfig returns sensible defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Client:        DefaultClientConfig(),
		Reconnect:     DefaultReconnectPolicy(),
		InvokeTimeout: 10 * time.Second,
	}
}
