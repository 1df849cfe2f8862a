package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rickgao/cursor-sync/internal/connection"
	"github.com/rickgao/cursor-sync/internal/room"
)

// Errors
var (
	ErrNotStarted   = errors.New("orchestrator not started")
	ErrNoEndpoint   = errors.New("no backend endpoint available")
	ErrNotConnected = room.ErrNotConnected
)

// Role decides which room call follows a successful connect.
type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// ParseRole parses "host" or "guest".
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleHost, RoleGuest:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// EndpointSelector picks the backend for a new session.
type EndpointSelector interface {
	SelectEndpoint() (url string, healthy bool)
}

// Session is the Channel Session surface the orchestrator drives.
type Session interface {
	room.Session
	ConnectWithRetry(ctx context.Context, policy connection.RetryPolicy) error
	Disconnect(ctx context.Context) error
	Dispose() error
	State() connection.State
	ID() string
	URL() string
}

// SessionFactory builds an unconnected session bound to endpoint.
type SessionFactory func(endpoint string) (Session, error)

// NewSessionFactory returns a factory producing connection.Session values
// from base with the endpoint URL filled in.
func NewSessionFactory(base connection.SessionConfig, logger *slog.Logger) SessionFactory {
	return func(endpoint string) (Session, error) {
		cfg := base
		cfg.Client.URL = endpoint
		return connection.NewSession(cfg, logger), nil
	}
}

// Config holds orchestrator settings.
type Config struct {
	RoomID                string
	Role                  Role
	Debounce              time.Duration          // Wait before acting on Start
	ConnectRetry          connection.RetryPolicy // Connect-with-retry budget
	ConnectTimeoutWarning time.Duration          // Log a warning when still connecting after this long
	PollInterval          time.Duration          // Session state republish interval
	LogCapacity           int                    // Activity log size
	CursorThrottle        time.Duration          // Min spacing between sent positions (0 = none)
}

// DefaultConfig returns sensible defaults for roomID and role.
func DefaultConfig(roomID string, role Role) Config {
	return Config{
		RoomID:                roomID,
		Role:                  role,
		Debounce:              200 * time.Millisecond,
		ConnectRetry:          connection.DefaultConnectPolicy(),
		ConnectTimeoutWarning: 10 * time.Second,
		PollInterval:          1 * time.Second,
		LogCapacity:           100,
		CursorThrottle:        16 * time.Millisecond,
	}
}

// Snapshot is the observable connection status.
type Snapshot struct {
	State           connection.State `json:"state"`
	IsConnected     bool             `json:"is_connected"`
	RetryCount      int              `json:"retry_count"`
	Endpoint        string           `json:"endpoint,omitempty"`
	EndpointHealthy bool             `json:"endpoint_healthy"`
	SessionID       string           `json:"session_id,omitempty"`
	RoomID          string           `json:"room_id"`
	Role            Role             `json:"role"`
}

// Label renders the state the way a status line shows it, e.g.
// "Connecting (2)" while retrying.
func (s Snapshot) Label() string {
	if s.RetryCount > 0 && s.State != connection.StateConnected {
		return fmt.Sprintf("%s (%d)", s.State, s.RetryCount)
	}
	return string(s.State)
}

// Observer receives orchestrator output. Every callback is optional and is
// only called for events from the current, live session.
type Observer struct {
	OnSnapshot       func(Snapshot)
	OnCursorPosition func(room.CursorPosition)
	OnRoomCreated    func(roomID string)
	OnUserJoinedRoom func(message string)
	OnError          func(message string)
}
