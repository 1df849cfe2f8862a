package room

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/rickgao/cursor-sync/internal/metrics"
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithAliases replaces the alias table. Keys are canonical event names.
func WithAliases(aliases map[string][]string) Option {
	return func(c *Client) { c.aliases = aliases }
}

// WithDropHandler is called whenever a cursor position could not be sent.
func WithDropHandler(fn func(pos CursorPosition, err error)) Option {
	return func(c *Client) { c.onDrop = fn }
}

// Client is the typed room protocol on top of a Session.
type Client struct {
	session Session
	logger  *slog.Logger
	aliases map[string][]string
	onDrop  func(pos CursorPosition, err error)

	mu         sync.Mutex
	registered map[string]struct{} // Wire names installed on the session
}

// NewClient creates a room client. Handlers registered through it are
// installed on session immediately.
func NewClient(session Session, opts ...Option) *Client {
	c := &Client{
		session:    session,
		aliases:    DefaultAliases(),
		registered: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// CreateRoom asks the hub to create roomID with this connection as host.
func (c *Client) CreateRoom(ctx context.Context, roomID string) error {
	return c.invoke(ctx, MethodCreateRoom, roomID)
}

// JoinRoom asks the hub to add this connection to roomID.
func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	return c.invoke(ctx, MethodJoinRoom, roomID)
}

func (c *Client) invoke(ctx context.Context, method, roomID string) error {
	if !c.session.IsActive() {
		return ErrNotConnected
	}

	if _, err := c.session.Invoke(ctx, method, roomID); err != nil {
		if errors.Is(err, ErrNotConnected) {
			return ErrNotConnected
		}
		return &RemoteInvocationError{Method: method, RoomID: roomID, Err: err}
	}

	c.logger.Debug("room call confirmed", "method", method, "room_id", roomID)
	return nil
}

// SendCursorPosition broadcasts pos to roomID. Cursor updates are loss
// tolerant: failures are logged and reported to the drop handler, never
// returned.
func (c *Client) SendCursorPosition(ctx context.Context, roomID string, pos CursorPosition) {
	if !c.session.IsActive() {
		c.drop(pos, "not_connected", ErrNotConnected)
		return
	}

	wire := struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}{pos.X, pos.Y}

	if _, err := c.session.Invoke(ctx, MethodSendCursorPosition, roomID, wire); err != nil {
		reason := "remote_error"
		if errors.Is(err, ErrNotConnected) {
			reason = "not_connected"
		}
		c.drop(pos, reason, &RemoteInvocationError{Method: MethodSendCursorPosition, RoomID: roomID, Err: err})
		return
	}
	metrics.PositionsSent.Inc()
}

func (c *Client) drop(pos CursorPosition, reason string, err error) {
	metrics.PositionsDropped.WithLabelValues(reason).Inc()
	c.logger.Warn("cursor position dropped", "position", pos.String(), "reason", reason, "error", err)
	if c.onDrop != nil {
		c.onDrop(pos, err)
	}
}

// OnCursorPositionReceived sets the handler for inbound positions under the
// canonical event and all of its aliases.
func (c *Client) OnCursorPositionReceived(fn func(CursorPosition)) {
	c.on(EventCursorPosition, func(args []json.RawMessage) {
		if len(args) == 0 {
			c.logger.Warn("cursor event without payload")
			return
		}
		var pos CursorPosition
		if err := json.Unmarshal(args[0], &pos); err != nil {
			c.logger.Warn("malformed cursor position", "error", err)
			return
		}
		metrics.PositionsReceived.Inc()
		fn(pos)
	})
}

// OnRoomCreated sets the handler for room creation confirmations.
func (c *Client) OnRoomCreated(fn func(roomID string)) {
	c.on(EventRoomCreated, c.stringHandler(fn))
}

// OnUserJoinedRoom sets the handler for join notifications.
func (c *Client) OnUserJoinedRoom(fn func(message string)) {
	c.on(EventUserJoinedRoom, c.stringHandler(fn))
}

// OnError sets the handler for hub error events.
func (c *Client) OnError(fn func(message string)) {
	c.on(EventError, c.stringHandler(fn))
}

// stringHandler decodes the first argument as a string, falling back to its
// raw JSON text.
func (c *Client) stringHandler(fn func(string)) func([]json.RawMessage) {
	return func(args []json.RawMessage) {
		if len(args) == 0 {
			fn("")
			return
		}
		var s string
		if err := json.Unmarshal(args[0], &s); err != nil {
			s = string(args[0])
		}
		fn(s)
	}
}

// on installs handler under every wire name of canonical. The session keeps
// one handler per name, so re-registration replaces.
func (c *Client) on(canonical string, handler func([]json.RawMessage)) {
	names := EventNames(canonical, c.aliases)

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, name := range names {
		c.session.On(name, handler)
		c.registered[name] = struct{}{}
	}
}

// Close removes every handler this client installed.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name := range c.registered {
		c.session.Off(name)
	}
	c.registered = make(map[string]struct{})
}

// EventNames returns every wire name that maps to canonical: the canonical
// name, its aliases, and the lowercase-first variant of each.
func EventNames(canonical string, aliases map[string][]string) []string {
	seen := make(map[string]struct{})
	var names []string
	add := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	for _, name := range append([]string{canonical}, aliases[canonical]...) {
		add(name)
		add(lowerFirst(name))
	}
	return names
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || unicode.IsLower(r) {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}
