package room

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rickgao/cursor-sync/internal/connection"
)

// ErrNotConnected is returned when an operation needs a Connected session.
var ErrNotConnected = connection.ErrNotConnected

// Outbound hub methods.
const (
	MethodCreateRoom         = "CreateRoom"
	MethodJoinRoom           = "JoinRoom"
	MethodSendCursorPosition = "SendCursorPosition"
)

// Canonical inbound events.
const (
	EventCursorPosition = "ReceiveCursorPosition"
	EventRoomCreated    = "RoomCreated"
	EventUserJoinedRoom = "UserJoinedRoom"
	EventError          = "Error"
)

// CursorPosition is one pointer sample. Positions carry no sequence number;
// the last one received wins.
type CursorPosition struct {
	X         float64    `json:"x"`
	Y         float64    `json:"y"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

func (p CursorPosition) String() string {
	return fmt.Sprintf("(%g, %g)", p.X, p.Y)
}

// RemoteInvocationError is returned when the hub rejects a room call or the
// call fails in transit.
type RemoteInvocationError struct {
	Method string
	RoomID string
	Err    error
}

func (e *RemoteInvocationError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Method, e.RoomID, e.Err)
}

func (e *RemoteInvocationError) Unwrap() error {
	return e.Err
}

// Session is the slice of a Channel Session the room layer needs.
type Session interface {
	Invoke(ctx context.Context, method string, args ...any) (json.RawMessage, error)
	On(event string, handler connection.Handler)
	Off(event string)
	IsActive() bool
}

// DefaultAliases returns the historical names accepted for each canonical
// event, in addition to the canonical name itself.
func DefaultAliases() map[string][]string {
	return map[string][]string{
		EventCursorPosition: {"CursorPositionReceived"},
	}
}
