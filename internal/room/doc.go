// Package room implements the room protocol on top of a Channel Session.
//
// Outbound calls are CreateRoom, JoinRoom and SendCursorPosition. Inbound
// events are delivered through one typed handler each; historical event
// names (e.g. CursorPositionReceived, receiveCursorPosition) are folded into
// the canonical event by an alias table so callers only ever see
// ReceiveCursorPosition.
package room
