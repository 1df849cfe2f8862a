// Package hubstub is an in-process cursor hub used by tests and by the
// `cursorsync hub` command.
//
// It speaks the same negotiate + JSON hub protocol as a production backend:
// CreateRoom answers with RoomCreated, JoinRoom broadcasts UserJoinedRoom to
// the room (or fails for an unknown room), and SendCursorPosition relays the
// position to the other room members. It also serves /health and
// /api/room/whoami so health checks and diagnostics can run against it.
package hubstub
