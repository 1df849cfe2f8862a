// Package orchestrator drives the lifecycle of one room slot.
//
// A Start mounts a connect cycle:
//   - Debounce, then dispose the slot's previous session
//   - Select an endpoint and build a session with room handlers registered
//   - Connect with retry, then CreateRoom (host) or JoinRoom (guest)
//   - Poll the session state once a second until Stop
//
// Every exit path runs the same teardown exactly once. Events from a
// superseded session are dropped by a per-run liveness flag.
package orchestrator
