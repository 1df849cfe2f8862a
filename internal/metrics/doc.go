// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Channel session state transitions and connect/reconnect attempts
//   - Hub invocations and inbound events
//   - Per-endpoint health and probe latency
//   - Cursor positions sent, dropped and received
package metrics
