// Package poller runs background work on a fixed interval.
//
// It drives the periodic backend health monitor and the discovery sync:
//   - Optional immediate run on Start
//   - Per-run timeout
//   - Failures are logged, never fatal
package poller
