// Package api provides the HTTP client for backend side channels.
//
// Endpoints (relative to a backend base URL):
//   - GET /health           2xx = healthy, used by the load balancer
//   - GET /api/room/whoami  {instance, time, domain?} diagnostic
//
// The hub itself is reached over websocket by package connection.
package api
