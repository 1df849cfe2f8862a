// Package balancer keeps the registry of backend instances and chooses one
// for each new connection.
//
// Three strategies are supported: Random, RoundRobin and Sticky. Selection
// considers only healthy endpoints and never fails; when nothing is healthy
// it degrades to the first registered endpoint so the caller can still try.
// Health is refreshed by RunHealthCheck, which probes every endpoint in
// parallel with a per-probe timeout.
package balancer
