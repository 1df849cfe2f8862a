// Package database provides the optional PostgreSQL store for backend
// health probe history.
//
// Every probe run by the balancer's health monitor is appended to the
// endpoint_probes table, giving an audit trail of endpoint availability
// across client runs.
package database
