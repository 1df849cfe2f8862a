// Package discovery keeps the balancer's endpoint registry in step with
// dynamic backend sources such as a Redis set.
package discovery
