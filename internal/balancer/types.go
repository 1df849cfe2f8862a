package balancer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Errors
var (
	ErrNoEndpoints     = errors.New("no backend endpoints configured")
	ErrUnknownStrategy = errors.New("unknown load balancing strategy")
)

// Strategy selects among healthy endpoints.
type Strategy string

const (
	StrategyRandom     Strategy = "random"
	StrategyRoundRobin Strategy = "round-robin"
	StrategySticky     Strategy = "sticky"
)

// ParseStrategy parses a strategy name. Matching ignores case and accepts
// "roundrobin" and "round_robin" for round-robin.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "random", "":
		return StrategyRandom, nil
	case "round-robin", "roundrobin", "round_robin":
		return StrategyRoundRobin, nil
	case "sticky":
		return StrategySticky, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
}

// Endpoint is one candidate backend instance.
type Endpoint struct {
	URL              string         `json:"url"`
	Healthy          bool           `json:"healthy"`
	LastCheckedAt    time.Time      `json:"last_checked_at"`
	LastResponseTime *time.Duration `json:"last_response_time,omitempty"`
}

// ProbeResult is the outcome of one health probe.
type ProbeResult struct {
	URL          string
	Healthy      bool
	ResponseTime time.Duration // Zero when the probe failed
	Error        string
	CheckedAt    time.Time
}

// Prober checks one backend's health endpoint.
type Prober interface {
	CheckHealth(ctx context.Context, baseURL string) (time.Duration, error)
}

// ProbeRecorder persists probe results.
type ProbeRecorder interface {
	RecordProbe(ctx context.Context, result ProbeResult) error
}
