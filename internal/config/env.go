package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Environment variables read once at startup. They override file values.
const (
	EnvBackendURLs          = "CURSORSYNC_BACKEND_URLS"
	EnvHubPath              = "CURSORSYNC_HUB_PATH"
	EnvWhoAmIPath           = "CURSORSYNC_WHOAMI_PATH"
	EnvMaxReconnectAttempts = "CURSORSYNC_MAX_RECONNECT_ATTEMPTS"
	EnvReconnectDelay       = "CURSORSYNC_RECONNECT_DELAY"
	EnvVerbose              = "CURSORSYNC_VERBOSE"
	EnvStrategy             = "CURSORSYNC_STRATEGY"
)

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	if v, ok := lookup(EnvBackendURLs); ok && strings.TrimSpace(v) != "" {
		c.Backends.URLs = SplitList(v)
	}
	if v, ok := lookup(EnvHubPath); ok && v != "" {
		c.Connection.HubPath = v
	}
	if v, ok := lookup(EnvWhoAmIPath); ok && v != "" {
		c.Backends.WhoAmIPath = v
	}
	if v, ok := lookup(EnvStrategy); ok && v != "" {
		c.Backends.Strategy = v
	}
	if v, ok := lookup(EnvMaxReconnectAttempts); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxReconnectAttempts, err)
		}
		c.Connection.MaxReconnectAttempts = n
	}
	if v, ok := lookup(EnvReconnectDelay); ok && v != "" {
		d, err := ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvReconnectDelay, err)
		}
		c.Connection.ReconnectDelay = d
	}
	if v, ok := lookup(EnvVerbose); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvVerbose, err)
		}
		c.Logging.Verbose = b
	}
	return nil
}

// SplitList splits a comma separated list, dropping blank items.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ParseDuration accepts a Go duration ("1.5s") or a bare integer number of
// milliseconds ("1500").
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(s)
}
