package config

import (
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/multierr"
)

// Validate checks that all required fields are set and values are valid.
// Every problem is reported, not just the first.
func (c *Config) Validate() error {
	var err error

	if len(c.Backends.URLs) == 0 {
		err = multierr.Append(err, fmt.Errorf("backends.urls must list at least one endpoint"))
	}
	for _, u := range c.Backends.URLs {
		if verr := validateURL(u); verr != nil {
			err = multierr.Append(err, fmt.Errorf("backends.urls: %w", verr))
		}
	}
	switch strings.ToLower(c.Backends.Strategy) {
	case "random", "round-robin", "roundrobin", "round_robin", "sticky":
	default:
		err = multierr.Append(err, fmt.Errorf("backends.strategy %q is not one of random, round-robin, sticky", c.Backends.Strategy))
	}
	if c.Backends.HealthCheckInterval < 0 {
		err = multierr.Append(err, fmt.Errorf("backends.health_check_interval must be >= 0"))
	}

	if !strings.HasPrefix(c.Connection.HubPath, "/") {
		err = multierr.Append(err, fmt.Errorf("connection.hub_path must start with /, got %q", c.Connection.HubPath))
	}
	if c.Connection.MaxReconnectAttempts < 1 {
		err = multierr.Append(err, fmt.Errorf("connection.max_reconnect_attempts must be >= 1"))
	}
	if c.Connection.ReconnectDelay <= 0 {
		err = multierr.Append(err, fmt.Errorf("connection.reconnect_delay must be > 0"))
	}
	if c.Connection.MaxReconnectDelay < c.Connection.ReconnectDelay {
		err = multierr.Append(err, fmt.Errorf("connection.max_reconnect_delay (%s) cannot be below reconnect_delay (%s)",
			c.Connection.MaxReconnectDelay, c.Connection.ReconnectDelay))
	}

	if c.Session.ConnectAttempts < 1 {
		err = multierr.Append(err, fmt.Errorf("session.connect_attempts must be >= 1"))
	}
	if c.Session.PollInterval <= 0 {
		err = multierr.Append(err, fmt.Errorf("session.poll_interval must be > 0"))
	}
	if c.Session.LogCapacity < 1 {
		err = multierr.Append(err, fmt.Errorf("session.log_capacity must be >= 1"))
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		err = multierr.Append(err, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}

	if c.Discovery.Enabled() && c.Discovery.Interval <= 0 {
		err = multierr.Append(err, fmt.Errorf("discovery.interval must be > 0"))
	}

	if c.Database.Probes.Enabled() {
		err = multierr.Append(err, c.Database.Probes.validate("database.probes"))
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port))
	}

	return err
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
