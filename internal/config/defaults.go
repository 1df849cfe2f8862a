package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultBackendURL            = "http://localhost:8080"
	DefaultStrategy              = "random"
	DefaultHealthPath            = "/health"
	DefaultWhoAmIPath            = "/api/room/whoami"
	DefaultHealthCheckInterval   = 30 * time.Second
	DefaultHealthCheckTimeout    = 5 * time.Second
	DefaultHubPath               = "/hubs/cursor"
	DefaultHandshakeTimeout      = 15 * time.Second
	DefaultKeepAliveInterval     = 15 * time.Second
	DefaultServerTimeout         = 30 * time.Second
	DefaultInvokeTimeout         = 10 * time.Second
	DefaultMaxReconnectAttempts  = 5
	DefaultReconnectDelay        = 1 * time.Second
	DefaultMaxReconnectDelay     = 30 * time.Second
	DefaultDebounce              = 200 * time.Millisecond
	DefaultConnectAttempts       = 3
	DefaultConnectDelay          = 1 * time.Second
	DefaultConnectTimeoutWarning = 10 * time.Second
	DefaultPollInterval          = 1 * time.Second
	DefaultLogCapacity           = 100
	DefaultCursorThrottle        = 16 * time.Millisecond
	DefaultLogFormat             = "text"
	DefaultDiscoveryKey          = "cursorsync:backends"
	DefaultDiscoveryInterval     = 30 * time.Second
	DefaultDBPort                = 5432
	DefaultDBSSLMode             = "prefer"
	DefaultMaxConns              = 4
	DefaultMinConns              = 1
	DefaultMetricsPort           = 9090
	DefaultMetricsPath           = "/metrics"
)

func (c *Config) applyDefaults() {
	// Backend defaults
	if len(c.Backends.URLs) == 0 {
		c.Backends.URLs = []string{DefaultBackendURL}
	}
	if c.Backends.Strategy == "" {
		c.Backends.Strategy = DefaultStrategy
	}
	if c.Backends.HealthPath == "" {
		c.Backends.HealthPath = DefaultHealthPath
	}
	if c.Backends.WhoAmIPath == "" {
		c.Backends.WhoAmIPath = DefaultWhoAmIPath
	}
	if c.Backends.HealthCheckInterval == 0 {
		c.Backends.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if c.Backends.HealthCheckTimeout == 0 {
		c.Backends.HealthCheckTimeout = DefaultHealthCheckTimeout
	}

	// Connection defaults
	if c.Connection.HubPath == "" {
		c.Connection.HubPath = DefaultHubPath
	}
	if c.Connection.HandshakeTimeout == 0 {
		c.Connection.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Connection.KeepAliveInterval == 0 {
		c.Connection.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if c.Connection.ServerTimeout == 0 {
		c.Connection.ServerTimeout = DefaultServerTimeout
	}
	if c.Connection.InvokeTimeout == 0 {
		c.Connection.InvokeTimeout = DefaultInvokeTimeout
	}
	if c.Connection.MaxReconnectAttempts == 0 {
		c.Connection.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Connection.ReconnectDelay == 0 {
		c.Connection.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Connection.MaxReconnectDelay == 0 {
		c.Connection.MaxReconnectDelay = DefaultMaxReconnectDelay
	}

	// Session defaults
	if c.Session.Debounce == 0 {
		c.Session.Debounce = DefaultDebounce
	}
	if c.Session.ConnectAttempts == 0 {
		c.Session.ConnectAttempts = DefaultConnectAttempts
	}
	if c.Session.ConnectDelay == 0 {
		c.Session.ConnectDelay = DefaultConnectDelay
	}
	if c.Session.ConnectTimeoutWarning == 0 {
		c.Session.ConnectTimeoutWarning = DefaultConnectTimeoutWarning
	}
	if c.Session.PollInterval == 0 {
		c.Session.PollInterval = DefaultPollInterval
	}
	if c.Session.LogCapacity == 0 {
		c.Session.LogCapacity = DefaultLogCapacity
	}
	if c.Session.CursorThrottle == 0 {
		c.Session.CursorThrottle = DefaultCursorThrottle
	}

	// Logging defaults
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}

	// Discovery defaults
	if c.Discovery.Key == "" {
		c.Discovery.Key = DefaultDiscoveryKey
	}
	if c.Discovery.Interval == 0 {
		c.Discovery.Interval = DefaultDiscoveryInterval
	}

	// Database defaults
	applyDBDefaults(&c.Database.Probes)

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
