package config

import "time"

// Config is the root configuration for a cursor-sync client process.
type Config struct {
	Backends   BackendsConfig   `yaml:"backends"`
	Connection ConnectionConfig `yaml:"connection"`
	Session    SessionConfig    `yaml:"session"`
	Logging    LoggingConfig    `yaml:"logging"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Database   DatabaseConfig   `yaml:"database"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// BackendsConfig holds the static backend registry and health settings.
type BackendsConfig struct {
	URLs                []string      `yaml:"urls"`
	Strategy            string        `yaml:"strategy"` // random, round-robin, sticky
	HealthPath          string        `yaml:"health_path"`
	WhoAmIPath          string        `yaml:"whoami_path"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"` // 0 disables the monitor
	HealthCheckTimeout  time.Duration `yaml:"health_check_timeout"`
}

// ConnectionConfig holds transport and auto-reconnect settings for one
// channel session.
type ConnectionConfig struct {
	HubPath              string        `yaml:"hub_path"`
	SkipNegotiation      bool          `yaml:"skip_negotiation"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	KeepAliveInterval    time.Duration `yaml:"keep_alive_interval"`
	ServerTimeout        time.Duration `yaml:"server_timeout"`
	InvokeTimeout        time.Duration `yaml:"invoke_timeout"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	MaxReconnectDelay    time.Duration `yaml:"max_reconnect_delay"`
}

// SessionConfig holds orchestrator settings. The connect budget is separate
// from the transport reconnect budget in ConnectionConfig.
type SessionConfig struct {
	Debounce              time.Duration `yaml:"debounce"`
	ConnectAttempts       int           `yaml:"connect_attempts"`
	ConnectDelay          time.Duration `yaml:"connect_delay"`
	ConnectTimeoutWarning time.Duration `yaml:"connect_timeout_warning"`
	PollInterval          time.Duration `yaml:"poll_interval"`
	LogCapacity           int           `yaml:"log_capacity"`
	CursorThrottle        time.Duration `yaml:"cursor_throttle"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Verbose bool   `yaml:"verbose"`
	Format  string `yaml:"format"` // text or json
}

// DiscoveryConfig enables a dynamic backend list kept in a Redis set.
type DiscoveryConfig struct {
	RedisURL string        `yaml:"redis_url"` // Empty disables discovery
	Key      string        `yaml:"key"`
	Interval time.Duration `yaml:"interval"`
}

// Enabled reports whether dynamic discovery is configured.
func (d DiscoveryConfig) Enabled() bool {
	return d.RedisURL != ""
}

// DatabaseConfig holds the optional probe history store.
type DatabaseConfig struct {
	Probes DBConfig `yaml:"probes"`
}

// DBConfig holds a single database connection. An empty Host disables it.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// Enabled reports whether a database is configured.
func (db DBConfig) Enabled() bool {
	return db.Host != ""
}

// MetricsConfig holds the admin server settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
