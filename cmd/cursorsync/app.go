package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/rickgao/cursor-sync/internal/api"
	"github.com/rickgao/cursor-sync/internal/balancer"
	"github.com/rickgao/cursor-sync/internal/config"
	"github.com/rickgao/cursor-sync/internal/connection"
	"github.com/rickgao/cursor-sync/internal/database"
	"github.com/rickgao/cursor-sync/internal/discovery"
	"github.com/rickgao/cursor-sync/internal/metrics"
	"github.com/rickgao/cursor-sync/internal/poller"
	"github.com/rickgao/cursor-sync/internal/version"
)

// app holds the components shared by the client subcommands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	api    *api.Client
	lb     *balancer.Balancer
	store  *database.Store
	redis  *discovery.RedisSource

	pollers []*poller.Poller
}

// loadConfig applies flag overrides on top of file and environment.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.LoadWithDefaults(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.verbose {
		cfg.Logging.Verbose = true
	}
	if len(opts.backends) > 0 {
		cfg.Backends.URLs = opts.backends
	}
	if opts.strategy != "" {
		cfg.Backends.Strategy = opts.strategy
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

func newApp(ctx context.Context, opts *rootOptions, logOut io.Writer) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg.Logging, logOut)
	slog.SetDefault(logger)
	metrics.Register()

	logger.Debug("configuration loaded",
		"version", version.Version,
		"backends", cfg.Backends.URLs,
		"strategy", cfg.Backends.Strategy,
	)

	a := &app{cfg: cfg, logger: logger}

	a.api = api.NewClient(
		api.WithLogger(logger),
		api.WithTimeout(cfg.Backends.HealthCheckTimeout),
		api.WithHealthPath(cfg.Backends.HealthPath),
		api.WithWhoAmIPath(cfg.Backends.WhoAmIPath),
	)

	strategy, err := balancer.ParseStrategy(cfg.Backends.Strategy)
	if err != nil {
		return nil, err
	}

	lbOpts := []balancer.Option{
		balancer.WithStrategy(strategy),
		balancer.WithLogger(logger),
		balancer.WithProber(a.api),
		balancer.WithProbeTimeout(cfg.Backends.HealthCheckTimeout),
	}

	if cfg.Database.Probes.Enabled() {
		store, err := database.Open(ctx, cfg.Database.Probes, logger)
		if err != nil {
			return nil, fmt.Errorf("open probe store: %w", err)
		}
		a.store = store
		lbOpts = append(lbOpts, balancer.WithRecorder(store))
	}

	lb, err := balancer.New(cfg.Backends.URLs, lbOpts...)
	if err != nil {
		a.close()
		return nil, err
	}
	a.lb = lb

	if cfg.Discovery.Enabled() {
		client, err := discovery.NewRedisClient(cfg.Discovery.RedisURL)
		if err != nil {
			a.close()
			return nil, err
		}
		a.redis = discovery.NewRedisSource(client, cfg.Discovery.Key)
	}

	return a, nil
}

// startBackground starts the periodic health monitor and, when configured,
// the discovery sync.
func (a *app) startBackground(ctx context.Context) error {
	if a.cfg.Backends.HealthCheckInterval > 0 {
		health := poller.New(poller.Config{
			Name:      "health",
			Interval:  a.cfg.Backends.HealthCheckInterval,
			Immediate: true,
		}, poller.TaskFunc(func(ctx context.Context) error {
			a.lb.RunHealthCheck(ctx)
			return nil
		}), nil, a.logger)
		if err := health.Start(ctx); err != nil {
			return err
		}
		a.pollers = append(a.pollers, health)
	}

	if a.redis != nil {
		syncer := discovery.NewSyncer(a.lb, a.logger,
			discovery.StaticSource(a.cfg.Backends.URLs),
			a.redis,
		)
		sync := poller.New(poller.Config{
			Name:      "discovery",
			Interval:  a.cfg.Discovery.Interval,
			Timeout:   a.cfg.Discovery.Interval,
			Immediate: true,
		}, syncer, nil, a.logger)
		if err := sync.Start(ctx); err != nil {
			return err
		}
		a.pollers = append(a.pollers, sync)
	}
	return nil
}

// sessionConfig maps the connection section onto a session template.
func (a *app) sessionConfig() connection.SessionConfig {
	c := a.cfg.Connection

	sc := connection.DefaultSessionConfig()
	sc.Client.HubPath = c.HubPath
	sc.Client.SkipNegotiation = c.SkipNegotiation
	sc.Client.HandshakeTimeout = c.HandshakeTimeout
	sc.Client.KeepAliveInterval = c.KeepAliveInterval
	sc.Client.ServerTimeout = c.ServerTimeout
	sc.InvokeTimeout = c.InvokeTimeout
	sc.Reconnect = connection.RetryPolicy{
		MaxAttempts: c.MaxReconnectAttempts,
		BaseDelay:   c.ReconnectDelay,
		MaxDelay:    c.MaxReconnectDelay,
	}
	return sc
}

// close stops background work and releases external connections.
func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	for _, p := range a.pollers {
		err = multierr.Append(err, p.Stop(ctx))
	}
	if a.redis != nil {
		err = multierr.Append(err, a.redis.Close())
	}
	if a.store != nil {
		a.store.Close()
	}
	return err
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
