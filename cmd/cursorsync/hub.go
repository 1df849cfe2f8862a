package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/rickgao/cursor-sync/internal/config"
	"github.com/rickgao/cursor-sync/internal/discovery"
	"github.com/rickgao/cursor-sync/internal/hubstub"
)

type hubOptions struct {
	addr        string
	instance    string
	domain      string
	hubPath     string
	cursorEvent string
	register    string
	key         string
	advertise   string
}

// newHubCmd runs a standalone room hub, e.g. for local development or to
// stand in for a backend instance behind the balancer.
func newHubCmd(root *rootOptions) *cobra.Command {
	opts := &hubOptions{}
	cmd := &cobra.Command{
		Use:   "hub",
		Short: "Serve an in-process room hub",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHub(cmd, root, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.addr, "addr", ":8080", "listen address")
	f.StringVar(&opts.instance, "instance", "hubstub", "instance name reported by whoami")
	f.StringVar(&opts.domain, "domain", "", "domain reported by whoami")
	f.StringVar(&opts.hubPath, "hub-path", config.DefaultHubPath, "hub endpoint path")
	f.StringVar(&opts.cursorEvent, "cursor-event", "ReceiveCursorPosition", "event name used to deliver cursor positions")
	f.StringVar(&opts.register, "register", "", "redis URL to advertise this hub in (discovery)")
	f.StringVar(&opts.key, "key", config.DefaultDiscoveryKey, "redis set holding backend URLs")
	f.StringVar(&opts.advertise, "advertise", "", "URL to advertise (default http://localhost<addr>)")
	return cmd
}

func runHub(cmd *cobra.Command, root *rootOptions, opts *hubOptions) error {
	ctx, stop := signalContext()
	defer stop()

	logger := newLogger(config.LoggingConfig{Verbose: root.verbose, Format: config.DefaultLogFormat}, cmd.ErrOrStderr())

	hub := hubstub.New(
		hubstub.WithInstance(opts.instance),
		hubstub.WithDomain(opts.domain),
		hubstub.WithHubPath(opts.hubPath),
		hubstub.WithCursorEvent(opts.cursorEvent),
		hubstub.WithLogger(logger),
	)

	srv := &http.Server{Addr: opts.addr, Handler: hub.Handler()}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("hub listening", "addr", opts.addr, "hub_path", opts.hubPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	defer shutdownServer(srv, logger)

	if opts.register != "" {
		advertise := opts.advertise
		if advertise == "" {
			advertise = "http://localhost" + opts.addr
		}
		client, err := discovery.NewRedisClient(opts.register)
		if err != nil {
			return err
		}
		src := discovery.NewRedisSource(client, opts.key)
		defer src.Close()

		if err := src.Register(ctx, advertise); err != nil {
			return fmt.Errorf("register hub: %w", err)
		}
		logger.Info("hub registered", "url", advertise, "key", opts.key)
		defer func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := src.Deregister(dctx, advertise); err != nil {
				logger.Warn("failed to deregister hub", "error", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down hub", "connections", hub.ConnectionCount())
		return nil
	case err := <-errCh:
		return err
	}
}
