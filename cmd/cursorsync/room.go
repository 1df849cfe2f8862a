package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rickgao/cursor-sync/internal/connection"
	"github.com/rickgao/cursor-sync/internal/orchestrator"
	"github.com/rickgao/cursor-sync/internal/room"
)

// roomOptions are the flags of the host and guest commands.
type roomOptions struct {
	admin bool
}

func newHostCmd(root *rootOptions) *cobra.Command {
	opts := &roomOptions{}
	cmd := &cobra.Command{
		Use:   "host ROOM",
		Short: "Create a room and broadcast positions read from stdin (\"x y\" per line)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoom(cmd, root, opts, orchestrator.RoleHost, args[0])
		},
	}
	cmd.Flags().BoolVar(&opts.admin, "admin", true, "serve /metrics, /status and /health on metrics.port")
	return cmd
}

func newGuestCmd(root *rootOptions) *cobra.Command {
	opts := &roomOptions{}
	cmd := &cobra.Command{
		Use:   "guest ROOM",
		Short: "Join a room and print the positions it receives",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoom(cmd, root, opts, orchestrator.RoleGuest, args[0])
		},
	}
	cmd.Flags().BoolVar(&opts.admin, "admin", true, "serve /metrics, /status and /health on metrics.port")
	return cmd
}

func runRoom(cmd *cobra.Command, root *rootOptions, opts *roomOptions, role orchestrator.Role, roomID string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, root, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			a.logger.Error("shutdown", "error", err)
		}
	}()

	if err := a.startBackground(ctx); err != nil {
		return err
	}

	s := a.cfg.Session
	ocfg := orchestrator.DefaultConfig(roomID, role)
	ocfg.Debounce = s.Debounce
	ocfg.ConnectRetry = connection.RetryPolicy{
		MaxAttempts: s.ConnectAttempts,
		BaseDelay:   s.ConnectDelay,
	}
	ocfg.ConnectTimeoutWarning = s.ConnectTimeoutWarning
	ocfg.PollInterval = s.PollInterval
	ocfg.LogCapacity = s.LogCapacity
	ocfg.CursorThrottle = s.CursorThrottle

	out := cmd.OutOrStdout()
	positions := make(chan room.CursorPosition, 16)

	orch, err := orchestrator.New(ocfg, a.lb,
		orchestrator.NewSessionFactory(a.sessionConfig(), a.logger),
		orchestrator.WithLogger(a.logger),
		orchestrator.WithObserver(orchestrator.Observer{
			OnSnapshot: func(snap orchestrator.Snapshot) {
				a.logger.Debug("status", "state", snap.Label(), "endpoint", snap.Endpoint)
			},
			OnCursorPosition: func(p room.CursorPosition) {
				select {
				case positions <- p:
				default:
				}
			},
		}),
	)
	if err != nil {
		return err
	}
	defer orch.Close()

	if opts.admin {
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", a.cfg.Metrics.Port),
			Handler: newAdminHandler(a.cfg.Metrics.Path, orch, a.lb, a.storePinger()),
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("admin server error", "error", err)
			}
		}()
		defer shutdownServer(srv, a.logger)
		a.logger.Info("admin server started", "port", a.cfg.Metrics.Port)
	}

	orch.Start(ctx)
	if err := orch.Wait(ctx); err != nil {
		if connection.IsAbort(err) {
			return nil
		}
		for _, line := range orch.Logs() {
			fmt.Fprintln(cmd.ErrOrStderr(), line)
		}
		return err
	}
	fmt.Fprintf(out, "%s in room %s via %s\n", orch.Snapshot().Label(), roomID, orch.Snapshot().Endpoint)

	if role == orchestrator.RoleHost {
		return broadcast(ctx, cmd.InOrStdin(), orch, a)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-positions:
			fmt.Fprintln(out, p)
		}
	}
}

// positionSender is the part of the orchestrator broadcast needs.
type positionSender interface {
	SendCursorPosition(ctx context.Context, pos room.CursorPosition) bool
}

// broadcast sends one position per input line until EOF or cancellation.
// Malformed lines are reported and skipped.
func broadcast(ctx context.Context, in io.Reader, sender positionSender, a *app) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			pos, err := parsePosition(line)
			if err != nil {
				a.logger.Warn("skipping input", "line", line, "error", err)
				continue
			}
			if !sender.SendCursorPosition(ctx, pos) {
				a.logger.Debug("position not sent", "position", pos.String())
			}
		}
	}
}

// parsePosition reads "x y" or "x,y".
func parsePosition(line string) (room.CursorPosition, error) {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	if len(fields) != 2 {
		return room.CursorPosition{}, fmt.Errorf("want two coordinates, got %d", len(fields))
	}
	x, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return room.CursorPosition{}, fmt.Errorf("parse x: %w", err)
	}
	y, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return room.CursorPosition{}, fmt.Errorf("parse y: %w", err)
	}
	return room.CursorPosition{X: x, Y: y}, nil
}
