package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rickgao/cursor-sync/internal/balancer"
)

func newHealthCmd(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe every configured backend once and print the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			a.lb.RunHealthCheck(ctx)
			endpoints := a.lb.Endpoints()

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(endpoints)
			}
			return printEndpoints(cmd.OutOrStdout(), endpoints)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func printEndpoints(w io.Writer, endpoints []balancer.Endpoint) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ENDPOINT\tHEALTHY\tRESPONSE\tCHECKED")
	for _, ep := range endpoints {
		rt := "-"
		if ep.LastResponseTime != nil {
			rt = ep.LastResponseTime.Round(time.Millisecond).String()
		}
		checked := "-"
		if !ep.LastCheckedAt.IsZero() {
			checked = ep.LastCheckedAt.Format("15:04:05")
		}
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\n", ep.URL, ep.Healthy, rt, checked)
	}
	return tw.Flush()
}

func newWhoAmICmd(root *rootOptions) *cobra.Command {
	var endpoint string
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Ask a backend which instance is serving",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			if endpoint == "" {
				var healthy bool
				endpoint, healthy = a.lb.SelectEndpoint()
				if !healthy {
					a.logger.Warn("no healthy endpoints", "endpoint", endpoint)
				}
			}

			ctx, cancel := context.WithTimeout(ctx, a.cfg.Backends.HealthCheckTimeout)
			defer cancel()

			who, err := a.api.GetWhoAmI(ctx, endpoint)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "endpoint: %s\n", endpoint)
			fmt.Fprintf(out, "instance: %s\n", who.Instance)
			fmt.Fprintf(out, "time:     %s\n", who.Time)
			if who.Domain != "" {
				fmt.Fprintf(out, "domain:   %s\n", who.Domain)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "backend to ask (default: balancer selection)")
	return cmd
}
