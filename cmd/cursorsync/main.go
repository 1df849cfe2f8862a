package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRoot().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	configPath string
	verbose    bool
	backends   []string
	strategy   string
}

func newRoot() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "cursorsync",
		Short:         "Share a live cursor position through a room on a hub backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config file (defaults + environment when empty)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringSliceVar(&opts.backends, "backend", nil, "backend base URL, repeatable (overrides backends.urls)")
	root.PersistentFlags().StringVar(&opts.strategy, "strategy", "", "load balancing strategy: random|round-robin|sticky")

	root.AddCommand(newHostCmd(opts))
	root.AddCommand(newGuestCmd(opts))
	root.AddCommand(newHealthCmd(opts))
	root.AddCommand(newWhoAmICmd(opts))
	root.AddCommand(newHubCmd(opts))
	root.AddCommand(newVersionCmd())
	return root
}
