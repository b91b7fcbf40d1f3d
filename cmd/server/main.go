package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/manpreetbhatti/trellis/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.FromEnv()

	cmd := &cobra.Command{
		Use:   "trellis-server",
		Short: "Room-scoped relay for collaborative document updates",
		Long: `trellis-server accepts websocket connections at /ws/{room}, merges
each client's binary update fragments into the room's document state,
rebroadcasts them to the other members of the same room, and sends
every new member a full state snapshot on admission.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	cmd.Flags().StringVar(&cfg.DBPath, "db", cfg.DBPath, "sqlite path for update persistence (empty: memory only)")
	cmd.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&cfg.CloseOnMergeError, "close-on-merge-error", cfg.CloseOnMergeError,
		"disconnect clients whose fragments fail to merge")

	return cmd
}
