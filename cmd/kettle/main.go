// Package main provides the kettle command-line client. It keeps a local
// snapshot of each room and an outbox of writes, so every command works
// offline and syncs once the server is reachable.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const appName = "kettle"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	roomID     int64
	offline    bool
}

func rootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Offline-first shared expense ledger",
		Long: `kettle tracks shared expenses and loans within a room.

Writes are applied to the local snapshot immediately and queued when the
server cannot be reached. 'kettle sync' or 'kettle watch' replays the queue.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Config file path (YAML)")
	flags.Int64VarP(&opts.roomID, "room", "r", 0, "Room id")
	flags.BoolVar(&opts.offline, "offline", false, "Do not contact the server")

	cmd.AddCommand(
		balancesCmd(opts),
		entriesCmd(opts),
		statsCmd(opts),
		transfersCmd(opts),
		exportCmd(opts),
		roomsCmd(opts),
		addCmd(opts),
		deleteCmd(opts),
		renameCmd(opts),
		createCmd(opts),
		joinCmd(opts),
		leaveCmd(opts),
		pendingCmd(opts),
		syncCmd(opts),
		watchCmd(opts),
		tokenCmd(opts),
	)
	return cmd
}
