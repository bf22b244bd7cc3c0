package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmynk/kettle/internal/auth"
	"github.com/mmynk/kettle/internal/events"
	"github.com/mmynk/kettle/internal/models"
)

func pendingCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List writes waiting to be synced",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.offline = true
			return withApp(cmd.Context(), opts, func(a *app) error {
				reqs, err := a.client.Pending(cmd.Context())
				if err != nil {
					return err
				}
				if len(reqs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Nothing to sync.")
					return nil
				}
				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "QUEUED\tKIND\tREQUEST\tROOM")
				for _, r := range reqs {
					room := "-"
					if r.RoomID != 0 {
						room = strconv.FormatInt(r.RoomID, 10)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s %s\t%s\n",
						r.EnqueuedAt.Local().Format(time.DateTime), r.Kind, r.Method, r.URL, room)
				}
				return tw.Flush()
			})
		},
	}
}

func syncCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay queued writes and refresh the affected rooms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				if !a.online() {
					return errors.New("server is not reachable")
				}
				res, err := a.syncer.SyncNow(cmd.Context())
				if err != nil {
					return err
				}
				n, err := a.client.Queue().Count(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if res.Synced {
					fmt.Fprintf(out, "Synced; refreshed rooms %v\n", res.Rooms)
				} else {
					fmt.Fprintln(out, "Nothing synced.")
				}
				if n > 0 {
					fmt.Fprintf(out, "%d requests still queued\n", n)
				}
				return nil
			})
		},
	}
}

func watchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stay running and sync whenever the server becomes reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.offline {
				return errors.New("watch cannot run with --offline")
			}
			return withApp(cmd.Context(), opts, func(a *app) error {
				ctx, cancel := context.WithCancel(cmd.Context())
				defer cancel()

				evs, unsubscribe := a.bus.Subscribe(16)
				defer unsubscribe()

				errCh := make(chan error, 2)
				go func() { errCh <- a.monitor.Run(ctx) }()
				go func() { errCh <- a.syncer.Run(ctx) }()

				fmt.Fprintln(cmd.OutOrStdout(), "Watching; press Ctrl-C to stop.")
				for {
					select {
					case <-ctx.Done():
						return nil
					case err := <-errCh:
						if errors.Is(err, context.Canceled) {
							return nil
						}
						return err
					case e := <-evs:
						fmt.Fprintln(cmd.OutOrStdout(), describe(e))
					}
				}
			})
		},
	}
}

func describe(e events.Event) string {
	at := e.At.Local().Format(time.TimeOnly)
	switch e.Kind {
	case events.SyncCompleted:
		return fmt.Sprintf("%s synced rooms %v, %d pending", at, e.RoomIDs, e.Pending)
	case events.RequestRejected:
		return fmt.Sprintf("%s rejected (%d): %s", at, e.Status, e.Message)
	case events.OutboxChanged:
		return fmt.Sprintf("%s outbox: %d pending", at, e.Pending)
	default:
		return fmt.Sprintf("%s %s", at, e.Kind)
	}
}

func tokenCmd(opts *rootOptions) *cobra.Command {
	var (
		userID   int64
		username string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development bearer token with the server's secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if cfg.Server.JWTSecret == "" {
				return errors.New("server.jwt_secret is required to mint tokens")
			}
			username = strings.TrimSpace(username)
			token, err := auth.NewJWTManager(cfg.Server.JWTSecret, cfg.Server.TokenTTL).
				Generate(&models.User{ID: models.UserID(userID), Username: username})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user-id", 0, "User id")
	cmd.Flags().StringVar(&username, "username", "", "Username")
	_ = cmd.MarkFlagRequired("user-id")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}
