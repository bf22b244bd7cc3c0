package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/mmynk/kettle/internal/calculator"
	"github.com/mmynk/kettle/internal/client"
	"github.com/mmynk/kettle/internal/models"
)

func report(w io.Writer, res *client.WriteResult, done string) {
	if res.Queued {
		fmt.Fprintf(w, "%s (queued, will sync when online)\n", done)
		return
	}
	fmt.Fprintln(w, done)
}

func reportBalance(w io.Writer, snap *models.RoomSnapshot) {
	if snap != nil {
		fmt.Fprintf(w, "Your balance: %s\n", calculator.FormatAmount(snap.Balances.ViewerNet))
	}
}

func addCmd(opts *rootOptions) *cobra.Command {
	var (
		with []int64
		date string
	)
	cmd := &cobra.Command{
		Use:   "add AMOUNT DESCRIPTION...",
		Short: "Record an expense, or a loan with a negative amount",
		Example: `  kettle add -r 3 12 Coffee
  kettle add -r 3 30 Groceries --with 2,3
  kettle add -r 3 -- -50 Borrowed for rent`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[0])
			if err != nil {
				return fmt.Errorf("invalid amount %q", args[0])
			}
			in := client.NewEntry{
				Amount:      amount,
				Description: strings.Join(args[1:], " "),
			}
			for _, id := range with {
				in.Participants = append(in.Participants, models.UserID(id))
			}
			if date != "" {
				if in.CreatedAt, err = time.ParseInLocation(time.DateOnly, date, time.Local); err != nil {
					return fmt.Errorf("invalid date %q, want YYYY-MM-DD", date)
				}
			}

			return withApp(cmd.Context(), opts, func(a *app) error {
				roomID, err := a.room()
				if err != nil {
					return err
				}
				res, err := a.client.AddEntry(cmd.Context(), roomID, in)
				if err != nil {
					return err
				}
				report(cmd.OutOrStdout(), res, fmt.Sprintf("Added entry %s", res.EntryID))
				reportBalance(cmd.OutOrStdout(), res.Snapshot)
				return nil
			})
		},
	}
	cmd.Flags().Int64SliceVar(&with, "with", nil, "User ids sharing an expense (default everyone)")
	cmd.Flags().StringVar(&date, "date", "", "Entry date, YYYY-MM-DD (default now)")
	return cmd
}

func deleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ENTRY_ID",
		Short: "Delete one of your entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := models.ParseEntryID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), opts, func(a *app) error {
				roomID, err := a.room()
				if err != nil {
					return err
				}
				res, err := a.client.DeleteEntryRef(cmd.Context(), roomID, id)
				if err != nil {
					return err
				}
				report(cmd.OutOrStdout(), res, fmt.Sprintf("Deleted entry %s", id))
				reportBalance(cmd.OutOrStdout(), res.Snapshot)
				return nil
			})
		},
	}
}

func renameCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rename [NAME...]",
		Short: "Rename the room; no name clears it",
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.Join(args, " ")
			return withApp(cmd.Context(), opts, func(a *app) error {
				roomID, err := a.room()
				if err != nil {
					return err
				}
				res, err := a.client.RenameRoom(cmd.Context(), roomID, name)
				if err != nil {
					return err
				}
				report(cmd.OutOrStdout(), res, "Room renamed")
				return nil
			})
		},
	}
}

func createCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create a room and print its join code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				res, err := a.client.CreateRoom(cmd.Context())
				if err != nil {
					return err
				}
				return reportRoom(cmd.OutOrStdout(), res, "Created")
			})
		},
	}
}

func joinCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "join CODE",
		Short: "Join a room by its code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				res, err := a.client.JoinRoom(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return reportRoom(cmd.OutOrStdout(), res, "Joined")
			})
		},
	}
}

func reportRoom(w io.Writer, res *client.WriteResult, verb string) error {
	if res.Queued {
		fmt.Fprintf(w, "%s room once online; run 'kettle rooms' after syncing\n", verb)
		return nil
	}
	fmt.Fprintf(w, "%s room %d, code %s\n", verb, res.Room.ID, res.Room.Code)
	return nil
}

func leaveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "leave",
		Short: "Leave the room and forget it on this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				roomID, err := a.room()
				if err != nil {
					return err
				}
				res, err := a.client.LeaveRoom(cmd.Context(), roomID)
				if err != nil {
					return err
				}
				report(cmd.OutOrStdout(), res, fmt.Sprintf("Left room %d", roomID))
				return nil
			})
		},
	}
}
