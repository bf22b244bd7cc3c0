package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmynk/kettle/internal/calculator"
	"github.com/mmynk/kettle/internal/models"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

// names maps ids to usernames; ids of departed members fall back to "user N".
func names(snap *models.RoomSnapshot) func(models.UserID) string {
	byID := make(map[models.UserID]string, len(snap.Members))
	for _, m := range snap.Members {
		byID[m.ID] = m.Username
	}
	return func(id models.UserID) string {
		if name, ok := byID[id]; ok {
			return name
		}
		return fmt.Sprintf("user %d", id)
	}
}

func roomTitle(snap *models.RoomSnapshot) string {
	if snap.Name != "" {
		return fmt.Sprintf("%s (%s)", snap.Name, snap.Code)
	}
	return snap.Code
}

func balancesCmd(opts *rootOptions) *cobra.Command {
	var detail bool
	cmd := &cobra.Command{
		Use:   "balances",
		Short: "Show who owes whom in the room",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				snap, err := a.snapshot(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s\n", roomTitle(snap))
				fmt.Fprintf(out, "Your balance: %s\n\n", calculator.FormatAmount(snap.Balances.ViewerNet))

				peers := calculator.CalculatePeerBalances(snap.Entries, snap.Members, snap.CurrentUserID)
				tw := newTable(out)
				fmt.Fprintln(tw, "MEMBER\tNET\tWITH YOU")
				for _, p := range peers {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Member.Username,
						calculator.FormatAmount(snap.Balances.ByUsername[p.Member.Username]), calculator.FormatAmount(p.Net))
					if !detail {
						continue
					}
					for _, c := range p.Contributions {
						fmt.Fprintf(tw, "  %s\t\t%s\n", c.Entry.Description, calculator.FormatAmount(c.Amount))
					}
				}
				if pending := snap.PendingEntries(); len(pending) > 0 {
					fmt.Fprintf(tw, "\n%d entries not synced yet\t\n", len(pending))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&detail, "detail", false, "List the entries behind each balance")
	return cmd
}

func entriesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "entries",
		Short: "List the room's entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				snap, err := a.snapshot(cmd.Context())
				if err != nil {
					return err
				}
				name := names(snap)
				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "ID\tDATE\tPAYER\tKIND\tAMOUNT\tDESCRIPTION")
				for _, e := range snap.Entries {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
						e.ID, e.CreatedAt.Local().Format(time.DateOnly), name(e.PayerID), e.Kind(),
						e.Amount.StringFixed(calculator.DisplayPlaces), e.Description)
				}
				return tw.Flush()
			})
		},
	}
}

func statsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show room totals and per-member spending",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				snap, err := a.snapshot(cmd.Context())
				if err != nil {
					return err
				}
				stats := calculator.CalculateRoomStats(snap.Entries, snap.Members)
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Entries:  %d\n", stats.EntryCount)
				fmt.Fprintf(out, "Expenses: %s\n", calculator.FormatAmount(stats.TotalExpenses))
				fmt.Fprintf(out, "Loans:    %s\n", calculator.FormatAmount(stats.TotalLoans))
				if e := stats.BiggestExpense; e != nil {
					fmt.Fprintf(out, "Biggest:  %s (%s)\n", e.Description, e.Amount.StringFixed(calculator.DisplayPlaces))
				}
				fmt.Fprintln(out)

				tw := newTable(out)
				fmt.Fprintln(tw, "MEMBER\tPAID\tSHARE\tNET")
				for _, m := range stats.Members {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.Member.Username,
						calculator.FormatAmount(m.Paid), calculator.FormatAmount(m.Share), calculator.FormatAmount(m.Net))
				}
				return tw.Flush()
			})
		},
	}
}

func transfersCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "transfers",
		Short: "Suggest the payments that settle the room",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				snap, err := a.snapshot(cmd.Context())
				if err != nil {
					return err
				}
				transfers := calculator.SuggestTransfers(snap.Balances.PerMember)
				if len(transfers) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "All settled up.")
					return nil
				}
				name := names(snap)
				tw := newTable(cmd.OutOrStdout())
				for _, t := range transfers {
					fmt.Fprintf(tw, "%s\tpays\t%s\t%s\n", name(t.From), name(t.To), calculator.FormatAmount(t.Amount))
				}
				return tw.Flush()
			})
		},
	}
}

func exportCmd(opts *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the room's entries as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				snap, err := a.snapshot(cmd.Context())
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if output != "" && output != "-" {
					f, err := os.Create(output)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				return writeCSV(w, snap)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	return cmd
}

// writeCSV writes entries oldest first, one row per entry.
func writeCSV(w io.Writer, snap *models.RoomSnapshot) error {
	name := names(snap)
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"date", "payer", "kind", "amount", "description", "split_with", "synced"}); err != nil {
		return err
	}
	entries := slices.Clone(snap.Entries)
	slices.Reverse(entries)
	for _, e := range entries {
		split := "everyone"
		if e.Kind() == models.KindLoan {
			split = "lenders"
		} else if len(e.Participants) > 0 {
			split = ""
			for i, p := range e.Participants {
				if i > 0 {
					split += ";"
				}
				split += name(p)
			}
		}
		if err := cw.Write([]string{
			e.CreatedAt.UTC().Format(time.RFC3339),
			name(e.PayerID),
			e.Kind().String(),
			e.Amount.StringFixed(calculator.DisplayPlaces),
			e.Description,
			split,
			fmt.Sprint(!e.IsPending()),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func roomsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rooms",
		Short: "List your rooms",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "ID\tCODE\tNAME")
				if a.online() {
					rooms, err := a.client.ListRooms(cmd.Context())
					if err != nil {
						return err
					}
					for _, r := range rooms {
						fmt.Fprintf(tw, "%d\t%s\t%s\n", r.ID, r.Code, r.Name)
					}
					return tw.Flush()
				}
				snaps, err := a.client.Snapshots().List(cmd.Context())
				if err != nil {
					return err
				}
				for _, s := range snaps {
					fmt.Fprintf(tw, "%d\t%s\t%s\t(cached %s)\n", s.RoomID, s.Code, s.Name, s.LastUpdated.Local().Format(time.DateTime))
				}
				return tw.Flush()
			})
		},
	}
}
