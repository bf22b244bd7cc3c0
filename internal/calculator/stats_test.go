package calculator

import (
	"testing"

	"github.com/mmynk/kettle/internal/models"
)

func TestCalculateRoomStats(t *testing.T) {
	stats := CalculateRoomStats(mixedEntries(), threeMembers)

	assertRat(t, "TotalExpenses", stats.TotalExpenses, "39")
	assertRat(t, "TotalLoans", stats.TotalLoans, "6")
	if stats.EntryCount != 3 {
		t.Errorf("EntryCount = %d, want 3", stats.EntryCount)
	}
	if stats.BiggestExpense == nil || stats.BiggestExpense.ID != models.PersistedID(1) {
		t.Errorf("BiggestExpense = %+v, want entry 1", stats.BiggestExpense)
	}

	want := []struct{ paid, share, net string }{
		{"33", "13", "20"},
		{"12", "13", "-1"},
		{"0", "19", "-19"},
	}
	if len(stats.Members) != len(want) {
		t.Fatalf("got %d member stats, want %d", len(stats.Members), len(want))
	}
	for i, w := range want {
		m := stats.Members[i]
		assertRat(t, m.Member.Username+" paid", m.Paid, w.paid)
		assertRat(t, m.Member.Username+" share", m.Share, w.share)
		assertRat(t, m.Member.Username+" net", m.Net, w.net)
	}
}

func TestCalculateRoomStats_NetsMatchLedger(t *testing.T) {
	entries := mixedEntries()
	stats := CalculateRoomStats(entries, threeMembers)
	balances := CalculateBalances(entries, threeMembers, alice)
	for _, m := range stats.Members {
		if m.Net.Cmp(balances.PerMember[m.Member.ID]) != 0 {
			t.Errorf("%s: stats net %s, ledger %s", m.Member.Username, m.Net.RatString(), balances.PerMember[m.Member.ID].RatString())
		}
	}
}

func TestCalculateRoomStats_Empty(t *testing.T) {
	stats := CalculateRoomStats(nil, threeMembers)
	if stats.BiggestExpense != nil {
		t.Errorf("BiggestExpense = %+v, want nil", stats.BiggestExpense)
	}
	if stats.TotalExpenses.Sign() != 0 || stats.TotalLoans.Sign() != 0 {
		t.Error("totals should be zero")
	}
}
