package calculator

import (
	"math/big"

	"github.com/mmynk/kettle/internal/models"
)

// MemberStats summarizes one member's activity in a room.
type MemberStats struct {
	Member models.Member
	Paid   *big.Rat // expenses fronted plus loan shares lent
	Share  *big.Rat // expense shares owed plus amounts borrowed
	Net    *big.Rat // Paid - Share
}

// RoomStats aggregates a room's entries.
type RoomStats struct {
	TotalExpenses  *big.Rat
	TotalLoans     *big.Rat
	EntryCount     int
	BiggestExpense *models.Entry
	Members        []MemberStats // in member order
}

// CalculateRoomStats totals a room's entries. Per-member nets agree with
// CalculateBalances for current members.
func CalculateRoomStats(entries []models.Entry, members []models.Member) RoomStats {
	memberIDs := models.MemberIDs(members)
	stats := RoomStats{
		TotalExpenses: new(big.Rat),
		TotalLoans:    new(big.Rat),
		EntryCount:    len(entries),
		Members:       make([]MemberStats, len(members)),
	}
	index := make(map[models.UserID]int, len(members))
	for i, m := range members {
		index[m.ID] = i
		stats.Members[i] = MemberStats{Member: m, Paid: new(big.Rat), Share: new(big.Rat), Net: new(big.Rat)}
	}
	paid := func(id models.UserID, r *big.Rat) {
		if i, ok := index[id]; ok {
			stats.Members[i].Paid.Add(stats.Members[i].Paid, r)
		}
	}
	owed := func(id models.UserID, r *big.Rat) {
		if i, ok := index[id]; ok {
			stats.Members[i].Share.Add(stats.Members[i].Share, r)
		}
	}

	var biggest *models.Entry
	for i := range entries {
		e := entries[i]
		amount := absAmount(e)
		switch e.Kind() {
		case models.KindExpense:
			stats.TotalExpenses.Add(stats.TotalExpenses, amount)
			// Strictly greater, scanning newest first, keeps the newest of equal expenses.
			if biggest == nil || e.Amount.GreaterThan(biggest.Amount) {
				biggest = &entries[i]
			}
			participants := effectiveParticipants(e, memberIDs)
			if len(participants) == 0 {
				continue
			}
			paid(e.PayerID, amount)
			share := equalShare(amount, len(participants))
			for _, p := range participants {
				owed(p, share)
			}
		case models.KindLoan:
			stats.TotalLoans.Add(stats.TotalLoans, amount)
			owed(e.PayerID, amount)
			ls := lenders(e.PayerID, memberIDs)
			if len(ls) == 0 {
				continue
			}
			share := equalShare(amount, len(ls))
			for _, l := range ls {
				paid(l, share)
			}
		}
	}
	if biggest != nil {
		b := *biggest
		stats.BiggestExpense = &b
	}
	for i := range stats.Members {
		m := &stats.Members[i]
		m.Net.Sub(m.Paid, m.Share)
	}
	return stats
}
