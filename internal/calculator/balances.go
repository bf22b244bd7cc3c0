package calculator

import (
	"math/big"

	"github.com/mmynk/kettle/internal/models"
)

// AnomalyKind classifies a data-integrity problem found while folding entries.
type AnomalyKind string

const (
	// AnomalyNoParticipants: an expense resolved to zero participants and was skipped.
	AnomalyNoParticipants AnomalyKind = "no_participants"
	// AnomalyStaleParticipant: an expense names a participant who is no longer a member.
	AnomalyStaleParticipant AnomalyKind = "stale_participant"
	// AnomalyStalePayer: the payer is no longer a member.
	AnomalyStalePayer AnomalyKind = "stale_payer"
	// AnomalyNoLenders: a loan was recorded in a room with no other members.
	AnomalyNoLenders AnomalyKind = "no_lenders"
	// AnomalyZeroAmount: a zero amount slipped past validation and was skipped.
	AnomalyZeroAmount AnomalyKind = "zero_amount"
)

// Anomaly is a problem the engine absorbed instead of failing.
type Anomaly struct {
	Kind    AnomalyKind
	EntryID models.EntryID
	UserID  models.UserID
}

// Balances is the result of folding a room's entries.
type Balances struct {
	// ViewerNet is the viewer's net balance. Positive = the room owes them.
	ViewerNet *big.Rat

	// PerMember holds every ledger account touched by the entries plus all
	// current members. Former members keep their account so the total stays zero.
	PerMember map[models.UserID]*big.Rat

	// ByUsername holds current members other than the viewer.
	ByUsername map[string]*big.Rat

	Anomalies []Anomaly
}

// Ledger converts the result into the form stored on a snapshot.
func (b Balances) Ledger() models.Ledger {
	return models.Ledger{
		ViewerNet:  b.ViewerNet,
		PerMember:  b.PerMember,
		ByUsername: b.ByUsername,
	}
}

// CalculateBalances folds entries, oldest to newest, into net balances.
//
// Algorithm:
// - Expense (amount > 0): the payer is credited the full amount and each
//   effective participant is debited an equal share. A payer who is not a
//   participant keeps the full credit.
// - Loan (amount < 0): the borrower is debited |amount| and every other
//   member is credited an equal share. With no other members the debit stands.
//
// Arithmetic is exact; nothing is rounded. The function never fails: malformed
// entries are skipped or applied best-effort and reported in Anomalies.
func CalculateBalances(entries []models.Entry, members []models.Member, viewerID models.UserID) Balances {
	memberIDs := models.MemberIDs(members)
	isMember := make(map[models.UserID]bool, len(members))
	for _, id := range memberIDs {
		isMember[id] = true
	}

	accounts := make(map[models.UserID]*big.Rat, len(members))
	account := func(id models.UserID) *big.Rat {
		acc, ok := accounts[id]
		if !ok {
			acc = new(big.Rat)
			accounts[id] = acc
		}
		return acc
	}
	for _, id := range memberIDs {
		account(id)
	}

	var anomalies []Anomaly
	note := func(kind AnomalyKind, e models.Entry, user models.UserID) {
		anomalies = append(anomalies, Anomaly{Kind: kind, EntryID: e.ID, UserID: user})
	}

	// Entries are stored newest first; fold in chronological order.
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		switch e.Kind() {
		case models.KindExpense:
			participants := effectiveParticipants(e, memberIDs)
			if len(participants) == 0 {
				note(AnomalyNoParticipants, e, 0)
				continue
			}
			if !isMember[e.PayerID] {
				note(AnomalyStalePayer, e, e.PayerID)
			}
			amount := absAmount(e)
			share := equalShare(amount, len(participants))
			account(e.PayerID).Add(account(e.PayerID), amount)
			for _, p := range participants {
				if !isMember[p] {
					note(AnomalyStaleParticipant, e, p)
				}
				account(p).Sub(account(p), share)
			}

		case models.KindLoan:
			if !isMember[e.PayerID] {
				note(AnomalyStalePayer, e, e.PayerID)
			}
			amount := absAmount(e)
			account(e.PayerID).Sub(account(e.PayerID), amount)
			ls := lenders(e.PayerID, memberIDs)
			if len(ls) == 0 {
				note(AnomalyNoLenders, e, e.PayerID)
				continue
			}
			share := equalShare(amount, len(ls))
			for _, l := range ls {
				account(l).Add(account(l), share)
			}

		default:
			note(AnomalyZeroAmount, e, e.PayerID)
		}
	}

	byUsername := make(map[string]*big.Rat, len(members))
	for _, m := range members {
		if m.ID == viewerID {
			continue
		}
		byUsername[m.Username] = new(big.Rat).Set(accounts[m.ID])
	}

	viewerNet := new(big.Rat)
	if acc, ok := accounts[viewerID]; ok {
		viewerNet.Set(acc)
	}

	return Balances{
		ViewerNet:  viewerNet,
		PerMember:  accounts,
		ByUsername: byUsername,
		Anomalies:  anomalies,
	}
}
