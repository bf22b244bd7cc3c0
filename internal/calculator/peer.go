package calculator

import (
	"math/big"

	"github.com/mmynk/kettle/internal/models"
)

// Contribution is one entry's effect on a viewer/peer balance.
type Contribution struct {
	Entry  models.Entry
	Amount *big.Rat // positive = the peer owes the viewer
}

// PeerBalance is what one other member owes the viewer, with the entries
// that produced it.
type PeerBalance struct {
	Member        models.Member
	Net           *big.Rat
	Contributions []Contribution // newest first, like the entries
}

// CalculatePeerBalances breaks the viewer's balance down per other member.
// Only entries between the viewer and that member count: an expense the viewer
// paid makes each participant owe their share, an expense a peer paid makes
// the viewer owe the peer their own share, and loans split across lenders the
// same way as in CalculateBalances.
func CalculatePeerBalances(entries []models.Entry, members []models.Member, viewerID models.UserID) []PeerBalance {
	memberIDs := models.MemberIDs(members)
	peers := make([]PeerBalance, 0, len(members))
	index := make(map[models.UserID]int, len(members))
	for _, m := range members {
		if m.ID == viewerID {
			continue
		}
		index[m.ID] = len(peers)
		peers = append(peers, PeerBalance{Member: m, Net: new(big.Rat)})
	}

	add := func(peer models.UserID, e models.Entry, amount *big.Rat) {
		i, ok := index[peer]
		if !ok {
			return
		}
		peers[i].Net.Add(peers[i].Net, amount)
		peers[i].Contributions = append(peers[i].Contributions, Contribution{Entry: e, Amount: amount})
	}

	for _, e := range entries {
		switch e.Kind() {
		case models.KindExpense:
			participants := effectiveParticipants(e, memberIDs)
			if len(participants) == 0 {
				continue
			}
			share := equalShare(absAmount(e), len(participants))
			if e.PayerID == viewerID {
				for _, p := range participants {
					if p != viewerID {
						add(p, e, share)
					}
				}
				continue
			}
			for _, p := range participants {
				if p == viewerID {
					add(e.PayerID, e, new(big.Rat).Neg(share))
					break
				}
			}

		case models.KindLoan:
			ls := lenders(e.PayerID, memberIDs)
			if len(ls) == 0 {
				continue
			}
			share := equalShare(absAmount(e), len(ls))
			if e.PayerID == viewerID {
				for _, l := range ls {
					add(l, e, new(big.Rat).Neg(share))
				}
				continue
			}
			for _, l := range ls {
				if l == viewerID {
					add(e.PayerID, e, share)
					break
				}
			}
		}
	}
	return peers
}
