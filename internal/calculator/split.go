package calculator

import (
	"math/big"

	"github.com/mmynk/kettle/internal/models"
)

// effectiveParticipants resolves who shares an expense: the entry's own
// participant list (deduplicated, order kept) when it is non-empty, otherwise
// every current member.
func effectiveParticipants(e models.Entry, memberIDs []models.UserID) []models.UserID {
	if len(e.Participants) == 0 {
		return memberIDs
	}
	seen := make(map[models.UserID]bool, len(e.Participants))
	out := make([]models.UserID, 0, len(e.Participants))
	for _, p := range e.Participants {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// lenders returns every member other than the borrower.
func lenders(borrower models.UserID, memberIDs []models.UserID) []models.UserID {
	out := make([]models.UserID, 0, len(memberIDs))
	for _, id := range memberIDs {
		if id != borrower {
			out = append(out, id)
		}
	}
	return out
}

// equalShare divides amount into n equal parts. n must be positive.
func equalShare(amount *big.Rat, n int) *big.Rat {
	return new(big.Rat).Quo(amount, new(big.Rat).SetInt64(int64(n)))
}

// absAmount returns |e.Amount| as an exact rational.
func absAmount(e models.Entry) *big.Rat {
	return e.Amount.Abs().Rat()
}
