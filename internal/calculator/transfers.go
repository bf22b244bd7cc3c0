package calculator

import (
	"math/big"
	"sort"

	"github.com/mmynk/kettle/internal/models"
)

// Transfer is a suggested payment that settles part of the room's balances.
type Transfer struct {
	From   models.UserID // owes money
	To     models.UserID // is owed money
	Amount *big.Rat
}

type position struct {
	id     models.UserID
	amount *big.Rat // always positive
}

// SuggestTransfers returns payments that bring every balance to zero.
//
// Greedy matching: the largest debtor pays the largest creditor the smaller
// of the two amounts, and whoever is fully settled drops out. This yields at
// most n-1 transfers. Ties are broken by user id so the result is stable.
func SuggestTransfers(perMember map[models.UserID]*big.Rat) []Transfer {
	var debtors, creditors []position
	for id, bal := range perMember {
		switch bal.Sign() {
		case 1:
			creditors = append(creditors, position{id: id, amount: new(big.Rat).Set(bal)})
		case -1:
			debtors = append(debtors, position{id: id, amount: new(big.Rat).Neg(bal)})
		}
	}
	byAmount := func(ps []position) {
		sort.Slice(ps, func(i, j int) bool {
			if c := ps[i].amount.Cmp(ps[j].amount); c != 0 {
				return c > 0
			}
			return ps[i].id < ps[j].id
		})
	}
	byAmount(debtors)
	byAmount(creditors)

	var transfers []Transfer
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		d, c := &debtors[i], &creditors[j]

		amount := d.amount
		if c.amount.Cmp(amount) < 0 {
			amount = c.amount
		}
		amount = new(big.Rat).Set(amount)
		transfers = append(transfers, Transfer{From: d.id, To: c.id, Amount: amount})

		d.amount.Sub(d.amount, amount)
		c.amount.Sub(c.amount, amount)
		if d.amount.Sign() == 0 {
			i++
		}
		if c.amount.Sign() == 0 {
			j++
		}
	}
	return transfers
}
