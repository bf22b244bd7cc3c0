package calculator

import (
	"math/big"
	"testing"

	"github.com/mmynk/kettle/internal/models"
)

func TestSuggestTransfers(t *testing.T) {
	tests := []struct {
		name     string
		balances map[models.UserID]string
		want     []Transfer
	}{
		{
			name:     "settled room",
			balances: map[models.UserID]string{alice: "0", bob: "0"},
		},
		{
			name:     "two debtors, one creditor",
			balances: map[models.UserID]string{alice: "20", bob: "-1", carol: "-19"},
			want: []Transfer{
				{From: carol, To: alice, Amount: big.NewRat(19, 1)},
				{From: bob, To: alice, Amount: big.NewRat(1, 1)},
			},
		},
		{
			name:     "one debtor, two creditors",
			balances: map[models.UserID]string{alice: "10", bob: "5", carol: "-15"},
			want: []Transfer{
				{From: carol, To: alice, Amount: big.NewRat(10, 1)},
				{From: carol, To: bob, Amount: big.NewRat(5, 1)},
			},
		},
		{
			name:     "exact thirds",
			balances: map[models.UserID]string{alice: "-10/3", bob: "20/3", carol: "-10/3"},
			want: []Transfer{
				{From: alice, To: bob, Amount: big.NewRat(10, 3)},
				{From: carol, To: bob, Amount: big.NewRat(10, 3)},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			balances := make(map[models.UserID]*big.Rat, len(tt.balances))
			for id, s := range tt.balances {
				balances[id] = rat(t, s)
			}

			got := SuggestTransfers(balances)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d transfers, want %d: %+v", len(got), len(tt.want), got)
			}
			for i, w := range tt.want {
				g := got[i]
				if g.From != w.From || g.To != w.To || g.Amount.Cmp(w.Amount) != 0 {
					t.Errorf("transfer %d = %d->%d %s, want %d->%d %s",
						i, g.From, g.To, g.Amount.RatString(), w.From, w.To, w.Amount.RatString())
				}
			}

			// Input must not be mutated.
			for id, s := range tt.balances {
				assertRat(t, "input", balances[id], s)
			}
		})
	}
}
