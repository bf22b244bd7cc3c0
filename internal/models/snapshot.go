package models

import (
	"math/big"
	"slices"
	"time"
)

// RoomFields is the part of a room snapshot that callers provide. Derived
// balances and the update stamp are filled in by the snapshot store.
type RoomFields struct {
	Code          string   `json:"code"`
	Name          string   `json:"name"`
	Members       []Member `json:"members"`
	Entries       []Entry  `json:"entries"` // newest first
	CurrentUserID UserID   `json:"currentUserId"`
}

// Ledger holds balances derived from a room's entries by the calculator.
// Values are exact rationals so the room total is exactly zero.
type Ledger struct {
	// ViewerNet is the current user's net balance. Positive means the room owes them.
	ViewerNet *big.Rat `json:"viewerNet"`

	// PerMember is every ledger account, including members who left the room
	// but are still referenced by historical entries.
	PerMember map[UserID]*big.Rat `json:"perMember"`

	// ByUsername holds the balances of current members other than the viewer.
	ByUsername map[string]*big.Rat `json:"byUsername"`
}

// Sum returns the total over all ledger accounts.
func (l Ledger) Sum() *big.Rat {
	total := new(big.Rat)
	for _, v := range l.PerMember {
		total.Add(total, v)
	}
	return total
}

// RoomSnapshot is the locally cached, reconciled view of one room. It is
// the unit of atomicity in the snapshot store.
type RoomSnapshot struct {
	RoomID int64 `json:"roomId"`
	RoomFields
	Balances    Ledger    `json:"balances"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// PendingEntries returns the entries that still carry a temporary id.
func (s *RoomSnapshot) PendingEntries() []Entry {
	var pending []Entry
	for _, e := range s.Entries {
		if e.IsPending() {
			pending = append(pending, e)
		}
	}
	return pending
}

// Clone returns a deep copy.
func (s *RoomSnapshot) Clone() *RoomSnapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.Members = slices.Clone(s.Members)
	c.Entries = make([]Entry, len(s.Entries))
	for i, e := range s.Entries {
		e.Participants = slices.Clone(e.Participants)
		c.Entries[i] = e
	}
	c.Balances = s.Balances.Clone()
	return &c
}

// Clone returns a deep copy.
func (l Ledger) Clone() Ledger {
	c := Ledger{}
	if l.ViewerNet != nil {
		c.ViewerNet = new(big.Rat).Set(l.ViewerNet)
	}
	if l.PerMember != nil {
		c.PerMember = make(map[UserID]*big.Rat, len(l.PerMember))
		for k, v := range l.PerMember {
			c.PerMember[k] = new(big.Rat).Set(v)
		}
	}
	if l.ByUsername != nil {
		c.ByUsername = make(map[string]*big.Rat, len(l.ByUsername))
		for k, v := range l.ByUsername {
			c.ByUsername[k] = new(big.Rat).Set(v)
		}
	}
	return c
}
