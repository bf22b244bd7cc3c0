package models

// UserID identifies a registered user. Room members are users.
type UserID int64

// User represents a registered user account as seen by the ledger server.
// Accounts are issued by the external auth service; the server only keeps
// the id and username it finds in a validated bearer token.
type User struct {
	// ID is the server-assigned identifier.
	ID UserID

	// Username is the display name shown to other room members.
	Username string

	// CreatedAt is the Unix timestamp when the user was first seen.
	CreatedAt int64
}

// Member is a room participant.
type Member struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
}

// MemberIDs returns the ids of members in order.
func MemberIDs(members []Member) []UserID {
	ids := make([]UserID, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}
	return ids
}
