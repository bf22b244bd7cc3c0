package models

// Room represents a shared ledger on the server.
type Room struct {
	// ID is the server-assigned identifier.
	ID int64

	// Code is the six character join code shared with other members.
	Code string

	// Name is an optional display name. Empty means "show the code".
	Name string

	// CreatorID is the member who created the room. Zero once they leave.
	CreatorID UserID

	// CreatedAt is the Unix timestamp when the room was created.
	CreatedAt int64
}

// MaxRoomNameLength bounds room names.
const MaxRoomNameLength = 50
