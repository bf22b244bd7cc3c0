// Package api defines the HTTP contract between devices and the server,
// and a client for it.
package api

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/kettle/internal/models"
)

// Paths of the server endpoints.
const (
	PathEntries = "/entries"
	PathRooms   = "/rooms"
	PathHealth  = "/healthz"
)

// HeaderIdempotencyKey carries the outbox request id so a resent request is
// applied once.
const HeaderIdempotencyKey = "Idempotency-Key"

// EntryPath is the path of one entry.
func EntryPath(id models.PersistedID) string {
	return PathEntries + "/" + id.String()
}

// RoomPath is the path of one room.
func RoomPath(roomID int64) string {
	return PathRooms + "/" + strconv.FormatInt(roomID, 10)
}

// MembersPath is the membership collection of a room.
func MembersPath(roomID int64) string {
	return RoomPath(roomID) + "/members"
}

// AddEntryRequest is the body of POST /entries.
type AddEntryRequest struct {
	RoomID       int64           `json:"roomId"`
	Amount       decimal.Decimal `json:"amount"`
	Description  string          `json:"description"`
	Participants []models.UserID `json:"participants"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// AddEntryResponse is returned with 201 Created.
type AddEntryResponse struct {
	ID int64 `json:"id"`
}

// RenameRoomRequest is the body of PUT /rooms/{id}.
type RenameRoomRequest struct {
	Name string `json:"name"`
}

// JoinRoomRequest is the body of POST /rooms. An empty RoomCode creates a room.
type JoinRoomRequest struct {
	RoomCode string `json:"roomCode,omitempty"`
}

// RoomSummary identifies a room. Returned by POST /rooms and GET /rooms.
type RoomSummary struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// RoomsResponse is the body of GET /rooms.
type RoomsResponse struct {
	Rooms []RoomSummary `json:"rooms"`
}

// LeaveRoomResponse is the body of DELETE /rooms/{id}/members.
type LeaveRoomResponse struct {
	RoomDeleted bool `json:"roomDeleted"`
}

// RoomResponse is the canonical read of GET /rooms/{id}. Balances are keyed
// by username and exclude the current user; amounts are rounded for display.
type RoomResponse struct {
	ID                 int64                      `json:"id"`
	Code               string                     `json:"code"`
	Name               string                     `json:"name"`
	Entries            []models.Entry             `json:"entries"`
	Members            []models.Member            `json:"members"`
	CurrentUserID      models.UserID              `json:"currentUserId"`
	CurrentUserBalance decimal.Decimal            `json:"currentUserBalance"`
	Balances           map[string]decimal.Decimal `json:"balances"`
}

// Fields converts the canonical read into snapshot fields.
func (r *RoomResponse) Fields() models.RoomFields {
	return models.RoomFields{
		Code:          r.Code,
		Name:          r.Name,
		Members:       r.Members,
		Entries:       r.Entries,
		CurrentUserID: r.CurrentUserID,
	}
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Message string `json:"message"`
}
