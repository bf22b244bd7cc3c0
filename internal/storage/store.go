// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"
	"errors"

	"github.com/mmynk/kettle/internal/models"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a unique value (such as a room code) is taken.
	ErrConflict = errors.New("conflict")
)

// Store defines the server-side storage operations for rooms and entries.
// This abstraction allows swapping storage backends without changing the
// HTTP layer.
type Store interface {
	// EnsureUser inserts the user if absent and refreshes the username otherwise.
	EnsureUser(ctx context.Context, user *models.User) error

	// CreateRoom persists a new room and adds its creator as the first member.
	// room.ID is populated. Returns ErrConflict if the code is taken.
	CreateRoom(ctx context.Context, room *models.Room) error

	GetRoom(ctx context.Context, roomID int64) (*models.Room, error)
	FindRoomByCode(ctx context.Context, code string) (*models.Room, error)
	RenameRoom(ctx context.Context, roomID int64, name string) error

	// ListRoomsForUser returns the rooms a user belongs to, newest first.
	ListRoomsForUser(ctx context.Context, userID models.UserID) ([]models.Room, error)

	// AddMember is a no-op if the user is already a member.
	AddMember(ctx context.Context, roomID int64, userID models.UserID) error

	// RemoveMember removes a member. When the last member leaves the room is
	// deleted along with its entries and roomDeleted is true.
	RemoveMember(ctx context.Context, roomID int64, userID models.UserID) (roomDeleted bool, err error)

	IsMember(ctx context.Context, roomID int64, userID models.UserID) (bool, error)

	// ListMembers returns members in the order they joined.
	ListMembers(ctx context.Context, roomID int64) ([]models.Member, error)

	// CreateEntry persists a new entry. entry.ID is set to a PersistedID.
	CreateEntry(ctx context.Context, entry *models.Entry) error

	GetEntry(ctx context.Context, id models.PersistedID) (*models.Entry, error)
	DeleteEntry(ctx context.Context, id models.PersistedID) error

	// ListEntries returns a room's entries newest first, payer usernames filled in.
	ListEntries(ctx context.Context, roomID int64) ([]models.Entry, error)

	// GetIdempotencyRecord returns ErrNotFound if the key has not been seen.
	GetIdempotencyRecord(ctx context.Context, userID models.UserID, key string) (*IdempotencyRecord, error)
	// ReserveIdempotencyKey atomically claims an unseen key with a pending
	// record and reports whether the claim succeeded.
	ReserveIdempotencyKey(ctx context.Context, rec *IdempotencyRecord) (bool, error)
	SaveIdempotencyRecord(ctx context.Context, rec *IdempotencyRecord) error
	ReleaseIdempotencyKey(ctx context.Context, userID models.UserID, key string, reservedBefore int64) error

	// Close releases any resources held by the store.
	Close() error
}

// IdempotencyRecord is the stored response to a mutating request that
// carried an Idempotency-Key header.
type IdempotencyRecord struct {
	Key       string
	UserID    models.UserID
	Method    string
	Path      string
	Status    int // 0 while the first request is still being handled
	Body      []byte
	CreatedAt int64
}
