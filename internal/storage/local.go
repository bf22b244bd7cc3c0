package storage

import (
	"context"

	"github.com/mmynk/kettle/internal/models"
)

// SnapshotStorage persists one RoomSnapshot per room on the device.
// Every call is atomic: readers never see a partially written snapshot.
type SnapshotStorage interface {
	// GetSnapshot returns ErrNotFound if the room has no snapshot.
	GetSnapshot(ctx context.Context, roomID int64) (*models.RoomSnapshot, error)

	// PutSnapshot inserts or replaces the snapshot for snap.RoomID.
	PutSnapshot(ctx context.Context, snap *models.RoomSnapshot) error

	// UpdateSnapshot runs a read-modify-write of one snapshot as a single
	// transaction. fn mutates the snapshot in place; if it returns an error
	// nothing is written. Returns ErrNotFound if the room has no snapshot.
	UpdateSnapshot(ctx context.Context, roomID int64, fn func(*models.RoomSnapshot) error) (*models.RoomSnapshot, error)

	DeleteSnapshot(ctx context.Context, roomID int64) error
	ListSnapshots(ctx context.Context) ([]*models.RoomSnapshot, error)
}

// OutboxStorage persists queued requests on the device.
type OutboxStorage interface {
	AppendRequest(ctx context.Context, req *models.OutboxRequest) error

	// ListRequests returns every queued request ordered by EnqueuedAt. Requests
	// with equal timestamps keep their append order.
	ListRequests(ctx context.Context) ([]*models.OutboxRequest, error)

	// DeleteRequest is a no-op for unknown ids.
	DeleteRequest(ctx context.Context, id string) error

	CountRequests(ctx context.Context) (int, error)
}

// LocalStore is the device-local durable store backing the outbox and the
// snapshot cache.
type LocalStore interface {
	SnapshotStorage
	OutboxStorage
	Close() error
}
