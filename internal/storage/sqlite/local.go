package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mmynk/kettle/internal/models"
	"github.com/mmynk/kettle/internal/storage"
)

// Ensure LocalStore implements storage.LocalStore
var _ storage.LocalStore = (*LocalStore)(nil)

// LocalStore is the device database: the outbox and one snapshot per room,
// each stored as a JSON document.
type LocalStore struct {
	db *sql.DB
}

// NewLocal opens or creates the device database at dbPath.
func NewLocal(dbPath string) (*LocalStore, error) {
	db, err := open(dbPath, localSchema)
	if err != nil {
		return nil, err
	}
	return &LocalStore{db: db}, nil
}

// Close closes the database connection.
func (s *LocalStore) Close() error {
	return s.db.Close()
}

// GetSnapshot loads a room's snapshot.
func (s *LocalStore) GetSnapshot(ctx context.Context, roomID int64) (*models.RoomSnapshot, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM snapshots WHERE room_id = ?", roomID).Scan(&data)
	if err != nil {
		return nil, notFound(err, "snapshot for room", roomID)
	}
	return decodeSnapshot(data)
}

// PutSnapshot inserts or replaces a room's snapshot.
func (s *LocalStore) PutSnapshot(ctx context.Context, snap *models.RoomSnapshot) error {
	return putSnapshot(ctx, s.db, snap)
}

// UpdateSnapshot applies fn to a room's snapshot inside one transaction.
func (s *LocalStore) UpdateSnapshot(ctx context.Context, roomID int64, fn func(*models.RoomSnapshot) error) (*models.RoomSnapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var data []byte
	if err := tx.QueryRowContext(ctx, "SELECT data FROM snapshots WHERE room_id = ?", roomID).Scan(&data); err != nil {
		return nil, notFound(err, "snapshot for room", roomID)
	}
	snap, err := decodeSnapshot(data)
	if err != nil {
		return nil, err
	}

	if err := fn(snap); err != nil {
		return nil, err
	}
	snap.RoomID = roomID

	if err := putSnapshot(ctx, tx, snap); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return snap, nil
}

// DeleteSnapshot removes a room's snapshot. Missing rooms are ignored.
func (s *LocalStore) DeleteSnapshot(ctx context.Context, roomID int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM snapshots WHERE room_id = ?", roomID); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// ListSnapshots returns every cached room, most recently updated first.
func (s *LocalStore) ListSnapshots(ctx context.Context) ([]*models.RoomSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT data FROM snapshots ORDER BY last_updated DESC, room_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*models.RoomSnapshot
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snap, err := decodeSnapshot(data)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshots: %w", err)
	}
	return snaps, nil
}

// AppendRequest durably appends a request to the outbox.
func (s *LocalStore) AppendRequest(ctx context.Context, req *models.OutboxRequest) error {
	if req.ID == "" {
		return errors.New("outbox request has no id")
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode outbox request: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO outbox (id, enqueued_at, data) VALUES (?, ?, ?)",
		req.ID, req.EnqueuedAt.UnixNano(), data,
	); err != nil {
		return fmt.Errorf("failed to append outbox request: %w", err)
	}
	return nil
}

// ListRequests returns queued requests in replay order.
func (s *LocalStore) ListRequests(ctx context.Context) ([]*models.OutboxRequest, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT data FROM outbox ORDER BY enqueued_at, seq")
	if err != nil {
		return nil, fmt.Errorf("failed to list outbox: %w", err)
	}
	defer rows.Close()

	var reqs []*models.OutboxRequest
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan outbox request: %w", err)
		}
		req := &models.OutboxRequest{}
		if err := json.Unmarshal(data, req); err != nil {
			return nil, fmt.Errorf("failed to decode outbox request: %w", err)
		}
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outbox: %w", err)
	}
	return reqs, nil
}

// DeleteRequest removes a request from the outbox.
func (s *LocalStore) DeleteRequest(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM outbox WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete outbox request: %w", err)
	}
	return nil
}

// CountRequests returns the number of queued requests.
func (s *LocalStore) CountRequests(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM outbox").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count outbox: %w", err)
	}
	return n, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func putSnapshot(ctx context.Context, db execer, snap *models.RoomSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO snapshots (room_id, data, last_updated) VALUES (?, ?, ?)
		 ON CONFLICT(room_id) DO UPDATE SET data = excluded.data, last_updated = excluded.last_updated`,
		snap.RoomID, data, snap.LastUpdated.UnixNano(),
	); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

func decodeSnapshot(data []byte) (*models.RoomSnapshot, error) {
	snap := &models.RoomSnapshot{}
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap, nil
}
