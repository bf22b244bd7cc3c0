package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mmynk/kettle/internal/models"
	"github.com/mmynk/kettle/internal/storage"
)

// CreateRoom persists a new room and its creator's membership in one transaction.
func (s *SQLiteStore) CreateRoom(ctx context.Context, room *models.Room) error {
	if room.CreatedAt == 0 {
		room.CreatedAt = time.Now().Unix()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO rooms (code, name, creator_id, created_at) VALUES (?, ?, ?, ?)",
		room.Code, room.Name, room.CreatorID, room.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("room code %q: %w", room.Code, storage.ErrConflict)
		}
		return fmt.Errorf("failed to insert room: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read room id: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO room_members (room_id, user_id, joined_at) VALUES (?, ?, ?)",
		id, room.CreatorID, room.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert creator membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	room.ID = id
	return nil
}

const roomColumns = "id, code, name, COALESCE(creator_id, 0), created_at"

func scanRoom(row interface{ Scan(...any) error }) (*models.Room, error) {
	room := &models.Room{}
	if err := row.Scan(&room.ID, &room.Code, &room.Name, &room.CreatorID, &room.CreatedAt); err != nil {
		return nil, err
	}
	return room, nil
}

// GetRoom retrieves a room by ID.
func (s *SQLiteStore) GetRoom(ctx context.Context, roomID int64) (*models.Room, error) {
	room, err := scanRoom(s.db.QueryRowContext(ctx,
		"SELECT "+roomColumns+" FROM rooms WHERE id = ?", roomID))
	if err != nil {
		return nil, notFound(err, "room", roomID)
	}
	return room, nil
}

// FindRoomByCode retrieves a room by its join code. Codes are case-insensitive.
func (s *SQLiteStore) FindRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	room, err := scanRoom(s.db.QueryRowContext(ctx,
		"SELECT "+roomColumns+" FROM rooms WHERE code = ?", code))
	if err != nil {
		return nil, notFound(err, "room with code", code)
	}
	return room, nil
}

// RenameRoom updates a room's display name.
func (s *SQLiteStore) RenameRoom(ctx context.Context, roomID int64, name string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE rooms SET name = ? WHERE id = ?", name, roomID)
	if err != nil {
		return fmt.Errorf("failed to rename room: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("room %d: %w", roomID, storage.ErrNotFound)
	}
	return nil
}

// ListRoomsForUser returns the rooms a user belongs to, newest first.
func (s *SQLiteStore) ListRoomsForUser(ctx context.Context, userID models.UserID) ([]models.Room, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.code, r.name, COALESCE(r.creator_id, 0), r.created_at
		 FROM rooms r JOIN room_members m ON m.room_id = r.id
		 WHERE m.user_id = ? ORDER BY r.created_at DESC, r.id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer rows.Close()

	var rooms []models.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		rooms = append(rooms, *room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rooms: %w", err)
	}
	return rooms, nil
}

// AddMember adds a user to a room. Joining twice is a no-op.
func (s *SQLiteStore) AddMember(ctx context.Context, roomID int64, userID models.UserID) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO room_members (room_id, user_id, joined_at) VALUES (?, ?, ?)",
		roomID, userID, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

// RemoveMember removes a user from a room and deletes the room once empty.
func (s *SQLiteStore) RemoveMember(ctx context.Context, roomID int64, userID models.UserID) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"DELETE FROM room_members WHERE room_id = ? AND user_id = ?", roomID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to remove member: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, fmt.Errorf("member %d of room %d: %w", userID, roomID, storage.ErrNotFound)
	}

	var remaining int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM room_members WHERE room_id = ?", roomID).Scan(&remaining); err != nil {
		return false, fmt.Errorf("failed to count members: %w", err)
	}

	if remaining == 0 {
		// Entries and memberships cascade.
		if _, err := tx.ExecContext(ctx, "DELETE FROM rooms WHERE id = ?", roomID); err != nil {
			return false, fmt.Errorf("failed to delete room: %w", err)
		}
	} else if _, err := tx.ExecContext(ctx,
		"UPDATE rooms SET creator_id = NULL WHERE id = ? AND creator_id = ?", roomID, userID); err != nil {
		return false, fmt.Errorf("failed to clear creator: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return remaining == 0, nil
}

// IsMember reports whether the user belongs to the room.
func (s *SQLiteStore) IsMember(ctx context.Context, roomID int64, userID models.UserID) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM room_members WHERE room_id = ? AND user_id = ?", roomID, userID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return true, nil
}

// ListMembers returns a room's members in join order.
func (s *SQLiteStore) ListMembers(ctx context.Context, roomID int64) ([]models.Member, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id, u.username
		 FROM room_members m JOIN users u ON u.id = m.user_id
		 WHERE m.room_id = ? ORDER BY m.joined_at, m.rowid`,
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []models.Member
	for rows.Next() {
		var m models.Member
		if err := rows.Scan(&m.ID, &m.Username); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate members: %w", err)
	}
	return members, nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
