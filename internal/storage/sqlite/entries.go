package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/kettle/internal/models"
	"github.com/mmynk/kettle/internal/storage"
)

// CreateEntry persists a new entry and assigns its server id.
func (s *SQLiteStore) CreateEntry(ctx context.Context, entry *models.Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	// NULL participants means "everyone"; an empty JSON array is never stored.
	var participants any
	if len(entry.Participants) > 0 {
		data, err := json.Marshal(entry.Participants)
		if err != nil {
			return fmt.Errorf("failed to encode participants: %w", err)
		}
		participants = string(data)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (room_id, user_id, amount, description, participants, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.RoomID, entry.PayerID, entry.Amount.String(), entry.Description,
		participants, entry.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read entry id: %w", err)
	}
	entry.ID = models.PersistedID(id)
	return nil
}

const entryColumns = `e.id, e.room_id, e.user_id, COALESCE(u.username, ''), e.amount,
	e.description, e.participants, e.created_at`

func scanEntry(row interface{ Scan(...any) error }) (*models.Entry, error) {
	var (
		id           int64
		amount       string
		participants sql.NullString
		createdAt    int64
		entry        models.Entry
	)
	if err := row.Scan(&id, &entry.RoomID, &entry.PayerID, &entry.Username, &amount,
		&entry.Description, &participants, &createdAt); err != nil {
		return nil, err
	}

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid stored amount %q: %w", amount, err)
	}
	entry.ID = models.PersistedID(id)
	entry.Amount = d
	entry.CreatedAt = time.UnixMilli(createdAt).UTC()

	if participants.Valid {
		if err := json.Unmarshal([]byte(participants.String), &entry.Participants); err != nil {
			return nil, fmt.Errorf("invalid stored participants: %w", err)
		}
	}
	return &entry, nil
}

// GetEntry retrieves an entry by ID.
func (s *SQLiteStore) GetEntry(ctx context.Context, id models.PersistedID) (*models.Entry, error) {
	entry, err := scanEntry(s.db.QueryRowContext(ctx,
		"SELECT "+entryColumns+" FROM entries e LEFT JOIN users u ON u.id = e.user_id WHERE e.id = ?",
		int64(id),
	))
	if err != nil {
		return nil, notFound(err, "entry", id)
	}
	return entry, nil
}

// DeleteEntry removes an entry by ID.
func (s *SQLiteStore) DeleteEntry(ctx context.Context, id models.PersistedID) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM entries WHERE id = ?", int64(id))
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("entry %d: %w", id, storage.ErrNotFound)
	}
	return nil
}

// ListEntries retrieves a room's entries, newest first.
func (s *SQLiteStore) ListEntries(ctx context.Context, roomID int64) ([]models.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+entryColumns+` FROM entries e LEFT JOIN users u ON u.id = e.user_id
		 WHERE e.room_id = ? ORDER BY e.created_at DESC, e.id DESC`,
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var entries []models.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entries: %w", err)
	}
	return entries, nil
}
