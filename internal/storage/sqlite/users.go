package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/mmynk/kettle/internal/models"
)

// EnsureUser inserts the user or refreshes the stored username.
func (s *SQLiteStore) EnsureUser(ctx context.Context, user *models.User) error {
	if user.CreatedAt == 0 {
		user.CreatedAt = time.Now().Unix()
	}

	query := `
		INSERT INTO users (id, username, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET username = excluded.username
	`

	if _, err := s.db.ExecContext(ctx, query, user.ID, user.Username, user.CreatedAt); err != nil {
		return fmt.Errorf("failed to ensure user: %w", err)
	}
	return nil
}
