package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/mmynk/kettle/internal/models"
	"github.com/mmynk/kettle/internal/storage"
)

// GetIdempotencyRecord looks up the stored response for a user's key.
func (s *SQLiteStore) GetIdempotencyRecord(ctx context.Context, userID models.UserID, key string) (*storage.IdempotencyRecord, error) {
	rec := &storage.IdempotencyRecord{}
	err := s.db.QueryRowContext(ctx,
		`SELECT key, user_id, method, path, status, body, created_at
		 FROM idempotency_keys WHERE user_id = ? AND key = ?`,
		userID, key,
	).Scan(&rec.Key, &rec.UserID, &rec.Method, &rec.Path, &rec.Status, &rec.Body, &rec.CreatedAt)
	if err != nil {
		return nil, notFound(err, "idempotency key", key)
	}
	return rec, nil
}

// ReserveIdempotencyKey claims a key with a pending record. It reports false
// when the user already holds the key, pending or completed.
func (s *SQLiteStore) ReserveIdempotencyKey(ctx context.Context, rec *storage.IdempotencyRecord) (bool, error) {
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().Unix()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO idempotency_keys (user_id, key, method, path, status, body, created_at)
		 VALUES (?, ?, ?, ?, 0, NULL, ?)`,
		rec.UserID, rec.Key, rec.Method, rec.Path, rec.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	return n == 1, nil
}

// SaveIdempotencyRecord stores a response, filling in a pending reservation
// if there is one. The first response for a key wins.
func (s *SQLiteStore) SaveIdempotencyRecord(ctx context.Context, rec *storage.IdempotencyRecord) error {
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().Unix()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO idempotency_keys (user_id, key, method, path, status, body, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, key) DO UPDATE SET
		   status = excluded.status, body = excluded.body, created_at = excluded.created_at
		 WHERE idempotency_keys.status = 0`,
		rec.UserID, rec.Key, rec.Method, rec.Path, rec.Status, rec.Body, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save idempotency record: %w", err)
	}
	return nil
}

// ReleaseIdempotencyKey drops a pending reservation made before the given
// unix time. Completed records are never released.
func (s *SQLiteStore) ReleaseIdempotencyKey(ctx context.Context, userID models.UserID, key string, reservedBefore int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys
		 WHERE user_id = ? AND key = ? AND status = 0 AND created_at < ?`,
		userID, key, reservedBefore,
	)
	if err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}
