package middleware

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mmynk/kettle/internal/api"
	"github.com/mmynk/kettle/internal/models"
	"github.com/mmynk/kettle/internal/storage"
)

// IdempotencyStore keeps the first response given to each key.
type IdempotencyStore interface {
	GetIdempotencyRecord(ctx context.Context, userID models.UserID, key string) (*storage.IdempotencyRecord, error)
	ReserveIdempotencyKey(ctx context.Context, rec *storage.IdempotencyRecord) (bool, error)
	SaveIdempotencyRecord(ctx context.Context, rec *storage.IdempotencyRecord) error
	ReleaseIdempotencyKey(ctx context.Context, userID models.UserID, key string, reservedBefore int64) error
}

// StaleReservation is how long a pending key blocks repeats before another
// request may take it over. It covers a server that died mid-request.
const StaleReservation = 2 * time.Minute

type recordingWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *recordingWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency replays the stored response when a mutating request repeats an
// Idempotency-Key the same user already used. The key is reserved before the
// handler runs, so a concurrent repeat gets 503 and retries instead of
// applying the write twice. Responses below 500 are stored; a 5xx releases
// the key so the resend is applied. Must run after RequireAuth.
func Idempotency(store IdempotencyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(api.HeaderIdempotencyKey)
		userID := GetUserID(c)
		if key == "" || userID == 0 || c.Request.Method == http.MethodGet {
			c.Next()
			return
		}
		ctx := c.Request.Context()

		claim := &storage.IdempotencyRecord{
			Key:       key,
			UserID:    userID,
			Method:    c.Request.Method,
			Path:      c.Request.URL.Path,
			CreatedAt: time.Now().Unix(),
		}
		reserved, err := store.ReserveIdempotencyKey(ctx, claim)
		if err != nil {
			slog.Error("ReserveIdempotencyKey failed", "key", key, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "An error occurred."})
			return
		}
		if !reserved && !resolveHeldKey(c, store, claim) {
			return
		}

		w := &recordingWriter{ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()

		status := w.Status()
		if status >= 500 {
			if err := store.ReleaseIdempotencyKey(ctx, userID, key, claim.CreatedAt+1); err != nil {
				slog.Warn("ReleaseIdempotencyKey failed", "key", key, "error", err)
			}
			return
		}
		claim.Status = status
		claim.Body = w.body.Bytes()
		if err := store.SaveIdempotencyRecord(ctx, claim); err != nil {
			slog.Warn("SaveIdempotencyRecord failed", "key", key, "error", err)
		}
	}
}

// resolveHeldKey answers a request whose key is already held. It replays a
// completed response, refuses a pending one, and reports true only when a
// stale reservation was taken over and the handler should run.
func resolveHeldKey(c *gin.Context, store IdempotencyStore, claim *storage.IdempotencyRecord) bool {
	ctx := c.Request.Context()
	rec, err := store.GetIdempotencyRecord(ctx, claim.UserID, claim.Key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// Released between the two calls; the sender retries.
		inProgress(c)
		return false
	case err != nil:
		slog.Error("GetIdempotencyRecord failed", "key", claim.Key, "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "An error occurred."})
		return false
	}

	if rec.Method != claim.Method || rec.Path != claim.Path {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity,
			gin.H{"message": "Idempotency-Key reused for a different request"})
		return false
	}

	if rec.Status == 0 {
		if time.Duration(claim.CreatedAt-rec.CreatedAt)*time.Second < StaleReservation {
			inProgress(c)
			return false
		}
		if err := store.ReleaseIdempotencyKey(ctx, claim.UserID, claim.Key, rec.CreatedAt+1); err != nil {
			slog.Error("ReleaseIdempotencyKey failed", "key", claim.Key, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "An error occurred."})
			return false
		}
		reserved, err := store.ReserveIdempotencyKey(ctx, claim)
		if err != nil || !reserved {
			inProgress(c)
			return false
		}
		slog.Warn("Took over stale idempotency reservation", "key", claim.Key, "user_id", claim.UserID)
		return true
	}

	slog.Debug("Replaying idempotent response", "key", claim.Key, "user_id", claim.UserID, "status", rec.Status)
	if len(rec.Body) == 0 {
		c.AbortWithStatus(rec.Status)
		return false
	}
	c.Data(rec.Status, "application/json; charset=utf-8", rec.Body)
	c.Abort()
	return false
}

// inProgress is a 5xx so outbox senders keep the request and retry.
func inProgress(c *gin.Context) {
	c.Header("Retry-After", "1")
	c.AbortWithStatusJSON(http.StatusServiceUnavailable,
		gin.H{"message": "A request with this Idempotency-Key is still being processed."})
}
