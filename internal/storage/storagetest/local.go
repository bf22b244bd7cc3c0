// Package storagetest holds behavior tests shared by every storage.LocalStore
// implementation.
package storagetest

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/kettle/internal/models"
	"github.com/mmynk/kettle/internal/storage"
)

// RunLocalStoreTests exercises a LocalStore. newStore must return an empty store.
func RunLocalStoreTests(t *testing.T, newStore func(t *testing.T) storage.LocalStore) {
	t.Run("snapshot round trip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		snap := sampleSnapshot(7)
		require.NoError(t, s.PutSnapshot(ctx, snap))

		got, err := s.GetSnapshot(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, "ABC123", got.Code)
		assert.Equal(t, snap.Members, got.Members)
		require.Len(t, got.Entries, 2)
		assert.Equal(t, models.TempID("tmp-1"), got.Entries[0].ID)
		assert.Equal(t, models.PersistedID(1), got.Entries[1].ID)
		assert.True(t, got.Entries[1].Amount.Equal(decimal.RequireFromString("30")))
		assert.Equal(t, 0, got.Balances.ViewerNet.Cmp(big.NewRat(20, 3)))
		assert.Equal(t, 0, got.Balances.PerMember[2].Cmp(big.NewRat(-20, 3)))
		assert.Equal(t, 0, got.Balances.ByUsername["bob"].Cmp(big.NewRat(-20, 3)))
		assert.True(t, got.LastUpdated.Equal(snap.LastUpdated))
	})

	t.Run("missing snapshot", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetSnapshot(context.Background(), 99)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		_, err = s.UpdateSnapshot(context.Background(), 99, func(*models.RoomSnapshot) error { return nil })
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("update snapshot applies fn", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.PutSnapshot(ctx, sampleSnapshot(1)))

		updated, err := s.UpdateSnapshot(ctx, 1, func(snap *models.RoomSnapshot) error {
			snap.Name = "Flat 4"
			snap.Entries = snap.Entries[1:]
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, "Flat 4", updated.Name)

		got, err := s.GetSnapshot(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "Flat 4", got.Name)
		assert.Len(t, got.Entries, 1)
	})

	t.Run("update snapshot error writes nothing", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.PutSnapshot(ctx, sampleSnapshot(1)))

		boom := errors.New("boom")
		_, err := s.UpdateSnapshot(ctx, 1, func(snap *models.RoomSnapshot) error {
			snap.Name = "changed"
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := s.GetSnapshot(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "Home", got.Name)
	})

	t.Run("list and delete snapshots", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		older := sampleSnapshot(1)
		older.LastUpdated = older.LastUpdated.Add(-time.Hour)
		require.NoError(t, s.PutSnapshot(ctx, older))
		require.NoError(t, s.PutSnapshot(ctx, sampleSnapshot(2)))

		snaps, err := s.ListSnapshots(ctx)
		require.NoError(t, err)
		require.Len(t, snaps, 2)
		assert.Equal(t, int64(2), snaps[0].RoomID)

		require.NoError(t, s.DeleteSnapshot(ctx, 2))
		require.NoError(t, s.DeleteSnapshot(ctx, 2))
		snaps, err = s.ListSnapshots(ctx)
		require.NoError(t, err)
		require.Len(t, snaps, 1)
		assert.Equal(t, int64(1), snaps[0].RoomID)
	})

	t.Run("outbox orders by enqueue time", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		// ids deliberately sort opposite to their timestamps
		require.NoError(t, s.AppendRequest(ctx, sampleRequest("c", base.Add(2*time.Second))))
		require.NoError(t, s.AppendRequest(ctx, sampleRequest("b", base.Add(time.Second))))
		require.NoError(t, s.AppendRequest(ctx, sampleRequest("a", base.Add(3*time.Second))))
		require.NoError(t, s.AppendRequest(ctx, sampleRequest("z", base)))
		require.NoError(t, s.AppendRequest(ctx, sampleRequest("y", base)))

		reqs, err := s.ListRequests(ctx)
		require.NoError(t, err)
		var ids []string
		for _, r := range reqs {
			ids = append(ids, r.ID)
		}
		assert.Equal(t, []string{"z", "y", "b", "c", "a"}, ids)

		n, err := s.CountRequests(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5, n)
	})

	t.Run("outbox request round trip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		req := sampleRequest("r1", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
		require.NoError(t, s.AppendRequest(ctx, req))

		reqs, err := s.ListRequests(ctx)
		require.NoError(t, err)
		require.Len(t, reqs, 1)
		got := reqs[0]
		assert.Equal(t, req.Kind, got.Kind)
		assert.Equal(t, req.Method, got.Method)
		assert.Equal(t, req.URL, got.URL)
		assert.JSONEq(t, string(req.Body), string(got.Body))
		assert.Equal(t, req.AuthToken, got.AuthToken)
		assert.Equal(t, req.RoomID, got.RoomID)
		assert.Equal(t, req.TempEntryID, got.TempEntryID)
		assert.True(t, req.EnqueuedAt.Equal(got.EnqueuedAt))
	})

	t.Run("delete request", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now()
		require.NoError(t, s.AppendRequest(ctx, sampleRequest("a", now)))
		require.NoError(t, s.AppendRequest(ctx, sampleRequest("b", now.Add(time.Millisecond))))

		require.NoError(t, s.DeleteRequest(ctx, "a"))
		require.NoError(t, s.DeleteRequest(ctx, "unknown"))

		reqs, err := s.ListRequests(ctx)
		require.NoError(t, err)
		require.Len(t, reqs, 1)
		assert.Equal(t, "b", reqs[0].ID)
	})

	t.Run("duplicate request id is rejected", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.AppendRequest(ctx, sampleRequest("a", time.Now())))
		assert.Error(t, s.AppendRequest(ctx, sampleRequest("a", time.Now())))
	})
}

func sampleSnapshot(roomID int64) *models.RoomSnapshot {
	return &models.RoomSnapshot{
		RoomID: roomID,
		RoomFields: models.RoomFields{
			Code: "ABC123",
			Name: "Home",
			Members: []models.Member{
				{ID: 1, Username: "alice"},
				{ID: 2, Username: "bob"},
			},
			Entries: []models.Entry{
				{
					ID:          models.TempID("tmp-1"),
					RoomID:      roomID,
					PayerID:     2,
					Amount:      decimal.RequireFromString("-10"),
					Description: "Cash",
					CreatedAt:   time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
				},
				{
					ID:           models.PersistedID(1),
					RoomID:       roomID,
					PayerID:      1,
					Amount:       decimal.RequireFromString("30"),
					Description:  "Groceries",
					CreatedAt:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
					Participants: []models.UserID{1, 2},
				},
			},
			CurrentUserID: 1,
		},
		Balances: models.Ledger{
			ViewerNet: big.NewRat(20, 3),
			PerMember: map[models.UserID]*big.Rat{
				1: big.NewRat(20, 3),
				2: big.NewRat(-20, 3),
			},
			ByUsername: map[string]*big.Rat{"bob": big.NewRat(-20, 3)},
		},
		LastUpdated: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
	}
}

func sampleRequest(id string, at time.Time) *models.OutboxRequest {
	return &models.OutboxRequest{
		ID:          id,
		Kind:        models.RequestAddEntry,
		URL:         "/entries",
		Method:      "POST",
		Body:        []byte(`{"roomId":1,"amount":"12","description":"Coffee"}`),
		AuthToken:   "token",
		EnqueuedAt:  at,
		RoomID:      1,
		TempEntryID: models.TempID("tmp-" + id),
	}
}
