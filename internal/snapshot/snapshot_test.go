package snapshot

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/kettle/internal/models"
	"github.com/mmynk/kettle/internal/storage/memory"
)

const (
	alice models.UserID = 1
	bob   models.UserID = 2
	carol models.UserID = 3
)

var members = []models.Member{
	{ID: alice, Username: "alice"},
	{ID: bob, Username: "bob"},
	{ID: carol, Username: "carol"},
}

func newStore(t *testing.T) *Store {
	t.Helper()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return New(memory.New(), WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))
}

func expense(id models.EntryID, payer models.UserID, amount string) models.Entry {
	return models.Entry{
		ID:          id,
		RoomID:      1,
		PayerID:     payer,
		Amount:      decimal.RequireFromString(amount),
		Description: "test",
		CreatedAt:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func fields(entries ...models.Entry) models.RoomFields {
	return models.RoomFields{
		Code:          "ABC123",
		Name:          "Home",
		Members:       members,
		Entries:       entries,
		CurrentUserID: alice,
	}
}

func assertBalance(t *testing.T, snap *models.RoomSnapshot, id models.UserID, want int64) {
	t.Helper()
	got := snap.Balances.PerMember[id]
	require.NotNil(t, got, "no balance for %d", id)
	assert.Equal(t, 0, got.Cmp(big.NewRat(want, 1)), "balance of %d = %s, want %d", id, got.RatString(), want)
}

func assertZeroSum(t *testing.T, snap *models.RoomSnapshot) {
	t.Helper()
	assert.Equal(t, 0, snap.Balances.Sum().Sign(), "balances sum to %s", snap.Balances.Sum().RatString())
}

func TestSaveAndGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, 1, fields(expense(models.PersistedID(1), alice, "30")))
	require.NoError(t, err)
	assert.False(t, saved.LastUpdated.IsZero())

	got, err := s.Get(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ABC123", got.Code)
	assertBalance(t, got, alice, 20)
	assertBalance(t, got, bob, -10)
	assert.Equal(t, 0, got.Balances.ViewerNet.Cmp(big.NewRat(20, 1)))
	assertZeroSum(t, got)
}

func TestGetMissing(t *testing.T) {
	got, err := newStore(t).Get(context.Background(), 42)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestApplyOptimisticEntry(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, err := s.Save(ctx, 1, fields())
	require.NoError(t, err)

	coffee := expense(models.NewTempID(), alice, "12")
	snap, err := s.ApplyOptimisticEntry(ctx, 1, coffee)
	require.NoError(t, err)
	require.Len(t, snap.Entries, 1)
	assertBalance(t, snap, alice, 8)
	assertBalance(t, snap, bob, -4)
	assertBalance(t, snap, carol, -4)
	assertZeroSum(t, snap)

	// newest first
	snap, err = s.ApplyOptimisticEntry(ctx, 1, expense(models.NewTempID(), bob, "3"))
	require.NoError(t, err)
	assert.Equal(t, bob, snap.Entries[0].PayerID)

	stored, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, stored.Entries, 2)
	assertBalance(t, stored, alice, 7)
}

func TestApplyOptimisticEntryWithoutSnapshot(t *testing.T) {
	_, err := newStore(t).ApplyOptimisticEntry(context.Background(), 9, expense(models.NewTempID(), alice, "1"))
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestRemoveOptimisticEntry(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	tmp := models.NewTempID()
	_, err := s.Save(ctx, 1, fields(expense(tmp, alice, "12"), expense(models.PersistedID(1), bob, "30")))
	require.NoError(t, err)

	snap, err := s.RemoveOptimisticEntry(ctx, 1, tmp)
	require.NoError(t, err)
	require.Len(t, snap.Entries, 1)
	assertBalance(t, snap, bob, 20)
	assertBalance(t, snap, alice, -10)

	snap, err = s.RemoveOptimisticEntry(ctx, 1, models.PersistedID(1))
	require.NoError(t, err)
	assert.Empty(t, snap.Entries)
	assertBalance(t, snap, bob, 0)

	// unknown ids are a no-op
	_, err = s.RemoveOptimisticEntry(ctx, 1, models.PersistedID(77))
	assert.NoError(t, err)
}

func TestResolveEntry(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	tmp := models.NewTempID()
	_, err := s.Save(ctx, 1, fields(expense(tmp, alice, "12")))
	require.NoError(t, err)

	snap, err := s.ResolveEntry(ctx, 1, tmp, 55)
	require.NoError(t, err)
	assert.Equal(t, models.EntryID(models.PersistedID(55)), snap.Entries[0].ID)
	assert.False(t, snap.Entries[0].IsPending())
	assertBalance(t, snap, alice, 8)
}

func TestResolveEntryAfterRefetchDropsDuplicate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	tmp := models.NewTempID()
	_, err := s.Save(ctx, 1, fields(expense(tmp, alice, "12"), expense(models.PersistedID(55), alice, "12")))
	require.NoError(t, err)

	snap, err := s.ResolveEntry(ctx, 1, tmp, 55)
	require.NoError(t, err)
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, models.EntryID(models.PersistedID(55)), snap.Entries[0].ID)
	assertBalance(t, snap, alice, 8)
}

func TestRename(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, err := s.Save(ctx, 1, fields())
	require.NoError(t, err)

	snap, err := s.Rename(ctx, 1, "Flat 4")
	require.NoError(t, err)
	assert.Equal(t, "Flat 4", snap.Name)
}

func TestReconcileReplacesWholesale(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, err := s.Save(ctx, 1, fields(expense(models.NewTempID(), alice, "12")))
	require.NoError(t, err)

	canonical := fields(expense(models.PersistedID(9), alice, "12"))
	snap, err := s.Reconcile(ctx, 1, canonical, Overlay{})
	require.NoError(t, err)
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, models.EntryID(models.PersistedID(9)), snap.Entries[0].ID)
	assertBalance(t, snap, alice, 8)
	assertZeroSum(t, snap)
}

func TestReconcileIsIdempotent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	canonical := fields(
		expense(models.PersistedID(2), bob, "-9"),
		expense(models.PersistedID(1), alice, "10"),
	)

	first, err := s.Reconcile(ctx, 1, canonical, Overlay{})
	require.NoError(t, err)
	second, err := s.Reconcile(ctx, 1, canonical, Overlay{})
	require.NoError(t, err)

	for id, v := range first.Balances.PerMember {
		assert.Equal(t, 0, v.Cmp(second.Balances.PerMember[id]), "member %d", id)
	}
	assert.Equal(t, 0, first.Balances.ViewerNet.Cmp(second.Balances.ViewerNet))
	assert.Len(t, canonical.Entries, 2, "canonical input must not be modified")
}

func TestReconcileReappliesPendingChanges(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	pendingAdd := expense(models.NewTempID(), carol, "6")
	name := "Renamed offline"

	canonical := fields(
		expense(models.PersistedID(2), bob, "30"),
		expense(models.PersistedID(1), alice, "30"),
	)
	snap, err := s.Reconcile(ctx, 1, canonical, Overlay{
		Added:   []models.Entry{pendingAdd},
		Deleted: []models.PersistedID{2},
		Name:    &name,
	})
	require.NoError(t, err)

	require.Len(t, snap.Entries, 2)
	assert.Equal(t, pendingAdd.ID, snap.Entries[0].ID)
	assert.Equal(t, models.EntryID(models.PersistedID(1)), snap.Entries[1].ID)
	assert.Equal(t, name, snap.Name)
	assertBalance(t, snap, alice, 18)
	assertBalance(t, snap, bob, -12)
	assertBalance(t, snap, carol, -6)
	assertZeroSum(t, snap)
	assert.Len(t, canonical.Entries, 2)
}

func TestDeleteAndList(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, err := s.Save(ctx, 1, fields())
	require.NoError(t, err)
	_, err = s.Save(ctx, 2, fields())
	require.NoError(t, err)

	snaps, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, int64(2), snaps[0].RoomID, "most recently updated first")

	require.NoError(t, s.Delete(ctx, 2))
	got, err := s.Get(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, got)
}
