package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/mmynk/kettle/internal/models"
	"github.com/mmynk/kettle/internal/storage"
)

// StoreTestSuite exercises the server store against a fresh database per test.
type StoreTestSuite struct {
	suite.Suite
	store *SQLiteStore
	ctx   context.Context
}

func TestStoreTestSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func (suite *StoreTestSuite) SetupTest() {
	store, err := New(filepath.Join(suite.T().TempDir(), "kettle.db"))
	require.NoError(suite.T(), err, "failed to create test database")
	suite.store = store
	suite.ctx = context.Background()

	for _, u := range []models.User{{ID: 1, Username: "alice"}, {ID: 2, Username: "bob"}, {ID: 3, Username: "carol"}} {
		require.NoError(suite.T(), suite.store.EnsureUser(suite.ctx, &u))
	}
}

func (suite *StoreTestSuite) TearDownTest() {
	if suite.store != nil {
		suite.store.Close()
	}
}

func (suite *StoreTestSuite) createRoom(code string, creator models.UserID) *models.Room {
	room := &models.Room{Code: code, CreatorID: creator}
	require.NoError(suite.T(), suite.store.CreateRoom(suite.ctx, room))
	return room
}

func (suite *StoreTestSuite) TestEnsureUserUpdatesUsername() {
	require.NoError(suite.T(), suite.store.EnsureUser(suite.ctx, &models.User{ID: 1, Username: "alicia"}))
	room := suite.createRoom("AAAAAA", 1)

	members, err := suite.store.ListMembers(suite.ctx, room.ID)
	require.NoError(suite.T(), err)
	require.Len(suite.T(), members, 1)
	assert.Equal(suite.T(), "alicia", members[0].Username)
}

func (suite *StoreTestSuite) TestCreateRoomAddsCreator() {
	room := suite.createRoom("ABC123", 1)
	assert.NotZero(suite.T(), room.ID)

	ok, err := suite.store.IsMember(suite.ctx, room.ID, 1)
	require.NoError(suite.T(), err)
	assert.True(suite.T(), ok)

	got, err := suite.store.GetRoom(suite.ctx, room.ID)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "ABC123", got.Code)
	assert.Equal(suite.T(), models.UserID(1), got.CreatorID)
}

func (suite *StoreTestSuite) TestCreateRoomDuplicateCode() {
	suite.createRoom("ABC123", 1)
	err := suite.store.CreateRoom(suite.ctx, &models.Room{Code: "ABC123", CreatorID: 2})
	assert.ErrorIs(suite.T(), err, storage.ErrConflict)
}

func (suite *StoreTestSuite) TestFindRoomByCode() {
	room := suite.createRoom("XYZ789", 1)

	got, err := suite.store.FindRoomByCode(suite.ctx, " xyz789 ")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), room.ID, got.ID)

	_, err = suite.store.FindRoomByCode(suite.ctx, "NOPE00")
	assert.ErrorIs(suite.T(), err, storage.ErrNotFound)
}

func (suite *StoreTestSuite) TestRenameRoom() {
	room := suite.createRoom("ABC123", 1)
	require.NoError(suite.T(), suite.store.RenameRoom(suite.ctx, room.ID, "Flat 4"))

	got, err := suite.store.GetRoom(suite.ctx, room.ID)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "Flat 4", got.Name)

	assert.ErrorIs(suite.T(), suite.store.RenameRoom(suite.ctx, 404, "x"), storage.ErrNotFound)
}

func (suite *StoreTestSuite) TestMembershipOrderAndIdempotentJoin() {
	room := suite.createRoom("ABC123", 1)
	require.NoError(suite.T(), suite.store.AddMember(suite.ctx, room.ID, 2))
	require.NoError(suite.T(), suite.store.AddMember(suite.ctx, room.ID, 3))
	require.NoError(suite.T(), suite.store.AddMember(suite.ctx, room.ID, 2))

	members, err := suite.store.ListMembers(suite.ctx, room.ID)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), []models.Member{
		{ID: 1, Username: "alice"},
		{ID: 2, Username: "bob"},
		{ID: 3, Username: "carol"},
	}, members)

	rooms, err := suite.store.ListRoomsForUser(suite.ctx, 3)
	require.NoError(suite.T(), err)
	require.Len(suite.T(), rooms, 1)
	assert.Equal(suite.T(), room.ID, rooms[0].ID)
}

func (suite *StoreTestSuite) TestRemoveMemberKeepsEntries() {
	room := suite.createRoom("ABC123", 1)
	require.NoError(suite.T(), suite.store.AddMember(suite.ctx, room.ID, 2))
	entry := &models.Entry{RoomID: room.ID, PayerID: 2, Amount: decimal.NewFromInt(10), Description: "Milk"}
	require.NoError(suite.T(), suite.store.CreateEntry(suite.ctx, entry))

	deleted, err := suite.store.RemoveMember(suite.ctx, room.ID, 2)
	require.NoError(suite.T(), err)
	assert.False(suite.T(), deleted)

	entries, err := suite.store.ListEntries(suite.ctx, room.ID)
	require.NoError(suite.T(), err)
	require.Len(suite.T(), entries, 1)
	assert.Equal(suite.T(), "bob", entries[0].Username)

	_, err = suite.store.RemoveMember(suite.ctx, room.ID, 2)
	assert.ErrorIs(suite.T(), err, storage.ErrNotFound)
}

func (suite *StoreTestSuite) TestLastMemberLeavingDeletesRoom() {
	room := suite.createRoom("ABC123", 1)
	require.NoError(suite.T(), suite.store.CreateEntry(suite.ctx,
		&models.Entry{RoomID: room.ID, PayerID: 1, Amount: decimal.NewFromInt(5), Description: "Tea"}))

	deleted, err := suite.store.RemoveMember(suite.ctx, room.ID, 1)
	require.NoError(suite.T(), err)
	assert.True(suite.T(), deleted)

	_, err = suite.store.GetRoom(suite.ctx, room.ID)
	assert.ErrorIs(suite.T(), err, storage.ErrNotFound)

	entries, err := suite.store.ListEntries(suite.ctx, room.ID)
	require.NoError(suite.T(), err)
	assert.Empty(suite.T(), entries)
}

func (suite *StoreTestSuite) TestEntriesRoundTrip() {
	room := suite.createRoom("ABC123", 1)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := &models.Entry{
		RoomID: room.ID, PayerID: 1, Amount: decimal.RequireFromString("30.15"),
		Description: "Dinner", CreatedAt: base, Participants: []models.UserID{1, 2},
	}
	second := &models.Entry{
		RoomID: room.ID, PayerID: 1, Amount: decimal.RequireFromString("-12"),
		Description: "Cash", CreatedAt: base.Add(time.Hour),
	}
	require.NoError(suite.T(), suite.store.CreateEntry(suite.ctx, first))
	require.NoError(suite.T(), suite.store.CreateEntry(suite.ctx, second))
	assert.IsType(suite.T(), models.PersistedID(0), first.ID)

	entries, err := suite.store.ListEntries(suite.ctx, room.ID)
	require.NoError(suite.T(), err)
	require.Len(suite.T(), entries, 2)

	// newest first
	assert.Equal(suite.T(), second.ID, entries[0].ID)
	assert.Nil(suite.T(), entries[0].Participants)
	assert.True(suite.T(), entries[0].Amount.Equal(decimal.RequireFromString("-12")))

	assert.Equal(suite.T(), first.ID, entries[1].ID)
	assert.Equal(suite.T(), []models.UserID{1, 2}, entries[1].Participants)
	assert.True(suite.T(), entries[1].Amount.Equal(decimal.RequireFromString("30.15")))
	assert.True(suite.T(), entries[1].CreatedAt.Equal(base))
	assert.Equal(suite.T(), "alice", entries[1].Username)
}

func (suite *StoreTestSuite) TestDeleteEntry() {
	room := suite.createRoom("ABC123", 1)
	entry := &models.Entry{RoomID: room.ID, PayerID: 1, Amount: decimal.NewFromInt(5), Description: "Tea"}
	require.NoError(suite.T(), suite.store.CreateEntry(suite.ctx, entry))

	id := entry.ID.(models.PersistedID)
	got, err := suite.store.GetEntry(suite.ctx, id)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "Tea", got.Description)

	require.NoError(suite.T(), suite.store.DeleteEntry(suite.ctx, id))
	assert.ErrorIs(suite.T(), suite.store.DeleteEntry(suite.ctx, id), storage.ErrNotFound)

	_, err = suite.store.GetEntry(suite.ctx, id)
	assert.ErrorIs(suite.T(), err, storage.ErrNotFound)
}

func (suite *StoreTestSuite) TestIdempotencyRecords() {
	_, err := suite.store.GetIdempotencyRecord(suite.ctx, 1, "k1")
	assert.ErrorIs(suite.T(), err, storage.ErrNotFound)

	rec := &storage.IdempotencyRecord{Key: "k1", UserID: 1, Method: "POST", Path: "/entries", Status: 201, Body: []byte(`{"id":4}`)}
	require.NoError(suite.T(), suite.store.SaveIdempotencyRecord(suite.ctx, rec))

	// first write wins
	require.NoError(suite.T(), suite.store.SaveIdempotencyRecord(suite.ctx,
		&storage.IdempotencyRecord{Key: "k1", UserID: 1, Method: "POST", Path: "/entries", Status: 500}))

	got, err := suite.store.GetIdempotencyRecord(suite.ctx, 1, "k1")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 201, got.Status)
	assert.Equal(suite.T(), `{"id":4}`, string(got.Body))

	// keys are scoped per user
	_, err = suite.store.GetIdempotencyRecord(suite.ctx, 2, "k1")
	assert.ErrorIs(suite.T(), err, storage.ErrNotFound)
}

func (suite *StoreTestSuite) TestIdempotencyReservation() {
	claim := &storage.IdempotencyRecord{Key: "k2", UserID: 1, Method: "POST", Path: "/entries", CreatedAt: 100}
	ok, err := suite.store.ReserveIdempotencyKey(suite.ctx, claim)
	require.NoError(suite.T(), err)
	assert.True(suite.T(), ok)

	ok, err = suite.store.ReserveIdempotencyKey(suite.ctx, &storage.IdempotencyRecord{Key: "k2", UserID: 1, Method: "POST", Path: "/entries"})
	require.NoError(suite.T(), err)
	assert.False(suite.T(), ok, "a held key cannot be reserved twice")

	got, err := suite.store.GetIdempotencyRecord(suite.ctx, 1, "k2")
	require.NoError(suite.T(), err)
	assert.Zero(suite.T(), got.Status)

	// Releasing only drops reservations older than the cutoff.
	require.NoError(suite.T(), suite.store.ReleaseIdempotencyKey(suite.ctx, 1, "k2", 100))
	_, err = suite.store.GetIdempotencyRecord(suite.ctx, 1, "k2")
	require.NoError(suite.T(), err)

	claim.Status = 201
	claim.Body = []byte(`{"id":7}`)
	require.NoError(suite.T(), suite.store.SaveIdempotencyRecord(suite.ctx, claim))
	require.NoError(suite.T(), suite.store.ReleaseIdempotencyKey(suite.ctx, 1, "k2", 1<<40))

	got, err = suite.store.GetIdempotencyRecord(suite.ctx, 1, "k2")
	require.NoError(suite.T(), err, "completed records are never released")
	assert.Equal(suite.T(), 201, got.Status)
	assert.Equal(suite.T(), `{"id":7}`, string(got.Body))

	pending := &storage.IdempotencyRecord{Key: "k3", UserID: 1, Method: "POST", Path: "/entries", CreatedAt: 100}
	_, err = suite.store.ReserveIdempotencyKey(suite.ctx, pending)
	require.NoError(suite.T(), err)
	require.NoError(suite.T(), suite.store.ReleaseIdempotencyKey(suite.ctx, 1, "k3", 101))
	_, err = suite.store.GetIdempotencyRecord(suite.ctx, 1, "k3")
	assert.ErrorIs(suite.T(), err, storage.ErrNotFound)
}
