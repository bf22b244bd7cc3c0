package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/mmynk/kettle/internal/api"
	"github.com/mmynk/kettle/internal/auth"
	"github.com/mmynk/kettle/internal/metrics"
	"github.com/mmynk/kettle/internal/middleware"
	"github.com/mmynk/kettle/internal/models"
	"github.com/mmynk/kettle/internal/storage"
	"github.com/mmynk/kettle/internal/storage/sqlite"
)

// ServerTestSuite drives the HTTP surface against a fresh database per test.
type ServerTestSuite struct {
	suite.Suite
	store   *sqlite.SQLiteStore
	handler http.Handler
	tokens  map[string]string
	codes   []string
}

func TestServerTestSuite(t *testing.T) {
	gin.SetMode(gin.TestMode)
	suite.Run(t, new(ServerTestSuite))
}

func (suite *ServerTestSuite) SetupTest() {
	store, err := sqlite.New(filepath.Join(suite.T().TempDir(), "server.db"))
	require.NoError(suite.T(), err)
	suite.store = store

	jwt := auth.NewJWTManager("test-secret", time.Hour)
	suite.tokens = map[string]string{}
	for i, name := range []string{"alice", "bob", "carol", "dave"} {
		token, err := jwt.Generate(&models.User{ID: models.UserID(i + 1), Username: name})
		require.NoError(suite.T(), err)
		suite.tokens[name] = token
	}

	reg := prometheus.NewRegistry()
	srv := New(store, jwt,
		WithMetrics(metrics.New(reg), reg),
		WithCodeGenerator(func() string {
			if len(suite.codes) == 0 {
				return newRoomCode()
			}
			code := suite.codes[0]
			suite.codes = suite.codes[1:]
			return code
		}),
	)
	suite.handler = srv.Handler()
	suite.codes = nil
}

func (suite *ServerTestSuite) TearDownTest() {
	suite.store.Close()
}

type call struct {
	method string
	path   string
	user   string
	body   any
	key    string
}

func (suite *ServerTestSuite) do(c call) *httptest.ResponseRecorder {
	var body *bytes.Reader
	switch b := c.body.(type) {
	case nil:
		body = bytes.NewReader(nil)
	case string:
		body = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(suite.T(), err)
		body = bytes.NewReader(data)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	if c.user != "" {
		req.Header.Set("Authorization", "Bearer "+suite.tokens[c.user])
	}
	if c.key != "" {
		req.Header.Set(api.HeaderIdempotencyKey, c.key)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	suite.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// room creates a room owned by the first user and joins the rest.
func (suite *ServerTestSuite) room(users ...string) api.RoomSummary {
	rec := suite.do(call{method: http.MethodPost, path: api.PathRooms, user: users[0]})
	require.Equal(suite.T(), http.StatusCreated, rec.Code, rec.Body.String())
	room := decode[api.RoomSummary](suite.T(), rec)
	for _, u := range users[1:] {
		rec := suite.do(call{method: http.MethodPost, path: api.PathRooms, user: u, body: api.JoinRoomRequest{RoomCode: room.Code}})
		require.Equal(suite.T(), http.StatusOK, rec.Code, rec.Body.String())
	}
	return room
}

func (suite *ServerTestSuite) addEntry(user string, req api.AddEntryRequest) int64 {
	rec := suite.do(call{method: http.MethodPost, path: api.PathEntries, user: user, body: req})
	require.Equal(suite.T(), http.StatusCreated, rec.Code, rec.Body.String())
	return decode[api.AddEntryResponse](suite.T(), rec).ID
}

func (suite *ServerTestSuite) getRoom(user string, roomID int64) api.RoomResponse {
	rec := suite.do(call{method: http.MethodGet, path: api.RoomPath(roomID), user: user})
	require.Equal(suite.T(), http.StatusOK, rec.Code, rec.Body.String())
	return decode[api.RoomResponse](suite.T(), rec)
}

func (suite *ServerTestSuite) assertAmount(want string, got decimal.Decimal, msg string) {
	assert.True(suite.T(), decimal.RequireFromString(want).Equal(got), "%s: want %s, got %s", msg, want, got)
}

func (suite *ServerTestSuite) TestRequiresBearerToken() {
	rec := suite.do(call{method: http.MethodGet, path: api.PathRooms})
	assert.Equal(suite.T(), http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, api.PathRooms, nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rr := httptest.NewRecorder()
	suite.handler.ServeHTTP(rr, req)
	assert.Equal(suite.T(), http.StatusUnauthorized, rr.Code)
}

func (suite *ServerTestSuite) TestHealthAndMetrics() {
	rec := suite.do(call{method: http.MethodGet, path: api.PathHealth})
	assert.Equal(suite.T(), http.StatusOK, rec.Code)

	rec = suite.do(call{method: http.MethodGet, path: "/metrics"})
	assert.Equal(suite.T(), http.StatusOK, rec.Code)
	assert.Contains(suite.T(), rec.Body.String(), "kettle_http_requests_total")
}

func (suite *ServerTestSuite) TestCreateJoinAndList() {
	room := suite.room("alice", "bob")
	assert.Len(suite.T(), room.Code, roomCodeLength)

	rec := suite.do(call{method: http.MethodPost, path: api.PathRooms, user: "carol", body: api.JoinRoomRequest{RoomCode: "NOPE00"}})
	assert.Equal(suite.T(), http.StatusNotFound, rec.Code)
	assert.Equal(suite.T(), "joinFailed", decode[api.ErrorResponse](suite.T(), rec).Message)

	// Codes are matched case-insensitively; joining twice is harmless.
	rec = suite.do(call{method: http.MethodPost, path: api.PathRooms, user: "bob", body: api.JoinRoomRequest{RoomCode: strings.ToLower(room.Code)}})
	assert.Equal(suite.T(), http.StatusOK, rec.Code)

	rec = suite.do(call{method: http.MethodGet, path: api.PathRooms, user: "bob"})
	require.Equal(suite.T(), http.StatusOK, rec.Code)
	rooms := decode[api.RoomsResponse](suite.T(), rec).Rooms
	require.Len(suite.T(), rooms, 1)
	assert.Equal(suite.T(), room.ID, rooms[0].ID)

	got := suite.getRoom("bob", room.ID)
	assert.Equal(suite.T(), []models.Member{{ID: 1, Username: "alice"}, {ID: 2, Username: "bob"}}, got.Members)
	assert.Empty(suite.T(), got.Entries)
	assert.Equal(suite.T(), models.UserID(2), got.CurrentUserID)
}

func (suite *ServerTestSuite) TestCreateRetriesDuplicateCodes() {
	suite.codes = []string{"AAAAAA"}
	first := suite.room("alice")
	assert.Equal(suite.T(), "AAAAAA", first.Code)

	suite.codes = []string{"AAAAAA", "AAAAAA", "BBBBBB"}
	second := suite.room("bob")
	assert.Equal(suite.T(), "BBBBBB", second.Code)

	suite.codes = []string{"AAAAAA", "AAAAAA", "AAAAAA", "AAAAAA", "AAAAAA"}
	rec := suite.do(call{method: http.MethodPost, path: api.PathRooms, user: "carol"})
	assert.Equal(suite.T(), http.StatusInternalServerError, rec.Code)
	assert.Equal(suite.T(), "createFailed", decode[api.ErrorResponse](suite.T(), rec).Message)
}

func (suite *ServerTestSuite) TestCanonicalBalances() {
	tests := []struct {
		name   string
		req    func(roomID int64) api.AddEntryRequest
		viewer string
		others map[string]string
	}{
		{
			name: "expense split with everyone",
			req: func(id int64) api.AddEntryRequest {
				return api.AddEntryRequest{RoomID: id, Amount: decimal.NewFromInt(30), Description: "Dinner", Participants: []models.UserID{1, 2, 3}}
			},
			viewer: "20",
			others: map[string]string{"bob": "-10", "carol": "-10"},
		},
		{
			name: "payer excluded",
			req: func(id int64) api.AddEntryRequest {
				return api.AddEntryRequest{RoomID: id, Amount: decimal.NewFromInt(30), Description: "Gift", Participants: []models.UserID{2, 3}}
			},
			viewer: "30",
			others: map[string]string{"bob": "-15", "carol": "-15"},
		},
		{
			name: "loan",
			req: func(id int64) api.AddEntryRequest {
				return api.AddEntryRequest{RoomID: id, Amount: decimal.NewFromInt(-30), Description: "Rent advance"}
			},
			viewer: "-30",
			others: map[string]string{"bob": "15", "carol": "15"},
		},
		{
			name: "thirds round for display",
			req: func(id int64) api.AddEntryRequest {
				return api.AddEntryRequest{RoomID: id, Amount: decimal.NewFromInt(10), Description: "Taxi"}
			},
			viewer: "6.67",
			others: map[string]string{"bob": "-3.33", "carol": "-3.33"},
		},
	}
	for _, tt := range tests {
		suite.Run(tt.name, func() {
			room := suite.room("alice", "bob", "carol")
			suite.addEntry("alice", tt.req(room.ID))

			got := suite.getRoom("alice", room.ID)
			suite.assertAmount(tt.viewer, got.CurrentUserBalance, "alice")
			require.Len(suite.T(), got.Balances, len(tt.others))
			for name, want := range tt.others {
				suite.assertAmount(want, got.Balances[name], name)
			}
		})
	}
}

func (suite *ServerTestSuite) TestAddEntryValidation() {
	room := suite.room("alice", "bob")
	solo := suite.room("carol")

	tests := []struct {
		name string
		user string
		body any
		want int
	}{
		{"malformed json", "alice", "{", http.StatusBadRequest},
		{"zero amount", "alice", api.AddEntryRequest{RoomID: room.ID, Amount: decimal.Zero, Description: "x"}, http.StatusBadRequest},
		{"empty description", "alice", api.AddEntryRequest{RoomID: room.ID, Amount: decimal.NewFromInt(5), Description: "  "}, http.StatusBadRequest},
		{"duplicate participants", "alice", api.AddEntryRequest{RoomID: room.ID, Amount: decimal.NewFromInt(5), Description: "x", Participants: []models.UserID{1, 1}}, http.StatusBadRequest},
		{"non-member participant", "alice", api.AddEntryRequest{RoomID: room.ID, Amount: decimal.NewFromInt(5), Description: "x", Participants: []models.UserID{3}}, http.StatusBadRequest},
		{"not a member of the room", "carol", api.AddEntryRequest{RoomID: room.ID, Amount: decimal.NewFromInt(5), Description: "x"}, http.StatusNotFound},
		{"loan without lenders", "carol", api.AddEntryRequest{RoomID: solo.ID, Amount: decimal.NewFromInt(-5), Description: "x"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		suite.Run(tt.name, func() {
			rec := suite.do(call{method: http.MethodPost, path: api.PathEntries, user: tt.user, body: tt.body})
			assert.Equal(suite.T(), tt.want, rec.Code, rec.Body.String())
		})
	}

	assert.Empty(suite.T(), suite.getRoom("alice", room.ID).Entries)
}

func (suite *ServerTestSuite) TestEntriesNewestFirstWithUsernames() {
	room := suite.room("alice", "bob")
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := suite.addEntry("alice", api.AddEntryRequest{RoomID: room.ID, Amount: decimal.NewFromInt(10), Description: "first", CreatedAt: base})
	second := suite.addEntry("bob", api.AddEntryRequest{RoomID: room.ID, Amount: decimal.NewFromInt(4), Description: "second", CreatedAt: base.Add(time.Minute)})

	entries := suite.getRoom("alice", room.ID).Entries
	require.Len(suite.T(), entries, 2)
	assert.Equal(suite.T(), models.PersistedID(second), entries[0].ID)
	assert.Equal(suite.T(), "bob", entries[0].Username)
	assert.Equal(suite.T(), models.PersistedID(first), entries[1].ID)
	assert.Nil(suite.T(), entries[1].Participants, "no participants means everyone")
}

func (suite *ServerTestSuite) TestDeleteEntry() {
	room := suite.room("alice", "bob")
	id := suite.addEntry("alice", api.AddEntryRequest{RoomID: room.ID, Amount: decimal.NewFromInt(10), Description: "Lunch"})
	path := api.EntryPath(models.PersistedID(id))

	rec := suite.do(call{method: http.MethodDelete, path: path, user: "bob"})
	assert.Equal(suite.T(), http.StatusForbidden, rec.Code)

	rec = suite.do(call{method: http.MethodDelete, path: "/entries/abc", user: "alice"})
	assert.Equal(suite.T(), http.StatusBadRequest, rec.Code)

	rec = suite.do(call{method: http.MethodDelete, path: path, user: "alice"})
	assert.Equal(suite.T(), http.StatusNoContent, rec.Code)
	assert.Empty(suite.T(), suite.getRoom("alice", room.ID).Entries)

	// Already gone.
	rec = suite.do(call{method: http.MethodDelete, path: path, user: "alice"})
	assert.Equal(suite.T(), http.StatusNoContent, rec.Code)
}

func (suite *ServerTestSuite) TestRenameRoom() {
	room := suite.room("alice", "bob")

	rec := suite.do(call{method: http.MethodPut, path: api.RoomPath(room.ID), user: "bob", body: api.RenameRoomRequest{Name: "  Flat 3B "}})
	require.Equal(suite.T(), http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(suite.T(), "Flat 3B", decode[api.RoomSummary](suite.T(), rec).Name)
	assert.Equal(suite.T(), "Flat 3B", suite.getRoom("alice", room.ID).Name)

	rec = suite.do(call{method: http.MethodPut, path: api.RoomPath(room.ID), user: "alice", body: api.RenameRoomRequest{Name: strings.Repeat("x", models.MaxRoomNameLength+1)}})
	assert.Equal(suite.T(), http.StatusBadRequest, rec.Code)

	rec = suite.do(call{method: http.MethodPut, path: api.RoomPath(room.ID), user: "carol", body: api.RenameRoomRequest{Name: "mine"}})
	assert.Equal(suite.T(), http.StatusNotFound, rec.Code)
}

func (suite *ServerTestSuite) TestLeaveRoom() {
	room := suite.room("alice", "bob")
	suite.addEntry("bob", api.AddEntryRequest{RoomID: room.ID, Amount: decimal.NewFromInt(20), Description: "Groceries"})

	rec := suite.do(call{method: http.MethodDelete, path: api.MembersPath(room.ID), user: "bob"})
	require.Equal(suite.T(), http.StatusOK, rec.Code)
	assert.False(suite.T(), decode[api.LeaveRoomResponse](suite.T(), rec).RoomDeleted)

	// Bob's history stays; his account is no longer listed.
	got := suite.getRoom("alice", room.ID)
	assert.Len(suite.T(), got.Entries, 1)
	assert.Empty(suite.T(), got.Balances)

	rec = suite.do(call{method: http.MethodGet, path: api.RoomPath(room.ID), user: "bob"})
	assert.Equal(suite.T(), http.StatusNotFound, rec.Code)

	// Leaving again is a no-op.
	rec = suite.do(call{method: http.MethodDelete, path: api.MembersPath(room.ID), user: "bob"})
	assert.Equal(suite.T(), http.StatusOK, rec.Code)

	rec = suite.do(call{method: http.MethodDelete, path: api.MembersPath(room.ID), user: "alice"})
	require.Equal(suite.T(), http.StatusOK, rec.Code)
	assert.True(suite.T(), decode[api.LeaveRoomResponse](suite.T(), rec).RoomDeleted)
}

func (suite *ServerTestSuite) TestIdempotentReplay() {
	room := suite.room("alice", "bob")
	add := call{
		method: http.MethodPost,
		path:   api.PathEntries,
		user:   "alice",
		key:    "req-1",
		body:   api.AddEntryRequest{RoomID: room.ID, Amount: decimal.NewFromInt(12), Description: "Coffee"},
	}

	first := suite.do(add)
	require.Equal(suite.T(), http.StatusCreated, first.Code)
	second := suite.do(add)
	require.Equal(suite.T(), http.StatusCreated, second.Code)
	assert.JSONEq(suite.T(), first.Body.String(), second.Body.String())
	assert.Len(suite.T(), suite.getRoom("alice", room.ID).Entries, 1)

	// Keys are scoped per user.
	other := add
	other.user = "bob"
	rec := suite.do(other)
	require.Equal(suite.T(), http.StatusCreated, rec.Code)
	assert.Len(suite.T(), suite.getRoom("alice", room.ID).Entries, 2)

	// Reusing a key for a different request is refused.
	misuse := call{method: http.MethodPut, path: api.RoomPath(room.ID), user: "alice", key: "req-1", body: api.RenameRoomRequest{Name: "x"}}
	assert.Equal(suite.T(), http.StatusUnprocessableEntity, suite.do(misuse).Code)
}

func (suite *ServerTestSuite) TestIdempotentDeleteReplaysNoContent() {
	room := suite.room("alice")
	id := suite.addEntry("alice", api.AddEntryRequest{RoomID: room.ID, Amount: decimal.NewFromInt(3), Description: "Gum"})
	del := call{method: http.MethodDelete, path: api.EntryPath(models.PersistedID(id)), user: "alice", key: "del-1"}

	assert.Equal(suite.T(), http.StatusNoContent, suite.do(del).Code)
	rec := suite.do(del)
	assert.Equal(suite.T(), http.StatusNoContent, rec.Code)
	assert.Empty(suite.T(), rec.Body.String())
}

func (suite *ServerTestSuite) TestIdempotencyKeyInFlightIsRefused() {
	t := suite.T()
	ctx := context.Background()
	room := suite.room("alice")
	add := call{
		method: http.MethodPost,
		path:   api.PathEntries,
		user:   "alice",
		key:    "req-2",
		body:   api.AddEntryRequest{RoomID: room.ID, Amount: decimal.NewFromInt(5), Description: "Bread"},
	}

	// Another request with the same key holds the reservation.
	held := &storage.IdempotencyRecord{Key: "req-2", UserID: 1, Method: http.MethodPost, Path: api.PathEntries}
	reserved, err := suite.store.ReserveIdempotencyKey(ctx, held)
	require.NoError(t, err)
	require.True(t, reserved)

	rec := suite.do(add)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Empty(t, suite.getRoom("alice", room.ID).Entries, "the repeat must not run the handler")

	// Once the holder gives the key up, the resend is applied exactly once.
	require.NoError(t, suite.store.ReleaseIdempotencyKey(ctx, 1, "req-2", held.CreatedAt+1))
	first := suite.do(add)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	second := suite.do(add)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Len(t, suite.getRoom("alice", room.ID).Entries, 1)
}

func (suite *ServerTestSuite) TestStaleIdempotencyReservationIsTakenOver() {
	t := suite.T()
	room := suite.room("alice")
	stale := &storage.IdempotencyRecord{
		Key: "req-3", UserID: 1, Method: http.MethodPost, Path: api.PathEntries,
		CreatedAt: time.Now().Add(-2 * middleware.StaleReservation).Unix(),
	}
	reserved, err := suite.store.ReserveIdempotencyKey(context.Background(), stale)
	require.NoError(t, err)
	require.True(t, reserved)

	rec := suite.do(call{
		method: http.MethodPost, path: api.PathEntries, user: "alice", key: "req-3",
		body: api.AddEntryRequest{RoomID: room.ID, Amount: decimal.NewFromInt(5), Description: "Bread"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Len(t, suite.getRoom("alice", room.ID).Entries, 1)
}

// TestClientAgainstServer checks that api.Client speaks the same contract.
func TestClientAgainstServer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store, err := sqlite.New(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	defer store.Close()

	jwt := auth.NewJWTManager("test-secret", time.Hour)
	ts := httptest.NewServer(New(store, jwt).Handler())
	defer ts.Close()

	token, err := jwt.Generate(&models.User{ID: 1, Username: "alice"})
	require.NoError(t, err)
	client := api.NewClient(ts.URL)
	ctx := context.Background()

	require.NoError(t, client.Health(ctx))

	create, err := models.NewOutboxRequest(models.RequestCreateRoom, http.MethodPost, api.PathRooms, nil)
	require.NoError(t, err)
	create.AuthToken = token
	resp, err := client.Send(ctx, create)
	require.NoError(t, err)
	require.NoError(t, resp.Err())
	var room api.RoomSummary
	require.NoError(t, json.Unmarshal(resp.Body, &room))

	rooms, err := client.ListRooms(ctx, token)
	require.NoError(t, err)
	require.Len(t, rooms, 1)

	got, err := client.GetRoom(ctx, token, room.ID)
	require.NoError(t, err)
	assert.Equal(t, room.Code, got.Code)

	_, err = client.GetRoom(ctx, token, room.ID+100)
	assert.True(t, api.IsPermanent(err), fmt.Sprint(err))
}
