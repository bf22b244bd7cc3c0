package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmynk/kettle/internal/api"
	"github.com/mmynk/kettle/internal/calculator"
	"github.com/mmynk/kettle/internal/middleware"
	"github.com/mmynk/kettle/internal/models"
	"github.com/mmynk/kettle/internal/storage"
)

const (
	roomCodeLength   = 6
	roomCodeAttempts = 5
	roomCodeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// newRoomCode draws a six character code from a random UUID.
func newRoomCode() string {
	id := uuid.New()
	code := make([]byte, roomCodeLength)
	for i := range code {
		code[i] = roomCodeAlphabet[int(id[i])%len(roomCodeAlphabet)]
	}
	return string(code)
}

func summary(r *models.Room) api.RoomSummary {
	return api.RoomSummary{ID: r.ID, Code: r.Code, Name: r.Name}
}

// CreateOrJoinRoom creates a room when the body is empty and joins the room
// with the given code otherwise.
func (s *Server) CreateOrJoinRoom(c *gin.Context) {
	user := middleware.GetUser(c)
	ctx := c.Request.Context()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	var req api.JoinRoomRequest
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			fail(c, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	if code := strings.TrimSpace(req.RoomCode); code != "" {
		room, err := s.store.FindRoomByCode(ctx, code)
		if errors.Is(err, storage.ErrNotFound) {
			fail(c, http.StatusNotFound, "joinFailed")
			return
		}
		if err != nil {
			s.internalError(c, "FindRoomByCode", err)
			return
		}
		if err := s.store.AddMember(ctx, room.ID, user.ID); err != nil {
			s.internalError(c, "AddMember", err)
			return
		}
		s.logger.Info("Room joined", "room_id", room.ID, "user_id", user.ID)
		c.JSON(http.StatusOK, summary(room))
		return
	}

	for attempt := 1; attempt <= roomCodeAttempts; attempt++ {
		room := &models.Room{Code: s.newCode(), CreatorID: user.ID}
		err := s.store.CreateRoom(ctx, room)
		if errors.Is(err, storage.ErrConflict) {
			s.logger.Warn("Duplicate room code generated", "code", room.Code, "attempt", attempt)
			continue
		}
		if err != nil {
			s.internalError(c, "CreateRoom", err)
			return
		}
		s.logger.Info("Room created", "room_id", room.ID, "code", room.Code, "user_id", user.ID)
		c.JSON(http.StatusCreated, summary(room))
		return
	}
	s.logger.Error("CreateRoom failed", "attempts", roomCodeAttempts, "error", "duplicate codes")
	fail(c, http.StatusInternalServerError, "createFailed")
}

// RenameRoom sets a room's display name. An empty name clears it.
func (s *Server) RenameRoom(c *gin.Context) {
	user := middleware.GetUser(c)
	ctx := c.Request.Context()

	id, ok := pathID(c)
	if !ok {
		fail(c, http.StatusBadRequest, "Invalid Room ID")
		return
	}
	var req api.RenameRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	name := strings.TrimSpace(req.Name)
	if len(name) > models.MaxRoomNameLength {
		fail(c, http.StatusBadRequest, "Room name is too long")
		return
	}
	if _, ok := s.roomMembers(c, id, user.ID); !ok {
		return
	}

	if err := s.store.RenameRoom(ctx, id, name); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			fail(c, http.StatusNotFound, "Room not found")
			return
		}
		s.internalError(c, "RenameRoom", err)
		return
	}
	room, err := s.store.GetRoom(ctx, id)
	if err != nil {
		s.internalError(c, "GetRoom", err)
		return
	}
	s.logger.Info("Room renamed", "room_id", id, "user_id", user.ID)
	c.JSON(http.StatusOK, summary(room))
}

// LeaveRoom removes the caller from a room. Leaving a room one is not in
// succeeds.
func (s *Server) LeaveRoom(c *gin.Context) {
	user := middleware.GetUser(c)

	id, ok := pathID(c)
	if !ok {
		fail(c, http.StatusBadRequest, "Invalid Room ID")
		return
	}

	deleted, err := s.store.RemoveMember(c.Request.Context(), id, user.ID)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusOK, api.LeaveRoomResponse{})
		return
	}
	if err != nil {
		s.internalError(c, "RemoveMember", err)
		return
	}
	s.logger.Info("Room left", "room_id", id, "user_id", user.ID, "room_deleted", deleted)
	c.JSON(http.StatusOK, api.LeaveRoomResponse{RoomDeleted: deleted})
}

// ListRooms returns the caller's rooms, newest first.
func (s *Server) ListRooms(c *gin.Context) {
	user := middleware.GetUser(c)

	rooms, err := s.store.ListRoomsForUser(c.Request.Context(), user.ID)
	if err != nil {
		s.internalError(c, "ListRoomsForUser", err)
		return
	}
	resp := api.RoomsResponse{Rooms: make([]api.RoomSummary, len(rooms))}
	for i := range rooms {
		resp.Rooms[i] = summary(&rooms[i])
	}
	c.JSON(http.StatusOK, resp)
}

// GetRoom is the canonical room read: entries newest first, members and the
// balances computed by the ledger engine.
func (s *Server) GetRoom(c *gin.Context) {
	user := middleware.GetUser(c)
	ctx := c.Request.Context()

	id, ok := pathID(c)
	if !ok {
		fail(c, http.StatusBadRequest, "Invalid Room ID")
		return
	}
	members, ok := s.roomMembers(c, id, user.ID)
	if !ok {
		return
	}
	room, err := s.store.GetRoom(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		fail(c, http.StatusNotFound, "Room not found")
		return
	}
	if err != nil {
		s.internalError(c, "GetRoom", err)
		return
	}
	entries, err := s.store.ListEntries(ctx, id)
	if err != nil {
		s.internalError(c, "ListEntries", err)
		return
	}

	balances := calculator.CalculateBalances(entries, members, user.ID)
	for _, a := range balances.Anomalies {
		s.logger.Debug("Ledger anomaly", "room_id", id, "kind", a.Kind, "entry_id", a.EntryID, "user_id", a.UserID)
	}

	byName := make(map[string]decimal.Decimal, len(balances.ByUsername))
	for name, net := range balances.ByUsername {
		byName[name] = calculator.ToDecimal(net, calculator.DisplayPlaces)
	}
	if entries == nil {
		entries = []models.Entry{}
	}
	c.JSON(http.StatusOK, api.RoomResponse{
		ID:                 room.ID,
		Code:               room.Code,
		Name:               room.Name,
		Entries:            entries,
		Members:            members,
		CurrentUserID:      user.ID,
		CurrentUserBalance: calculator.ToDecimal(balances.ViewerNet, calculator.DisplayPlaces),
		Balances:           byName,
	})
}
