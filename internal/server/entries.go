package server

import (
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mmynk/kettle/internal/api"
	"github.com/mmynk/kettle/internal/middleware"
	"github.com/mmynk/kettle/internal/models"
	"github.com/mmynk/kettle/internal/storage"
)

// AddEntry records an expense or loan paid by the caller.
func (s *Server) AddEntry(c *gin.Context) {
	user := middleware.GetUser(c)
	ctx := c.Request.Context()

	var req api.AddEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	members, ok := s.roomMembers(c, req.RoomID, user.ID)
	if !ok {
		return
	}

	entry := &models.Entry{
		RoomID:       req.RoomID,
		PayerID:      user.ID,
		Amount:       req.Amount,
		Description:  strings.TrimSpace(req.Description),
		CreatedAt:    req.CreatedAt,
		Participants: req.Participants,
	}
	if err := entry.Validate(); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	ids := models.MemberIDs(members)
	switch entry.Kind() {
	case models.KindLoan:
		entry.Participants = nil
		if len(ids) < 2 {
			fail(c, http.StatusBadRequest, "A loan needs at least one other member")
			return
		}
	case models.KindExpense:
		for _, p := range entry.Participants {
			if !slices.Contains(ids, p) {
				fail(c, http.StatusBadRequest, "Participants must be room members")
				return
			}
		}
		if len(entry.Participants) == 0 {
			entry.Participants = nil
		}
	}

	if err := s.store.CreateEntry(ctx, entry); err != nil {
		s.internalError(c, "CreateEntry", err)
		return
	}

	s.logger.Info("Entry created",
		"entry_id", entry.ID,
		"room_id", entry.RoomID,
		"kind", entry.Kind(),
		"user_id", user.ID,
	)
	c.JSON(http.StatusCreated, api.AddEntryResponse{ID: int64(entry.ID.(models.PersistedID))})
}

// DeleteEntry removes an entry the caller paid. Deleting a missing entry
// succeeds so a replayed delete is harmless.
func (s *Server) DeleteEntry(c *gin.Context) {
	user := middleware.GetUser(c)
	ctx := c.Request.Context()

	id, ok := pathID(c)
	if !ok {
		fail(c, http.StatusBadRequest, "Invalid Entry ID")
		return
	}

	entry, err := s.store.GetEntry(ctx, models.PersistedID(id))
	if errors.Is(err, storage.ErrNotFound) {
		c.Status(http.StatusNoContent)
		return
	}
	if err != nil {
		s.internalError(c, "GetEntry", err)
		return
	}
	if entry.PayerID != user.ID {
		fail(c, http.StatusForbidden, "You can only delete your own entries")
		return
	}

	if err := s.store.DeleteEntry(ctx, models.PersistedID(id)); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.internalError(c, "DeleteEntry", err)
		return
	}

	s.logger.Info("Entry deleted", "entry_id", id, "room_id", entry.RoomID, "user_id", user.ID)
	c.Status(http.StatusNoContent)
}

// roomMembers answers 404 unless the user belongs to the room.
func (s *Server) roomMembers(c *gin.Context, roomID int64, userID models.UserID) ([]models.Member, bool) {
	ctx := c.Request.Context()
	isMember, err := s.store.IsMember(ctx, roomID, userID)
	if err != nil {
		s.internalError(c, "IsMember", err)
		return nil, false
	}
	if !isMember {
		fail(c, http.StatusNotFound, "Room not found")
		return nil, false
	}
	members, err := s.store.ListMembers(ctx, roomID)
	if err != nil {
		s.internalError(c, "ListMembers", err)
		return nil, false
	}
	return members, true
}
