package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/kettle/internal/api"
	"github.com/mmynk/kettle/internal/models"
)

// NewEntry is the user input for AddEntry.
type NewEntry struct {
	Amount       decimal.Decimal
	Description  string
	Participants []models.UserID // nil or empty splits with everyone
	CreatedAt    time.Time       // zero means now
}

// AddEntry records an expense (positive amount) or loan (negative amount).
// The entry shows up in the local snapshot under a temporary id right away.
func (c *Client) AddEntry(ctx context.Context, roomID int64, in NewEntry) (*WriteResult, error) {
	snap, err := c.snapshotFor(ctx, roomID)
	if err != nil {
		return nil, err
	}

	entry := models.Entry{
		ID:           models.NewTempID(),
		RoomID:       roomID,
		Amount:       in.Amount,
		Description:  strings.TrimSpace(in.Description),
		CreatedAt:    in.CreatedAt,
		Participants: slices.Clone(in.Participants),
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = c.now()
	}
	if len(entry.Participants) == 0 || entry.Kind() == models.KindLoan {
		entry.Participants = nil
	}
	if err := entry.Validate(); err != nil {
		return nil, err
	}
	if snap != nil {
		if err := validateAgainstRoom(entry, snap); err != nil {
			return nil, err
		}
		entry.PayerID = snap.CurrentUserID
		entry.Username = username(snap.Members, snap.CurrentUserID)
	}
	temp := entry.ID.(models.TempID)

	req, err := models.NewOutboxRequest(models.RequestAddEntry, http.MethodPost, api.PathEntries, api.AddEntryRequest{
		RoomID:       roomID,
		Amount:       entry.Amount,
		Description:  entry.Description,
		Participants: entry.Participants,
		CreatedAt:    entry.CreatedAt,
	})
	if err != nil {
		return nil, err
	}
	req.RoomID = roomID
	req.TempEntryID = temp

	if snap != nil {
		if snap, err = c.snapshots.ApplyOptimisticEntry(ctx, roomID, entry); err != nil {
			return nil, err
		}
	}

	resp, queued, err := c.submit(ctx, req)
	if err != nil {
		if snap != nil {
			if _, rerr := c.snapshots.RemoveOptimisticEntry(context.WithoutCancel(ctx), roomID, temp); rerr != nil {
				c.logger.Warn("Failed to roll back entry", "room_id", roomID, "entry_id", temp, "error", rerr)
			}
		}
		return nil, err
	}
	if queued {
		return &WriteResult{Queued: true, EntryID: temp, Snapshot: snap}, nil
	}

	var created api.AddEntryResponse
	if err := json.Unmarshal(resp.Body, &created); err != nil {
		c.markDirty(roomID)
		return nil, fmt.Errorf("failed to decode add entry response: %w", err)
	}
	id := models.PersistedID(created.ID)
	if snap != nil {
		if snap, err = c.snapshots.ResolveEntry(ctx, roomID, temp, id); err != nil {
			return nil, err
		}
	}
	return &WriteResult{EntryID: id, Snapshot: snap}, nil
}

// DeleteEntryRef deletes an entry by whichever id the snapshot shows.
// A temporary id yields ErrEntryNotSynced.
func (c *Client) DeleteEntryRef(ctx context.Context, roomID int64, id models.EntryID) (*WriteResult, error) {
	switch id := id.(type) {
	case models.PersistedID:
		return c.DeleteEntry(ctx, roomID, id)
	case models.TempID:
		return nil, fmt.Errorf("delete %s: %w", id, ErrEntryNotSynced)
	default:
		return nil, models.ErrInvalidEntryID
	}
}

// DeleteEntry removes a synced entry.
func (c *Client) DeleteEntry(ctx context.Context, roomID int64, id models.PersistedID) (*WriteResult, error) {
	snap, err := c.snapshots.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}

	req, err := models.NewOutboxRequest(models.RequestDeleteEntry, http.MethodDelete, api.EntryPath(id), nil)
	if err != nil {
		return nil, err
	}
	req.RoomID = roomID
	req.EntryID = id

	if snap != nil {
		if snap, err = c.snapshots.RemoveOptimisticEntry(ctx, roomID, id); err != nil {
			return nil, err
		}
	}

	_, queued, err := c.submit(ctx, req)
	if err != nil {
		c.restore(ctx, roomID, err)
		return nil, err
	}
	return &WriteResult{Queued: queued, Snapshot: snap}, nil
}

// RenameRoom sets the room's display name. An empty name clears it.
func (c *Client) RenameRoom(ctx context.Context, roomID int64, name string) (*WriteResult, error) {
	name = strings.TrimSpace(name)
	if len(name) > models.MaxRoomNameLength {
		return nil, ErrRoomNameTooLong
	}
	snap, err := c.snapshots.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}

	req, err := models.NewOutboxRequest(models.RequestRenameRoom, http.MethodPut, api.RoomPath(roomID), api.RenameRoomRequest{Name: name})
	if err != nil {
		return nil, err
	}
	req.RoomID = roomID

	if snap != nil {
		if snap, err = c.snapshots.Rename(ctx, roomID, name); err != nil {
			return nil, err
		}
	}

	_, queued, err := c.submit(ctx, req)
	if err != nil {
		c.restore(ctx, roomID, err)
		return nil, err
	}
	return &WriteResult{Queued: queued, Snapshot: snap}, nil
}

// CreateRoom creates a room. While queued there is no room id yet; the room
// is fetched once the request syncs.
func (c *Client) CreateRoom(ctx context.Context) (*WriteResult, error) {
	req, err := models.NewOutboxRequest(models.RequestCreateRoom, http.MethodPost, api.PathRooms, nil)
	if err != nil {
		return nil, err
	}
	return c.enterRoom(ctx, req)
}

// JoinRoom joins the room with the given code.
func (c *Client) JoinRoom(ctx context.Context, code string) (*WriteResult, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, errors.New("room code is required")
	}
	req, err := models.NewOutboxRequest(models.RequestJoinRoom, http.MethodPost, api.PathRooms, api.JoinRoomRequest{RoomCode: code})
	if err != nil {
		return nil, err
	}
	return c.enterRoom(ctx, req)
}

func (c *Client) enterRoom(ctx context.Context, req *models.OutboxRequest) (*WriteResult, error) {
	resp, queued, err := c.submit(ctx, req)
	if err != nil {
		return nil, err
	}
	if queued {
		return &WriteResult{Queued: true}, nil
	}

	var room api.RoomSummary
	if err := json.Unmarshal(resp.Body, &room); err != nil {
		return nil, fmt.Errorf("failed to decode room response: %w", err)
	}
	res := &WriteResult{Room: &room}
	snap, err := c.FetchRoom(ctx, room.ID)
	if err != nil {
		c.logger.Warn("Failed to fetch new room", "room_id", room.ID, "error", err)
		c.markDirty(room.ID)
		return res, nil
	}
	res.Snapshot = snap
	return res, nil
}

// LeaveRoom leaves a room and drops its local snapshot.
func (c *Client) LeaveRoom(ctx context.Context, roomID int64) (*WriteResult, error) {
	req, err := models.NewOutboxRequest(models.RequestLeaveRoom, http.MethodDelete, api.MembersPath(roomID), nil)
	if err != nil {
		return nil, err
	}
	req.RoomID = roomID

	if err := c.snapshots.Delete(ctx, roomID); err != nil {
		return nil, err
	}
	c.clearDirty(roomID)

	_, queued, err := c.submit(ctx, req)
	if err != nil {
		c.restore(ctx, roomID, err)
		return nil, err
	}
	return &WriteResult{Queued: queued}, nil
}

// restore brings back canonical state after a write was rejected outright.
func (c *Client) restore(ctx context.Context, roomID int64, cause error) {
	if !api.IsPermanent(cause) {
		return
	}
	if _, err := c.FetchRoom(context.WithoutCancel(ctx), roomID); err != nil {
		c.logger.Warn("Failed to restore room after rejection", "room_id", roomID, "error", err)
		c.markDirty(roomID)
	}
}

// snapshotFor returns the cached room, fetching it first when online.
func (c *Client) snapshotFor(ctx context.Context, roomID int64) (*models.RoomSnapshot, error) {
	snap, err := c.snapshots.Get(ctx, roomID)
	if err != nil || snap != nil || !c.signal.Online() {
		return snap, err
	}
	snap, err = c.FetchRoom(ctx, roomID)
	if err != nil {
		if api.IsPermanent(err) {
			return nil, err
		}
		c.logger.Info("Room not cached and unreachable, skipping optimistic apply", "room_id", roomID, "error", err)
		return nil, nil
	}
	return snap, nil
}

func validateAgainstRoom(e models.Entry, snap *models.RoomSnapshot) error {
	ids := models.MemberIDs(snap.Members)
	switch e.Kind() {
	case models.KindLoan:
		if len(ids) < 2 {
			return ErrNoLenders
		}
	case models.KindExpense:
		for _, p := range e.Participants {
			if !slices.Contains(ids, p) {
				return fmt.Errorf("user %d: %w", p, ErrNotParticipant)
			}
		}
	}
	return nil
}

func username(members []models.Member, id models.UserID) string {
	for _, m := range members {
		if m.ID == id {
			return m.Username
		}
	}
	return ""
}
