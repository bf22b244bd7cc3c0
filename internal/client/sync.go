package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/mmynk/kettle/internal/api"
	"github.com/mmynk/kettle/internal/calculator"
	"github.com/mmynk/kettle/internal/events"
	"github.com/mmynk/kettle/internal/models"
	"github.com/mmynk/kettle/internal/snapshot"
)

// RequestSynced implements outbox.Hooks. It swaps temporary ids for server
// ids and marks the room for the next reconciliation.
func (c *Client) RequestSynced(ctx context.Context, req *models.OutboxRequest, resp *api.Response) {
	switch req.Kind {
	case models.RequestAddEntry:
		var created api.AddEntryResponse
		if err := json.Unmarshal(resp.Body, &created); err != nil {
			c.logger.Warn("Failed to decode synced entry id", "request_id", req.ID, "error", err)
		} else if _, err := c.snapshots.ResolveEntry(ctx, req.RoomID, req.TempEntryID, models.PersistedID(created.ID)); err != nil && !errors.Is(err, snapshot.ErrNoSnapshot) {
			c.logger.Warn("Failed to resolve synced entry", "room_id", req.RoomID, "entry_id", req.TempEntryID, "error", err)
		}
		c.markDirty(req.RoomID)

	case models.RequestCreateRoom, models.RequestJoinRoom:
		var room api.RoomSummary
		if err := json.Unmarshal(resp.Body, &room); err != nil {
			c.logger.Warn("Failed to decode synced room", "request_id", req.ID, "error", err)
			return
		}
		c.markDirty(room.ID)

	case models.RequestLeaveRoom:
		if err := c.snapshots.Delete(ctx, req.RoomID); err != nil {
			c.logger.Warn("Failed to drop snapshot of left room", "room_id", req.RoomID, "error", err)
		}
		c.clearDirty(req.RoomID)

	default:
		c.markDirty(req.RoomID)
	}
}

// RequestRejected implements outbox.Hooks. It rolls back the local change the
// request stood for and tells presentation layers the action failed.
func (c *Client) RequestRejected(ctx context.Context, req *models.OutboxRequest, se *api.StatusError) {
	c.logger.Warn("Queued request could not be completed",
		"request_id", req.ID,
		"kind", req.Kind,
		"room_id", req.RoomID,
		"status", se.Code,
		"message", se.Message,
	)

	// The drain reports a settled pass, so marked rooms are refetched by the
	// reconciliation that follows.
	switch req.Kind {
	case models.RequestAddEntry:
		if _, err := c.snapshots.RemoveOptimisticEntry(ctx, req.RoomID, req.TempEntryID); err != nil && !errors.Is(err, snapshot.ErrNoSnapshot) {
			c.logger.Warn("Failed to roll back rejected entry", "room_id", req.RoomID, "error", err)
		}
		c.markDirty(req.RoomID)
	case models.RequestCreateRoom, models.RequestJoinRoom:
		// Nothing was applied locally.
	default:
		c.markDirty(req.RoomID)
	}

	var rooms []int64
	if req.RoomID != 0 {
		rooms = []int64{req.RoomID}
	}
	pending, _ := c.queue.Count(ctx)
	if err := c.publisher.Publish(ctx, events.Event{
		Kind:    events.RequestRejected,
		RoomIDs: rooms,
		Pending: pending,
		Status:  se.Code,
		Message: fmt.Sprintf("%s could not be completed: %s", req.Kind, se.Message),
		At:      c.now(),
	}); err != nil {
		c.logger.Warn("Failed to publish rejection event", "error", err)
	}
}

// Reconcile refetches every room touched by settled requests and returns
// the rooms it refreshed. Rooms that could not be fetched stay marked.
func (c *Client) Reconcile(ctx context.Context) ([]int64, error) {
	var (
		done []int64
		errs []error
	)
	for _, roomID := range c.dirtyRooms() {
		if _, err := c.FetchRoom(ctx, roomID); err != nil {
			if api.IsPermanent(err) {
				// FetchRoom already dropped the snapshot.
				c.clearDirty(roomID)
				continue
			}
			errs = append(errs, fmt.Errorf("room %d: %w", roomID, err))
			continue
		}
		done = append(done, roomID)
	}
	return done, errors.Join(errs...)
}

// FetchRoom performs the canonical read of a room and replaces its snapshot,
// keeping local changes that are still queued. A permanent failure (the
// room is gone or the user left) drops the snapshot.
func (c *Client) FetchRoom(ctx context.Context, roomID int64) (*models.RoomSnapshot, error) {
	canonical, err := c.remote.GetRoom(ctx, c.token, roomID)
	if err != nil {
		if api.IsPermanent(err) {
			if derr := c.snapshots.Delete(ctx, roomID); derr != nil {
				c.logger.Warn("Failed to drop snapshot", "room_id", roomID, "error", derr)
			}
		}
		return nil, err
	}

	overlay, err := c.overlay(ctx, roomID, canonical)
	if err != nil {
		return nil, err
	}
	snap, err := c.snapshots.Reconcile(ctx, roomID, canonical.Fields(), overlay)
	if err != nil {
		return nil, err
	}
	c.clearDirty(roomID)

	if len(overlay.Added) == 0 && len(overlay.Deleted) == 0 {
		c.checkBalances(snap, canonical)
	}
	c.logger.Debug("Room reconciled", "room_id", roomID, "entries", len(snap.Entries), "pending_added", len(overlay.Added))
	return snap, nil
}

// overlay collects the room's local changes that are still queued, so a
// refetch does not hide them.
func (c *Client) overlay(ctx context.Context, roomID int64, room *api.RoomResponse) (snapshot.Overlay, error) {
	reqs, err := c.queue.Pending(ctx)
	if err != nil {
		return snapshot.Overlay{}, err
	}

	var o snapshot.Overlay
	for _, req := range reqs {
		if req.RoomID != roomID {
			continue
		}
		switch req.Kind {
		case models.RequestAddEntry:
			var body api.AddEntryRequest
			if err := json.Unmarshal(req.Body, &body); err != nil {
				c.logger.Warn("Skipping undecodable queued entry", "request_id", req.ID, "error", err)
				continue
			}
			o.Added = append(o.Added, models.Entry{
				ID:           req.TempEntryID,
				RoomID:       roomID,
				PayerID:      room.CurrentUserID,
				Username:     username(room.Members, room.CurrentUserID),
				Amount:       body.Amount,
				Description:  body.Description,
				CreatedAt:    body.CreatedAt,
				Participants: body.Participants,
			})
		case models.RequestDeleteEntry:
			o.Deleted = append(o.Deleted, req.EntryID)
		case models.RequestRenameRoom:
			var body api.RenameRoomRequest
			if err := json.Unmarshal(req.Body, &body); err == nil {
				o.Name = &body.Name
			}
		}
	}
	// Pending is oldest first; snapshots hold entries newest first.
	slices.Reverse(o.Added)
	return o, nil
}

// checkBalances warns when the local engine disagrees with the server's own
// computation for the same canonical data.
func (c *Client) checkBalances(snap *models.RoomSnapshot, canonical *api.RoomResponse) {
	local := calculator.ToDecimal(snap.Balances.ViewerNet, calculator.DisplayPlaces)
	if !local.Equal(canonical.CurrentUserBalance.Round(calculator.DisplayPlaces)) {
		c.logger.Warn("Local balance differs from server",
			"room_id", snap.RoomID,
			"local", local.String(),
			"server", canonical.CurrentUserBalance.String(),
		)
	}
	for name, server := range canonical.Balances {
		local := calculator.ToDecimal(snap.Balances.ByUsername[name], calculator.DisplayPlaces)
		if !local.Equal(server.Round(calculator.DisplayPlaces)) {
			c.logger.Warn("Local member balance differs from server",
				"room_id", snap.RoomID,
				"member", name,
				"local", local.String(),
				"server", server.String(),
			)
		}
	}
}
