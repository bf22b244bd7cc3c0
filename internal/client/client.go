// Package client is the offline-first write path of a device.
//
// Every write is applied to the local snapshot first. It is then sent
// straight to the server when the device is online and nothing older is
// waiting, and queued in the outbox otherwise. A transient failure queues
// the request; a permanent rejection rolls the local change back.
package client

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/kettle/internal/api"
	"github.com/mmynk/kettle/internal/connectivity"
	"github.com/mmynk/kettle/internal/events"
	"github.com/mmynk/kettle/internal/metrics"
	"github.com/mmynk/kettle/internal/models"
	"github.com/mmynk/kettle/internal/outbox"
	"github.com/mmynk/kettle/internal/snapshot"
	"github.com/mmynk/kettle/internal/storage"
)

var (
	// ErrEntryNotSynced is returned when deleting an entry that still has a
	// temporary id. There is no server id to target until its add syncs.
	ErrEntryNotSynced = errors.New("entry is not synced yet")

	// ErrNotParticipant is returned when an expense names someone outside the room.
	ErrNotParticipant = errors.New("participants must be room members")

	// ErrNoLenders is returned for a loan in a room with no other members.
	ErrNoLenders = errors.New("a loan needs at least one other member")

	// ErrRoomNameTooLong is returned by RenameRoom.
	ErrRoomNameTooLong = errors.New("room name must be at most 50 characters")
)

// Remote is the server as seen by a device.
type Remote interface {
	outbox.Sender
	GetRoom(ctx context.Context, token string, roomID int64) (*api.RoomResponse, error)
	ListRooms(ctx context.Context, token string) ([]api.RoomSummary, error)
}

// WriteResult reports how a write was applied.
type WriteResult struct {
	// Queued is true when the request waits in the outbox.
	Queued bool

	// EntryID is set by AddEntry: a PersistedID once the server accepted the
	// entry, a TempID while it is queued.
	EntryID models.EntryID

	// Room is set by CreateRoom and JoinRoom once the server answered.
	Room *api.RoomSummary

	// Snapshot is the local room state after the write, nil if the room is
	// not cached.
	Snapshot *models.RoomSnapshot
}

// Client applies writes optimistically and keeps snapshots reconciled.
type Client struct {
	remote    Remote
	queue     *outbox.Queue
	snapshots *snapshot.Store
	signal    connectivity.Signal
	publisher events.Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	token     string
	now       func() time.Time

	writeMu sync.Mutex // keeps direct sends and enqueues in call order

	mu    sync.Mutex
	dirty map[int64]bool // rooms to refetch on the next Reconcile

	unsubscribe func()
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// WithPublisher sets where outbox and rejection events go.
func WithPublisher(p events.Publisher) Option { return func(c *Client) { c.publisher = p } }

// WithMetrics records outbox metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(c *Client) { c.metrics = m } }

// WithClock overrides the time source for new entries and the outbox.
func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

// New creates a client that talks to remote as the owner of token and keeps
// its outbox and snapshots in local.
func New(remote Remote, local storage.LocalStore, signal connectivity.Signal, token string, opts ...Option) *Client {
	c := &Client{
		remote:    remote,
		signal:    signal,
		publisher: events.Discard{},
		logger:    slog.Default(),
		token:     token,
		now:       time.Now,
		dirty:     make(map[int64]bool),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.snapshots = snapshot.New(local, snapshot.WithLogger(c.logger), snapshot.WithClock(c.now))
	c.queue = outbox.New(local, remote,
		outbox.WithHooks(c),
		outbox.WithLogger(c.logger),
		outbox.WithMetrics(c.metrics),
		outbox.WithClock(c.now),
	)
	c.unsubscribe = c.queue.Subscribe(c.outboxChanged)
	return c
}

// Queue is the device outbox. The sync orchestrator drains it.
func (c *Client) Queue() *outbox.Queue { return c.queue }

// Snapshots is the local room cache.
func (c *Client) Snapshots() *snapshot.Store { return c.snapshots }

// Close stops publishing outbox events.
func (c *Client) Close() {
	c.unsubscribe()
}

// Snapshot returns the cached room, or nil if it is not cached.
func (c *Client) Snapshot(ctx context.Context, roomID int64) (*models.RoomSnapshot, error) {
	return c.snapshots.Get(ctx, roomID)
}

// Pending returns the queued requests in replay order.
func (c *Client) Pending(ctx context.Context) ([]*models.OutboxRequest, error) {
	return c.queue.Pending(ctx)
}

// ListRooms lists the user's rooms on the server.
func (c *Client) ListRooms(ctx context.Context) ([]api.RoomSummary, error) {
	return c.remote.ListRooms(ctx, c.token)
}

// submit sends req now or queues it. It returns the response of a direct
// send that was accepted, queued=true when the request went to the outbox,
// or the permanent rejection.
func (c *Client) submit(ctx context.Context, req *models.OutboxRequest) (resp *api.Response, queued bool, err error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	req.AuthToken = c.token
	if req.ID == "" {
		// Set before a direct send so a queued retry reuses the idempotency key.
		req.ID = uuid.NewString()
	}

	pending, err := c.queue.Count(ctx)
	if err != nil {
		return nil, false, err
	}
	if !c.signal.Online() || pending > 0 {
		return nil, true, c.enqueue(ctx, req, "offline or outbox not empty")
	}

	resp, err = c.remote.Send(context.WithoutCancel(ctx), req)
	switch {
	case err != nil:
		c.logger.Info("Direct send failed, queueing", "kind", req.Kind, "error", err)
		return nil, true, c.enqueue(ctx, req, "network error")
	case resp.StatusCode >= 500:
		c.logger.Info("Direct send failed, queueing", "kind", req.Kind, "status", resp.StatusCode)
		return nil, true, c.enqueue(ctx, req, "server error")
	default:
		if err := resp.Err(); err != nil {
			return nil, false, err
		}
		return resp, false, nil
	}
}

func (c *Client) enqueue(ctx context.Context, req *models.OutboxRequest, reason string) error {
	if err := c.queue.Enqueue(context.WithoutCancel(ctx), req); err != nil {
		return err
	}
	c.logger.Debug("Request queued", "id", req.ID, "kind", req.Kind, "reason", reason)
	return nil
}

func (c *Client) outboxChanged(pending int) {
	if err := c.publisher.Publish(context.Background(), events.Event{
		Kind:    events.OutboxChanged,
		Pending: pending,
		At:      c.now(),
	}); err != nil {
		c.logger.Warn("Failed to publish outbox event", "error", err)
	}
}

func (c *Client) markDirty(roomID int64) {
	if roomID == 0 {
		return
	}
	c.mu.Lock()
	c.dirty[roomID] = true
	c.mu.Unlock()
}

func (c *Client) clearDirty(roomID int64) {
	c.mu.Lock()
	delete(c.dirty, roomID)
	c.mu.Unlock()
}

func (c *Client) dirtyRooms() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]int64, 0, len(c.dirty))
	for id := range c.dirty {
		rooms = append(rooms, id)
	}
	slices.Sort(rooms)
	return rooms
}
