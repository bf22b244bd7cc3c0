// Package snapshot is the device-local cache of reconciled room state.
//
// Every mutation is a single read-modify-write against the underlying
// storage that also recomputes the room's balances, so a reader never sees
// entries and balances that disagree.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/mmynk/kettle/internal/calculator"
	"github.com/mmynk/kettle/internal/models"
	"github.com/mmynk/kettle/internal/storage"
)

// ErrNoSnapshot is returned by mutations on a room that has never been saved.
var ErrNoSnapshot = errors.New("room has no local snapshot")

// Store caches one RoomSnapshot per room.
type Store struct {
	storage storage.SnapshotStorage
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for LastUpdated.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger used for ledger diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a Store on top of the given storage.
func New(st storage.SnapshotStorage, opts ...Option) *Store {
	s := &Store{storage: st, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Overlay describes local changes still waiting in the outbox for a room.
// Reconcile applies it on top of canonical data.
type Overlay struct {
	Added   []models.Entry       // optimistic entries, newest first
	Deleted []models.PersistedID // entries whose delete is queued
	Name    *string              // queued rename
}

// Save upserts a room's snapshot from the given fields.
func (s *Store) Save(ctx context.Context, roomID int64, fields models.RoomFields) (*models.RoomSnapshot, error) {
	snap := &models.RoomSnapshot{RoomID: roomID, RoomFields: fields}
	s.derive(snap)
	if err := s.storage.PutSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to save snapshot: %w", err)
	}
	return snap, nil
}

// Get returns a room's snapshot, or nil if the room is not cached.
func (s *Store) Get(ctx context.Context, roomID int64) (*models.RoomSnapshot, error) {
	snap, err := s.storage.GetSnapshot(ctx, roomID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil // Not cached
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return snap, nil
}

// List returns every cached room.
func (s *Store) List(ctx context.Context) ([]*models.RoomSnapshot, error) {
	snaps, err := s.storage.ListSnapshots(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	return snaps, nil
}

// Delete drops a room from the cache.
func (s *Store) Delete(ctx context.Context, roomID int64) error {
	if err := s.storage.DeleteSnapshot(ctx, roomID); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// ApplyOptimisticEntry adds an entry as the newest in the room and
// recomputes balances in the same write.
func (s *Store) ApplyOptimisticEntry(ctx context.Context, roomID int64, entry models.Entry) (*models.RoomSnapshot, error) {
	return s.update(ctx, roomID, func(snap *models.RoomSnapshot) {
		snap.Entries = slices.Insert(snap.Entries, 0, entry)
	})
}

// RemoveOptimisticEntry removes an entry by id and recomputes balances.
// Removing an id that is not cached leaves the entries unchanged.
func (s *Store) RemoveOptimisticEntry(ctx context.Context, roomID int64, id models.EntryID) (*models.RoomSnapshot, error) {
	return s.update(ctx, roomID, func(snap *models.RoomSnapshot) {
		snap.Entries = removeEntry(snap.Entries, id)
	})
}

// ResolveEntry replaces a temporary id with the id the server assigned. If a
// refetch already brought in the persisted entry, the temporary copy is
// dropped instead.
func (s *Store) ResolveEntry(ctx context.Context, roomID int64, temp models.TempID, id models.PersistedID) (*models.RoomSnapshot, error) {
	return s.update(ctx, roomID, func(snap *models.RoomSnapshot) {
		if slices.ContainsFunc(snap.Entries, func(e models.Entry) bool { return e.ID == models.EntryID(id) }) {
			snap.Entries = removeEntry(snap.Entries, temp)
			return
		}
		for i := range snap.Entries {
			if snap.Entries[i].ID == models.EntryID(temp) {
				snap.Entries[i].ID = id
				return
			}
		}
	})
}

// Rename sets the room's display name.
func (s *Store) Rename(ctx context.Context, roomID int64, name string) (*models.RoomSnapshot, error) {
	return s.update(ctx, roomID, func(snap *models.RoomSnapshot) {
		snap.Name = name
	})
}

// Reconcile replaces a room's snapshot wholesale with canonical server data,
// then re-applies local changes that the server has not seen yet. The
// server wins for everything it already knows about.
func (s *Store) Reconcile(ctx context.Context, roomID int64, canonical models.RoomFields, pending Overlay) (*models.RoomSnapshot, error) {
	fields := canonical
	fields.Members = slices.Clone(canonical.Members)
	fields.Entries = slices.Clone(canonical.Entries)

	for _, id := range pending.Deleted {
		fields.Entries = removeEntry(fields.Entries, id)
	}
	if len(pending.Added) > 0 {
		fields.Entries = slices.Insert(fields.Entries, 0, pending.Added...)
	}
	if pending.Name != nil {
		fields.Name = *pending.Name
	}

	snap, err := s.Save(ctx, roomID, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile room %d: %w", roomID, err)
	}
	return snap, nil
}

func (s *Store) update(ctx context.Context, roomID int64, mutate func(*models.RoomSnapshot)) (*models.RoomSnapshot, error) {
	snap, err := s.storage.UpdateSnapshot(ctx, roomID, func(snap *models.RoomSnapshot) error {
		mutate(snap)
		s.derive(snap)
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("room %d: %w", roomID, ErrNoSnapshot)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update snapshot: %w", err)
	}
	return snap, nil
}

// derive recomputes balances from entries and stamps the update time.
func (s *Store) derive(snap *models.RoomSnapshot) {
	balances := calculator.CalculateBalances(snap.Entries, snap.Members, snap.CurrentUserID)
	for _, a := range balances.Anomalies {
		s.logger.Debug("Ledger anomaly",
			"room_id", snap.RoomID,
			"kind", a.Kind,
			"entry_id", a.EntryID,
			"user_id", a.UserID,
		)
	}
	snap.Balances = balances.Ledger()
	snap.LastUpdated = s.now()
}

func removeEntry(entries []models.Entry, id models.EntryID) []models.Entry {
	return slices.DeleteFunc(entries, func(e models.Entry) bool { return e.ID == id })
}
