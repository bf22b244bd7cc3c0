// Package memory provides an in-memory storage.LocalStore for tests and
// ephemeral clients. Nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/mmynk/kettle/internal/models"
	"github.com/mmynk/kettle/internal/storage"
)

var _ storage.LocalStore = (*Store)(nil)

// Store keeps snapshots and outbox requests in maps guarded by one mutex.
// Values are copied on the way in and out.
type Store struct {
	mu        sync.RWMutex
	snapshots map[int64]*models.RoomSnapshot
	outbox    []outboxRow
	seq       int64
}

type outboxRow struct {
	seq int64
	req models.OutboxRequest
}

// New returns an empty store.
func New() *Store {
	return &Store{snapshots: make(map[int64]*models.RoomSnapshot)}
}

func (s *Store) GetSnapshot(_ context.Context, roomID int64) (*models.RoomSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[roomID]
	if !ok {
		return nil, fmt.Errorf("snapshot for room %d: %w", roomID, storage.ErrNotFound)
	}
	return snap.Clone(), nil
}

func (s *Store) PutSnapshot(_ context.Context, snap *models.RoomSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.RoomID] = snap.Clone()
	return nil
}

func (s *Store) UpdateSnapshot(_ context.Context, roomID int64, fn func(*models.RoomSnapshot) error) (*models.RoomSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.snapshots[roomID]
	if !ok {
		return nil, fmt.Errorf("snapshot for room %d: %w", roomID, storage.ErrNotFound)
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.RoomID = roomID
	s.snapshots[roomID] = next.Clone()
	return next, nil
}

func (s *Store) DeleteSnapshot(_ context.Context, roomID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, roomID)
	return nil
}

func (s *Store) ListSnapshots(_ context.Context) ([]*models.RoomSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snaps := make([]*models.RoomSnapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		snaps = append(snaps, snap.Clone())
	}
	sort.Slice(snaps, func(i, j int) bool {
		if !snaps[i].LastUpdated.Equal(snaps[j].LastUpdated) {
			return snaps[i].LastUpdated.After(snaps[j].LastUpdated)
		}
		return snaps[i].RoomID < snaps[j].RoomID
	})
	return snaps, nil
}

func (s *Store) AppendRequest(_ context.Context, req *models.OutboxRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.outbox {
		if row.req.ID == req.ID {
			return fmt.Errorf("outbox request %s: %w", req.ID, storage.ErrConflict)
		}
	}
	s.seq++
	r := *req
	r.Body = slices.Clone(req.Body)
	s.outbox = append(s.outbox, outboxRow{seq: s.seq, req: r})
	return nil
}

func (s *Store) ListRequests(_ context.Context) ([]*models.OutboxRequest, error) {
	s.mu.RLock()
	rows := slices.Clone(s.outbox)
	s.mu.RUnlock()

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].req.EnqueuedAt, rows[j].req.EnqueuedAt
		if !a.Equal(b) {
			return a.Before(b)
		}
		return rows[i].seq < rows[j].seq
	})
	reqs := make([]*models.OutboxRequest, len(rows))
	for i := range rows {
		r := rows[i].req
		r.Body = slices.Clone(r.Body)
		reqs[i] = &r
	}
	return reqs, nil
}

func (s *Store) DeleteRequest(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbox = slices.DeleteFunc(s.outbox, func(row outboxRow) bool { return row.req.ID == id })
	return nil
}

func (s *Store) CountRequests(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.outbox), nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
