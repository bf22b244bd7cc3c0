// Package outbox is the durable FIFO of mutating requests that the server
// has not acknowledged yet.
//
// Drain replays requests strictly in enqueue order. A 2xx or 4xx response
// settles a request and removes it; a 5xx or a transport error halts the
// drain so nothing later is applied before a request still in doubt.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/kettle/internal/api"
	"github.com/mmynk/kettle/internal/metrics"
	"github.com/mmynk/kettle/internal/models"
	"github.com/mmynk/kettle/internal/storage"
)

// Sender delivers one request to the server. The error is non-nil only when
// no response was received.
type Sender interface {
	Send(ctx context.Context, req *models.OutboxRequest) (*api.Response, error)
}

// Hooks observe settled requests. They run on the draining goroutine after
// the request has been removed from storage.
type Hooks interface {
	RequestSynced(ctx context.Context, req *models.OutboxRequest, resp *api.Response)
	RequestRejected(ctx context.Context, req *models.OutboxRequest, err *api.StatusError)
}

// Observer receives the queue depth after every durable write.
type Observer func(pending int)

// Queue is the outbox.
type Queue struct {
	storage storage.OutboxStorage
	sender  Sender
	hooks   Hooks
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	drainMu sync.Mutex // one drain at a time

	mu        sync.Mutex
	observers map[int]Observer
	nextObs   int
	last      time.Time // latest EnqueuedAt handed out
	floored   bool      // last includes the newest stored request
}

// Option configures a Queue.
type Option func(*Queue)

// WithHooks sets the settled-request hooks.
func WithHooks(h Hooks) Option { return func(q *Queue) { q.hooks = h } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(q *Queue) { q.logger = l } }

// WithMetrics records send outcomes and queue depth.
func WithMetrics(m *metrics.Metrics) Option { return func(q *Queue) { q.metrics = m } }

// WithClock overrides the time source used for EnqueuedAt.
func WithClock(now func() time.Time) Option { return func(q *Queue) { q.now = now } }

// New creates a queue over st that replays through sender.
func New(st storage.OutboxStorage, sender Sender, opts ...Option) *Queue {
	q := &Queue{
		storage:   st,
		sender:    sender,
		logger:    slog.Default(),
		now:       time.Now,
		observers: make(map[int]Observer),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Subscribe registers an observer and returns a function that removes it.
func (q *Queue) Subscribe(obs Observer) (unsubscribe func()) {
	q.mu.Lock()
	id := q.nextObs
	q.nextObs++
	q.observers[id] = obs
	q.mu.Unlock()
	return func() {
		q.mu.Lock()
		delete(q.observers, id)
		q.mu.Unlock()
	}
}

// Enqueue durably appends req. A missing ID or EnqueuedAt is filled in;
// stamped requests sort after everything already stored, even when the clock
// has moved backwards since an earlier process queued them.
func (q *Queue) Enqueue(ctx context.Context, req *models.OutboxRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.EnqueuedAt.IsZero() {
		t, err := q.stamp(ctx)
		if err != nil {
			return err
		}
		req.EnqueuedAt = t
	}
	if err := q.storage.AppendRequest(ctx, req); err != nil {
		return fmt.Errorf("failed to enqueue request: %w", err)
	}
	q.logger.Debug("Request enqueued", "id", req.ID, "kind", req.Kind, "method", req.Method, "url", req.URL)
	q.notify(ctx)
	return nil
}

// Count returns the number of queued requests.
func (q *Queue) Count(ctx context.Context) (int, error) {
	n, err := q.storage.CountRequests(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count outbox: %w", err)
	}
	return n, nil
}

// Pending returns queued requests in replay order.
func (q *Queue) Pending(ctx context.Context) ([]*models.OutboxRequest, error) {
	reqs, err := q.storage.ListRequests(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list outbox: %w", err)
	}
	return reqs, nil
}

// Drain replays queued requests oldest first and reports whether any of them
// settled, either accepted with a 2xx or rejected with a 4xx. Both change
// server state the local snapshot has to catch up with. Concurrent calls wait
// for each other.
//
// A send in flight is never cancelled; ctx is checked between requests. The
// returned error is reserved for storage failures and cancellation.
func (q *Queue) Drain(ctx context.Context) (bool, error) {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	reqs, err := q.storage.ListRequests(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list outbox: %w", err)
	}
	if len(reqs) == 0 {
		q.metrics.ObserveDrain(metrics.DrainIdle)
		return false, nil
	}

	settled := false
	for _, req := range reqs {
		if err := ctx.Err(); err != nil {
			return settled, err
		}

		resp, err := q.sender.Send(context.WithoutCancel(ctx), req)
		if err != nil {
			q.halt(req, "error", err)
			return settled, nil
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if err := q.remove(ctx, req); err != nil {
				return settled, err
			}
			settled = true
			q.metrics.ObserveSend(metrics.OutcomeSynced)
			q.logger.Debug("Request synced", "id", req.ID, "kind", req.Kind, "status", resp.StatusCode)
			if q.hooks != nil {
				q.hooks.RequestSynced(ctx, req, resp)
			}

		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			if err := q.remove(ctx, req); err != nil {
				return settled, err
			}
			settled = true
			var se *api.StatusError
			errors.As(resp.Err(), &se)
			q.metrics.ObserveSend(metrics.OutcomeRejected)
			q.logger.Warn("Request rejected", "id", req.ID, "kind", req.Kind, "status", resp.StatusCode, "message", se.Message)
			if q.hooks != nil {
				q.hooks.RequestRejected(ctx, req, se)
			}

		default:
			q.halt(req, "status", resp.StatusCode)
			return settled, nil
		}
	}

	if settled {
		q.metrics.ObserveDrain(metrics.DrainSynced)
	} else {
		q.metrics.ObserveDrain(metrics.DrainIdle)
	}
	return settled, nil
}

func (q *Queue) halt(req *models.OutboxRequest, key string, value any) {
	q.metrics.ObserveSend(metrics.OutcomeHalted)
	q.metrics.ObserveDrain(metrics.DrainHalted)
	q.logger.Info("Drain halted", "id", req.ID, "kind", req.Kind, key, value)
}

func (q *Queue) remove(ctx context.Context, req *models.OutboxRequest) error {
	if err := q.storage.DeleteRequest(ctx, req.ID); err != nil {
		return fmt.Errorf("failed to remove settled request %s: %w", req.ID, err)
	}
	q.notify(ctx)
	return nil
}

// notify reports the committed queue depth to observers.
func (q *Queue) notify(ctx context.Context) {
	n, err := q.storage.CountRequests(ctx)
	if err != nil {
		q.logger.Warn("Failed to count outbox", "error", err)
		return
	}
	q.metrics.SetOutboxPending(n)

	q.mu.Lock()
	observers := make([]Observer, 0, len(q.observers))
	for _, obs := range q.observers {
		observers = append(observers, obs)
	}
	q.mu.Unlock()

	for _, obs := range observers {
		obs(n)
	}
}

func (q *Queue) stamp(ctx context.Context) (time.Time, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.floored {
		reqs, err := q.storage.ListRequests(ctx)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to list outbox: %w", err)
		}
		for _, r := range reqs {
			if r.EnqueuedAt.After(q.last) {
				q.last = r.EnqueuedAt
			}
		}
		q.floored = true
	}
	t := q.now()
	if !t.After(q.last) {
		t = q.last.Add(time.Nanosecond)
	}
	q.last = t
	return t, nil
}
