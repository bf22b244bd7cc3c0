// Package syncer drives outbox replay from connectivity changes and
// reconciles the affected rooms afterwards.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mmynk/kettle/internal/connectivity"
	"github.com/mmynk/kettle/internal/events"
	"github.com/mmynk/kettle/internal/outbox"
)

// State is the orchestrator's drain state.
type State int32

const (
	Idle State = iota
	Draining
)

func (s State) String() string {
	if s == Draining {
		return "draining"
	}
	return "idle"
}

// Drainer is the outbox as seen by the orchestrator.
type Drainer interface {
	Drain(ctx context.Context) (bool, error)
	Count(ctx context.Context) (int, error)
}

// Notifier is implemented by drainers that report their depth after every
// durable write, as outbox.Queue does. Run subscribes to it when present.
type Notifier interface {
	Subscribe(obs outbox.Observer) (unsubscribe func())
}

// Reconciler refetches rooms touched by synced requests and returns their ids.
type Reconciler interface {
	Reconcile(ctx context.Context) ([]int64, error)
}

// Result describes one sync pass.
type Result struct {
	Synced    bool    // at least one request settled, accepted or rejected
	Rooms     []int64 // rooms reconciled afterwards
	Coalesced bool    // another pass was running; it will run again instead
}

// Orchestrator serializes drains. Requests to sync while a drain is running
// are coalesced into a single follow-up pass.
type Orchestrator struct {
	queue      Drainer
	reconciler Reconciler
	signal     connectivity.Signal
	publisher  events.Publisher
	logger     *slog.Logger
	retry      time.Duration

	trigger chan struct{}
	state   atomic.Int32
	running sync.Mutex
	rerun   atomic.Bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithRetryInterval makes Run retry a non-empty outbox on this interval
// while online. Zero disables periodic retries.
func WithRetryInterval(d time.Duration) Option { return func(o *Orchestrator) { o.retry = d } }

// New creates an orchestrator. publisher may be nil.
func New(queue Drainer, reconciler Reconciler, signal connectivity.Signal, publisher events.Publisher, opts ...Option) *Orchestrator {
	if publisher == nil {
		publisher = events.Discard{}
	}
	o := &Orchestrator{
		queue:      queue,
		reconciler: reconciler,
		signal:     signal,
		publisher:  publisher,
		logger:     slog.Default(),
		trigger:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State reports whether a drain is running.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Trigger asks Run for a pass. It never blocks; triggers pile up into one.
func (o *Orchestrator) Trigger() {
	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

// Run reacts to connectivity transitions, outbox growth and triggers until
// ctx is done. It drains once at startup if the device is online with a
// non-empty outbox.
func (o *Orchestrator) Run(ctx context.Context) error {
	transitions, cancel := o.signal.Subscribe(4)
	defer cancel()

	if n, ok := o.queue.(Notifier); ok {
		defer n.Subscribe(o.outboxChanged())()
	}

	if o.signal.Online() && o.pending(ctx) > 0 {
		o.pass(ctx, "startup")
	}

	var tick <-chan time.Time
	if o.retry > 0 {
		ticker := time.NewTicker(o.retry)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-transitions:
			if !ok {
				return nil
			}
			if t.Online {
				o.pass(ctx, "online")
			}
		case <-o.trigger:
			if o.signal.Online() {
				o.pass(ctx, "trigger")
			}
		case <-tick:
			if o.signal.Online() && o.pending(ctx) > 0 {
				o.pass(ctx, "retry")
			}
		}
	}
}

// SyncNow drains and reconciles on the caller's goroutine, regardless of
// connectivity. If a pass is already running the request is coalesced.
func (o *Orchestrator) SyncNow(ctx context.Context) (Result, error) {
	return o.run(ctx, "manual")
}

func (o *Orchestrator) pass(ctx context.Context, reason string) {
	if _, err := o.run(ctx, reason); err != nil && ctx.Err() == nil {
		o.logger.Warn("Sync pass failed", "reason", reason, "error", err)
	}
}

func (o *Orchestrator) run(ctx context.Context, reason string) (Result, error) {
	if !o.running.TryLock() {
		o.rerun.Store(true)
		return Result{Coalesced: true}, nil
	}

	var total Result
	for {
		o.rerun.Store(false)
		res, err := o.once(ctx, reason)
		total.Synced = total.Synced || res.Synced
		total.Rooms = append(total.Rooms, res.Rooms...)
		if err != nil {
			o.running.Unlock()
			return total, err
		}
		if o.rerun.Load() {
			reason = "coalesced"
			continue
		}
		o.running.Unlock()

		// A request may have been coalesced between the check and the unlock.
		if !o.rerun.Load() || !o.running.TryLock() {
			return total, nil
		}
		reason = "coalesced"
	}
}

func (o *Orchestrator) once(ctx context.Context, reason string) (Result, error) {
	o.state.Store(int32(Draining))
	o.logger.Debug("Draining outbox", "reason", reason)
	synced, err := o.queue.Drain(ctx)
	o.state.Store(int32(Idle))
	if err != nil {
		return Result{Synced: synced}, fmt.Errorf("drain: %w", err)
	}
	if !synced {
		return Result{}, nil
	}

	rooms, err := o.reconciler.Reconcile(ctx)
	if err != nil {
		return Result{Synced: true, Rooms: rooms}, fmt.Errorf("reconcile: %w", err)
	}

	pending := o.pending(ctx)
	o.logger.Info("Sync completed", "reason", reason, "rooms", rooms, "pending", pending)
	if err := o.publisher.Publish(ctx, events.Event{
		Kind:    events.SyncCompleted,
		RoomIDs: rooms,
		Pending: pending,
		At:      time.Now(),
	}); err != nil {
		o.logger.Warn("Failed to publish sync event", "error", err)
	}
	return Result{Synced: true, Rooms: rooms}, nil
}

// outboxChanged triggers a pass when the queue grows. Removals during a
// drain shrink it and are ignored.
func (o *Orchestrator) outboxChanged() outbox.Observer {
	var last atomic.Int64
	last.Store(-1)
	return func(pending int) {
		prev := last.Swap(int64(pending))
		if pending > 0 && int64(pending) > prev {
			o.Trigger()
		}
	}
}

func (o *Orchestrator) pending(ctx context.Context) int {
	n, err := o.queue.Count(ctx)
	if err != nil {
		o.logger.Warn("Failed to count outbox", "error", err)
		return 0
	}
	return n
}
