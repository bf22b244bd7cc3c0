// Package connectivity tracks whether the server is reachable and reports
// transitions between online and offline.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Transition is a change of reachability.
type Transition struct {
	Online bool
	At     time.Time
}

// Signal is a source of connectivity state.
type Signal interface {
	Online() bool
	// Subscribe returns a channel of transitions. Call cancel to stop
	// receiving and close the channel.
	Subscribe(buffer int) (transitions <-chan Transition, cancel func())
}

// Static is a Signal whose state is set by hand: for tests, forced offline
// mode, and as the state holder behind Monitor.
type Static struct {
	mu     sync.Mutex
	online bool
	subs   map[int]chan Transition
	nextID int
}

// NewStatic returns a signal starting in the given state.
func NewStatic(online bool) *Static {
	return &Static{online: online, subs: make(map[int]chan Transition)}
}

// Online reports the current state.
func (s *Static) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Set changes the state and notifies subscribers if it actually changed.
// A subscriber that has fallen behind loses its oldest buffered transitions,
// never the latest one.
func (s *Static) Set(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.online == online {
		return
	}
	s.online = online
	t := Transition{Online: online, At: time.Now()}
	for _, ch := range s.subs {
		deliver(ch, t)
	}
}

// deliver pushes t without blocking, evicting stale transitions to make
// room. Unbuffered subscribers only get t if they are receiving right now.
func deliver(ch chan Transition, t Transition) {
	for {
		select {
		case ch <- t:
			return
		default:
		}
		if cap(ch) == 0 {
			return
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (s *Static) Subscribe(buffer int) (<-chan Transition, func()) {
	ch := make(chan Transition, buffer)
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Prober checks reachability. api.Client.Health satisfies it.
type Prober interface {
	Health(ctx context.Context) error
}

// Monitor probes the server on an interval.
type Monitor struct {
	*Static
	prober   Prober
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// NewMonitor creates a monitor that starts offline until the first probe.
func NewMonitor(prober Prober, interval time.Duration, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := interval
	if timeout > 5*time.Second || timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Monitor{
		Static:   NewStatic(false),
		prober:   prober,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

// Probe runs one check and updates the state.
func (m *Monitor) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.prober.Health(ctx)
	online := err == nil
	if online != m.Online() {
		if online {
			m.logger.Info("Server reachable")
		} else {
			m.logger.Info("Server unreachable", "error", err)
		}
	}
	m.Set(online)
	return online
}

// Run probes immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.Probe(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}
