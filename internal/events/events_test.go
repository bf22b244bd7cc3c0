package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDelivers(t *testing.T) {
	bus := NewBus()
	a, cancelA := bus.Subscribe(1)
	b, cancelB := bus.Subscribe(1)
	defer cancelA()
	defer cancelB()

	require.NoError(t, bus.Publish(context.Background(), Event{Kind: SyncCompleted, RoomIDs: []int64{1}}))

	for _, ch := range []<-chan Event{a, b} {
		e := <-ch
		assert.Equal(t, SyncCompleted, e.Kind)
		assert.Equal(t, []int64{1}, e.RoomIDs)
		assert.False(t, e.At.IsZero())
	}
}

func TestBusDropsWhenFull(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, Event{Kind: OutboxChanged, Pending: 1}))
	require.NoError(t, bus.Publish(ctx, Event{Kind: OutboxChanged, Pending: 2}))

	assert.Equal(t, 1, (<-ch).Pending)
	select {
	case e := <-ch:
		t.Fatalf("unexpected second event %+v", e)
	default:
	}
}

func TestBusCancelClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	assert.NoError(t, bus.Publish(context.Background(), Event{Kind: SyncCompleted}))
}

type failing struct{ err error }

func (f failing) Publish(context.Context, Event) error { return f.err }

func TestMulti(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	boom := errors.New("boom")
	m := Multi{failing{boom}, nil, bus, Discard{}}
	err := m.Publish(context.Background(), Event{Kind: RequestRejected})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, RequestRejected, (<-ch).Kind)
}

func TestNATSSubject(t *testing.T) {
	assert.Equal(t, "kettle.sync.completed", NewNATSPublisher(nil, "kettle").Subject(SyncCompleted))
	assert.Equal(t, "outbox.changed", NewNATSPublisher(nil, "").Subject(OutboxChanged))
}
