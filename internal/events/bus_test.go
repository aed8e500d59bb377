package events

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus() *Bus {
	return NewBus(zerolog.New(nil).Level(zerolog.Disabled))
}

func TestPublish_ReachesTypedSubscriber(t *testing.T) {
	bus := newTestBus()

	var got *Event
	bus.Subscribe(SyncCompleted, func(e *Event) { got = e })

	bus.Publish(SyncCompleted, map[string]interface{}{"trades": 3})

	require.NotNil(t, got)
	assert.Equal(t, SyncCompleted, got.Type)
	assert.Equal(t, 3, got.Data["trades"])
	assert.False(t, got.Timestamp.IsZero())
}

func TestPublish_TypeFilter(t *testing.T) {
	bus := newTestBus()

	calls := 0
	bus.Subscribe(SyncStarted, func(e *Event) { calls++ })

	bus.Publish(SyncCompleted, nil)
	assert.Equal(t, 0, calls)

	bus.Publish(SyncStarted, nil)
	assert.Equal(t, 1, calls)
}

func TestSubscribeAll_SeesEverything(t *testing.T) {
	bus := newTestBus()

	var seen []EventType
	bus.SubscribeAll(func(e *Event) { seen = append(seen, e.Type) })

	bus.Publish(SyncStarted, nil)
	bus.Publish(SyncError, nil)

	assert.Equal(t, []EventType{SyncStarted, SyncError}, seen)
}

func TestSubscribeAll_Unsubscribe(t *testing.T) {
	bus := newTestBus()

	calls := 0
	unsubscribe := bus.SubscribeAll(func(e *Event) { calls++ })

	bus.Publish(SyncStarted, nil)
	unsubscribe()
	bus.Publish(SyncStarted, nil)

	assert.Equal(t, 1, calls)
}

func TestPublishError(t *testing.T) {
	bus := newTestBus()

	var got *Event
	bus.Subscribe(SyncError, func(e *Event) { got = e })

	bus.PublishError(errors.New("boom"), map[string]interface{}{"phase": "pull"})

	require.NotNil(t, got)
	assert.Equal(t, "boom", got.Data["error"])
	assert.Equal(t, "pull", got.Data["phase"])
}
