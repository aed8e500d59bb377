// Package events provides the in-process event bus feeding the status
// surface and the websocket stream.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType represents different event types
type EventType string

const (
	SyncStarted      EventType = "SYNC_STARTED"
	SyncCompleted    EventType = "SYNC_COMPLETED"
	SyncPushed       EventType = "SYNC_PUSHED"
	SyncPulled       EventType = "SYNC_PULLED"
	SyncConflict     EventType = "SYNC_CONFLICT"
	SyncPaused       EventType = "SYNC_PAUSED"
	SyncError        EventType = "SYNC_ERROR"
	SyncStateChanged EventType = "SYNC_STATE_CHANGED"
	TradesReconciled EventType = "TRADES_RECONCILED"
	MetadataHealed   EventType = "METADATA_HEALED"
	TradeCreated     EventType = "TRADE_CREATED"
	TradeUpdated     EventType = "TRADE_UPDATED"
	TradeDeleted     EventType = "TRADE_DELETED"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Handler receives published events. Handlers must not block; slow consumers
// should buffer on their side (the websocket stream does).
type Handler func(*Event)

// Bus is a minimal publish/subscribe fanout.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	all      map[int]Handler
	nextID   int
	log      zerolog.Logger
}

// NewBus creates a new event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
		all:      make(map[int]Handler),
		log:      log.With().Str("service", "events").Logger(),
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(t EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// SubscribeAll registers a handler for every event type and returns a
// function that removes it again. Transient consumers (websocket clients)
// must call it on disconnect.
func (b *Bus) SubscribeAll(h Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.all[id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.all, id)
		b.mu.Unlock()
	}
}

// Publish emits an event to all matching handlers.
func (b *Bus) Publish(t EventType, data map[string]interface{}) {
	event := &Event{
		Type:      t,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	b.mu.RLock()
	typed := append([]Handler(nil), b.handlers[t]...)
	all := make([]Handler, 0, len(b.all))
	for _, h := range b.all {
		all = append(all, h)
	}
	b.mu.RUnlock()

	b.log.Debug().Str("event_type", string(t)).Msg("Event published")

	for _, h := range typed {
		h(event)
	}
	for _, h := range all {
		h(event)
	}
}

// PublishError emits a SyncError event carrying the error text.
func (b *Bus) PublishError(err error, context map[string]interface{}) {
	data := map[string]interface{}{"error": err.Error()}
	for k, v := range context {
		data[k] = v
	}
	b.Publish(SyncError, data)
}
