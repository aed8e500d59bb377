package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/aristath/foliosync/internal/events"
	syncengine "github.com/aristath/foliosync/internal/sync"
)

// EventsSocketHandler streams bus events to websocket clients. The UI uses it
// to render live sync status without polling.
type EventsSocketHandler struct {
	bus          *events.Bus
	orchestrator *syncengine.Orchestrator
	log          zerolog.Logger
}

// NewEventsSocketHandler creates the websocket event stream handler
func NewEventsSocketHandler(bus *events.Bus, orch *syncengine.Orchestrator, log zerolog.Logger) *EventsSocketHandler {
	return &EventsSocketHandler{
		bus:          bus,
		orchestrator: orch,
		log:          log.With().Str("component", "events_socket").Logger(),
	}
}

// ServeHTTP handles GET /api/ws
func (h *EventsSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	ctx := r.Context()
	h.log.Info().Str("remote", r.RemoteAddr).Msg("Websocket client connected")

	// Buffered so a slow client cannot block publishers. On overflow the
	// event is dropped; the client still has the status endpoint.
	ch := make(chan *events.Event, 64)
	unsubscribe := h.bus.SubscribeAll(func(e *events.Event) {
		select {
		case ch <- e:
		default:
		}
	})
	defer unsubscribe()

	// Initial snapshot so the client does not wait for the next event.
	status := h.orchestrator.Status()
	if err := h.writeEvent(ctx, conn, &events.Event{
		Type:      events.SyncStateChanged,
		Timestamp: time.Now().UTC(),
		Data: map[string]interface{}{
			"state":   string(status.State),
			"display": status.Display,
		},
	}); err != nil {
		return
	}

	// Reads are drained only to detect the close frame.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case event := <-ch:
			if err := h.writeEvent(ctx, conn, event); err != nil {
				h.log.Debug().Err(err).Msg("Websocket write failed, closing stream")
				return
			}
		}
	}
}

func (h *EventsSocketHandler) writeEvent(ctx context.Context, conn *websocket.Conn, event *events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
