package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	syncengine "github.com/aristath/foliosync/internal/sync"
)

// SyncHandlers exposes the sync orchestrator over HTTP.
type SyncHandlers struct {
	orchestrator *syncengine.Orchestrator
	log          zerolog.Logger
}

// NewSyncHandlers creates sync handlers
func NewSyncHandlers(orch *syncengine.Orchestrator, log zerolog.Logger) *SyncHandlers {
	return &SyncHandlers{
		orchestrator: orch,
		log:          log.With().Str("component", "sync_handlers").Logger(),
	}
}

// RegisterRoutes registers sync routes
func (h *SyncHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/sync", func(r chi.Router) {
		r.Get("/status", h.HandleStatus)
		r.Post("/now", h.HandleSyncNow)
		r.Post("/connect", h.HandleConnect)
		r.Post("/disconnect", h.HandleDisconnect)
		r.Post("/resume", h.HandleResume)
	})
}

// HandleStatus handles GET /api/sync/status
func (h *SyncHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orchestrator.Status())
}

// HandleSyncNow handles POST /api/sync/now
func (h *SyncHandlers) HandleSyncNow(w http.ResponseWriter, r *http.Request) {
	h.orchestrator.SyncNow()
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"triggered": true})
}

// HandleConnect handles POST /api/sync/connect
func (h *SyncHandlers) HandleConnect(w http.ResponseWriter, r *http.Request) {
	if err := h.orchestrator.Connect(r.Context()); err != nil {
		h.log.Error().Err(err).Msg("Failed to connect sync")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.orchestrator.Status())
}

// HandleDisconnect handles POST /api/sync/disconnect
func (h *SyncHandlers) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	h.orchestrator.Disconnect()
	writeJSON(w, http.StatusOK, h.orchestrator.Status())
}

// HandleResume handles POST /api/sync/resume after a paused conflict.
func (h *SyncHandlers) HandleResume(w http.ResponseWriter, r *http.Request) {
	h.orchestrator.Resume()
	writeJSON(w, http.StatusOK, h.orchestrator.Status())
}
