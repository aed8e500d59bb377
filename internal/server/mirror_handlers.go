package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/foliosync/internal/domain"
	"github.com/aristath/foliosync/internal/modules/mirror"
)

// MirrorHandlers exposes the local mirror as a document: a snapshot of what
// the remote last looked like, useful for backups and debugging drift.
type MirrorHandlers struct {
	mirror *mirror.Repository
	log    zerolog.Logger
}

// NewMirrorHandlers creates mirror handlers
func NewMirrorHandlers(repo *mirror.Repository, log zerolog.Logger) *MirrorHandlers {
	return &MirrorHandlers{
		mirror: repo,
		log:    log.With().Str("component", "mirror_handlers").Logger(),
	}
}

// RegisterRoutes registers mirror routes
func (h *MirrorHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/mirror", func(r chi.Router) {
		r.Get("/export", h.HandleExport)
		r.Post("/import", h.HandleImport)
	})
}

// HandleExport handles GET /api/mirror/export
func (h *MirrorHandlers) HandleExport(w http.ResponseWriter, r *http.Request) {
	doc, err := h.mirror.Export()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to export mirror")
		writeError(w, http.StatusInternalServerError, "failed to export mirror")
		return
	}

	w.Header().Set("Content-Disposition", `attachment; filename="portfolio-trades.json"`)
	writeJSON(w, http.StatusOK, doc)
}

// HandleImport handles POST /api/mirror/import
func (h *MirrorHandlers) HandleImport(w http.ResponseWriter, r *http.Request) {
	var doc domain.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid document")
		return
	}

	if err := h.mirror.Import(&doc); err != nil {
		h.log.Error().Err(err).Msg("Failed to import mirror")
		writeError(w, http.StatusInternalServerError, "failed to import mirror")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"imported": len(doc.Trades),
	})
}
