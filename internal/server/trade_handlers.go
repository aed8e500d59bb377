package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/foliosync/internal/domain"
	"github.com/aristath/foliosync/internal/events"
	"github.com/aristath/foliosync/internal/modules/ledger"
	syncengine "github.com/aristath/foliosync/internal/sync"
)

// TradeHandlers serves the trade CRUD API. Every mutation notifies the sync
// orchestrator so the change reaches the remote document on the debounced
// push path.
type TradeHandlers struct {
	ledger       *ledger.Repository
	orchestrator *syncengine.Orchestrator
	bus          *events.Bus
	ownerID      string
	log          zerolog.Logger
}

// NewTradeHandlers creates trade handlers
func NewTradeHandlers(repo *ledger.Repository, orch *syncengine.Orchestrator, bus *events.Bus, ownerID string, log zerolog.Logger) *TradeHandlers {
	return &TradeHandlers{
		ledger:       repo,
		orchestrator: orch,
		bus:          bus,
		ownerID:      ownerID,
		log:          log.With().Str("component", "trade_handlers").Logger(),
	}
}

// RegisterRoutes registers trade routes
func (h *TradeHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/trades", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/", h.HandleCreate)
		r.Post("/import", h.HandleImport)
		r.Get("/{id}", h.HandleGet)
		r.Put("/{id}", h.HandleUpdate)
		r.Delete("/{id}", h.HandleDelete)
	})
}

// HandleList handles GET /api/trades
func (h *TradeHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	forceFresh := r.URL.Query().Get("fresh") == "true"

	trades, err := h.ledger.List(h.ownerID, forceFresh)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list trades")
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"trades": trades,
		"count":  len(trades),
	})
}

// HandleGet handles GET /api/trades/{id}
func (h *TradeHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	trade, err := h.ledger.Get(id)
	if err != nil {
		h.log.Error().Err(err).Str("trade_id", id).Msg("Failed to get trade")
		writeError(w, http.StatusInternalServerError, "failed to get trade")
		return
	}
	if trade == nil {
		writeError(w, http.StatusNotFound, "trade not found")
		return
	}

	writeJSON(w, http.StatusOK, trade)
}

// HandleCreate handles POST /api/trades
func (h *TradeHandlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var trade domain.Trade
	if err := json.NewDecoder(r.Body).Decode(&trade); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := trade.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.ledger.Create(h.ownerID, trade)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to create trade")
		writeError(w, http.StatusInternalServerError, "failed to create trade")
		return
	}

	h.bus.Publish(events.TradeCreated, map[string]interface{}{"id": id, "ticker": trade.Ticker})
	h.orchestrator.NotifyLocalEdit()

	trade.ID = id
	writeJSON(w, http.StatusCreated, trade)
}

// HandleImport handles POST /api/trades/import. It promotes a full trade
// document, like a mirror snapshot or a file exported elsewhere, into the
// ledger as one batch.
func (h *TradeHandlers) HandleImport(w http.ResponseWriter, r *http.Request) {
	var doc domain.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid document")
		return
	}
	if len(doc.Trades) == 0 {
		writeError(w, http.StatusBadRequest, "document contains no trades")
		return
	}

	ids, err := h.ledger.BulkImport(h.ownerID, doc.Trades)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to import trades")
		writeError(w, http.StatusInternalServerError, "failed to import trades")
		return
	}

	h.bus.Publish(events.TradeCreated, map[string]interface{}{"count": len(ids), "source": "import"})
	h.orchestrator.NotifyLocalEdit()

	writeJSON(w, http.StatusCreated, map[string]interface{}{"imported": len(ids), "ids": ids})
}

// HandleUpdate handles PUT /api/trades/{id}
func (h *TradeHandlers) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var patch struct {
		Quantity    *float64 `json:"qty"`
		Price       *float64 `json:"price"`
		Currency    *string  `json:"currency"`
		IsSimulated *bool    `json:"mock"`
	}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.ledger.Update(h.ownerID, id, ledger.Patch{
		Quantity:    patch.Quantity,
		Price:       patch.Price,
		Currency:    patch.Currency,
		IsSimulated: patch.IsSimulated,
	})
	if errors.Is(err, ledger.ErrNotFound) {
		writeError(w, http.StatusNotFound, "trade not found")
		return
	}
	if errors.Is(err, ledger.ErrPermissionDenied) {
		writeError(w, http.StatusForbidden, "trade belongs to another account")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("trade_id", id).Msg("Failed to update trade")
		writeError(w, http.StatusInternalServerError, "failed to update trade")
		return
	}

	h.bus.Publish(events.TradeUpdated, map[string]interface{}{"id": id})
	h.orchestrator.NotifyLocalEdit()

	trade, err := h.ledger.Get(id)
	if err != nil || trade == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"id": id})
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

// HandleDelete handles DELETE /api/trades/{id}
func (h *TradeHandlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	deleted, err := h.ledger.Delete(h.ownerID, id)
	if err != nil {
		h.log.Error().Err(err).Str("trade_id", id).Msg("Failed to delete trade")
		writeError(w, http.StatusInternalServerError, "failed to delete trade")
		return
	}
	if !deleted {
		writeError(w, http.StatusForbidden, "trade belongs to another account")
		return
	}

	h.bus.Publish(events.TradeDeleted, map[string]interface{}{"id": id})
	h.orchestrator.NotifyLocalEdit()

	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": true, "id": id})
}
