package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/freema/desktop-assist/internal/history"
)

// HistoryStore is the read side of the run index.
type HistoryStore interface {
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
	Get(ctx context.Context, sessionID string) (history.Entry, error)
}

// HistoryHandler serves the run index.
type HistoryHandler struct {
	store HistoryStore
}

// NewHistoryHandler creates a history handler.
func NewHistoryHandler(store HistoryStore) *HistoryHandler {
	return &HistoryHandler{store: store}
}

// List handles GET /api/v1/history?limit=N.
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.Recent(r.Context(), queryInt(r, "limit", 20))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  entries,
		"total": len(entries),
	})
}

// Get handles GET /api/v1/history/{sessionID}.
func (h *HistoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	e, err := h.store.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}
