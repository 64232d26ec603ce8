package handlers

import (
	"bytes"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/freema/desktop-assist/internal/display"
	"github.com/freema/desktop-assist/internal/session"
)

// SessionHandler exposes stored session logs.
type SessionHandler struct {
	dir string
}

// NewSessionHandler creates a handler for the sessions in dir.
func NewSessionHandler(dir string) *SessionHandler {
	return &SessionHandler{dir: dir}
}

// List handles GET /api/v1/sessions.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := session.List(h.dir)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if limit := queryInt(r, "limit", 0); limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": list,
		"total":    len(list),
	})
}

// Get handles GET /api/v1/sessions/{sessionID}.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	recs, err := session.Read(h.dir, id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":      id,
		"records": recs,
	})
}

// Replay handles GET /api/v1/sessions/{sessionID}/replay. It renders the
// session the way the terminal showed it, without colour.
func (h *SessionHandler) Replay(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	var buf bytes.Buffer
	out := display.NewPlain(&buf, r.URL.Query().Get("verbose") != "false")
	if err := session.Replay(h.dir, id, out); err != nil {
		writeAppError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
