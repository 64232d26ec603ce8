package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/freema/desktop-assist/internal/agent"
	"github.com/freema/desktop-assist/internal/apperror"
)

// CreateRunRequest is the body of POST /api/v1/runs.
type CreateRunRequest struct {
	Prompt       string  `json:"prompt" validate:"required,max=100000"`
	Model        string  `json:"model,omitempty" validate:"omitempty,max=100"`
	MaxTurns     int     `json:"max_turns,omitempty" validate:"gte=0,lte=500"`
	MaxBudgetUSD float64 `json:"max_budget_usd,omitempty" validate:"gte=0"`
	// Timeout is a Go duration string, e.g. "10m".
	Timeout string `json:"timeout,omitempty"`
	Verbose bool   `json:"verbose,omitempty"`
}

// RunHandler starts and controls background runs.
type RunHandler struct {
	tracker *agent.Tracker
	log     bool
}

// NewRunHandler creates a run handler. log controls whether runs write a
// session log.
func NewRunHandler(tracker *agent.Tracker, log bool) *RunHandler {
	return &RunHandler{tracker: tracker, log: log}
}

// Create handles POST /api/v1/runs.
func (h *RunHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeValidationError(w, err)
		return
	}

	var timeout time.Duration
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil || d <= 0 {
			writeAppError(w, &apperror.AppError{
				Err:     apperror.ErrValidation,
				Message: "invalid timeout",
				Status:  http.StatusBadRequest,
				Fields:  map[string]string{"timeout": "must be a positive duration such as 10m"},
			})
			return
		}
		timeout = d
	}

	info, err := h.tracker.Start(agent.Request{
		Prompt:       req.Prompt,
		Model:        req.Model,
		MaxTurns:     req.MaxTurns,
		MaxBudgetUSD: req.MaxBudgetUSD,
		Verbose:      req.Verbose,
		Log:          h.log,
		Timeout:      timeout,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, info)
}

// Current handles GET /api/v1/runs/current.
func (h *RunHandler) Current(w http.ResponseWriter, r *http.Request) {
	info, ok := h.tracker.Current()
	if !ok {
		writeError(w, http.StatusNotFound, "no run has been started")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// Get handles GET /api/v1/runs/{runID}.
func (h *RunHandler) Get(w http.ResponseWriter, r *http.Request) {
	info, err := h.tracker.Get(chi.URLParam(r, "runID"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// Cancel handles POST /api/v1/runs/current/cancel.
func (h *RunHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	info, ok := h.tracker.Current()
	if !ok || info.Status != agent.RunRunning {
		writeError(w, http.StatusNotFound, "no run in progress")
		return
	}
	if err := h.tracker.Cancel(info.ID); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":      info.ID,
		"message": "cancellation requested",
	})
}
