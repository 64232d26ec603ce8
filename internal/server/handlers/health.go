package handlers

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/freema/desktop-assist/internal/cli"
	"github.com/freema/desktop-assist/internal/redisclient"
)

// HealthHandler serves /health and /ready endpoints.
type HealthHandler struct {
	redis       *redisclient.Client
	agentBinary string
	startTime   time.Time
	version     string
	ready       *atomic.Bool
}

// NewHealthHandler creates a health handler. redis may be nil when live
// events are disabled.
func NewHealthHandler(redis *redisclient.Client, agentBinary, version string) *HealthHandler {
	ready := &atomic.Bool{}
	ready.Store(true)
	return &HealthHandler{
		redis:       redis,
		agentBinary: agentBinary,
		startTime:   time.Now(),
		version:     version,
		ready:       ready,
	}
}

// SetReady sets the readiness state (false during shutdown).
func (h *HealthHandler) SetReady(v bool) {
	h.ready.Store(v)
}

type healthResponse struct {
	Status  string `json:"status"`
	Agent   string `json:"agent"`
	Redis   string `json:"redis"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// Health reports whether the agent CLI is installed and Redis is reachable.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Agent:   "installed",
		Redis:   "disabled",
		Version: h.version,
		Uptime:  time.Since(h.startTime).Round(time.Second).String(),
	}
	statusCode := http.StatusOK

	if !cli.CheckBinary(h.agentBinary) {
		resp.Status = "degraded"
		resp.Agent = "not installed"
	}

	if h.redis != nil {
		resp.Redis = "connected"
		if err := h.redis.Ping(r.Context()); err != nil {
			resp.Status = "error"
			resp.Redis = "disconnected"
			statusCode = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, statusCode, resp)
}

// Ready returns 200 if the server is accepting traffic, 503 during shutdown.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.ready.Load() {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "shutting_down"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}
