package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/freema/desktop-assist/internal/agent"
	"github.com/freema/desktop-assist/internal/eventbus"
)

const (
	streamMaxDuration = 30 * time.Minute
	streamKeepalive   = 15 * time.Second
)

// StreamHandler streams session events over Server-Sent Events.
type StreamHandler struct {
	bus     *eventbus.Bus
	tracker *agent.Tracker
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(bus *eventbus.Bus, tracker *agent.Tracker) *StreamHandler {
	return &StreamHandler{bus: bus, tracker: tracker}
}

// Stream handles GET /api/v1/sessions/{sessionID}/events.
// It replays the stored events of the session and, while the session is the
// active run, follows live events until the run completes.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session ID is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	flush := func() { flusher.Flush() }

	live := h.tracker != nil && h.tracker.Active(sessionID)
	keys := h.bus.KeysFor(sessionID)

	// Subscribe before reading history so no event falls in between.
	subCtx, subCancel := context.WithCancel(context.Background())
	defer subCancel()

	var msgCh <-chan *redis.Message
	if live {
		pubsub := h.bus.Subscribe(subCtx, sessionID)
		defer pubsub.Close()
		msgCh = pubsub.Channel()
	}

	writeSSE(w, "connected", map[string]interface{}{
		"session_id": sessionID,
		"live":       live,
	})
	flush()

	history, err := h.bus.History(r.Context(), sessionID)
	if err == nil && len(history) > 0 {
		for _, msg := range history {
			fmt.Fprintf(w, "data: %s\n\n", msg)
		}
		flush()
	}

	if !live {
		writeSSE(w, "done", map[string]interface{}{"session_id": sessionID})
		flush()
		return
	}

	deadline := time.After(streamMaxDuration)
	keepalive := time.NewTicker(streamKeepalive)
	defer keepalive.Stop()

	slog.Debug("SSE stream started", "session_id", sessionID)

	for {
		_ = rc.SetWriteDeadline(time.Now().Add(30 * time.Second))

		select {
		case <-r.Context().Done():
			slog.Debug("SSE client disconnected", "session_id", sessionID)
			return

		case <-deadline:
			writeSSE(w, "timeout", map[string]string{
				"message": fmt.Sprintf("stream closed after %s", streamMaxDuration),
			})
			flush()
			return

		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flush()

		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			if msg.Channel == keys.Done {
				fmt.Fprintf(w, "event: done\ndata: %s\n\n", msg.Payload)
				flush()
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg.Payload)
			flush()
		}
	}
}

// writeSSE writes a named SSE event with JSON data.
func writeSSE(w http.ResponseWriter, event string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
}
