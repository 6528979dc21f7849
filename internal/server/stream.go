package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"mail-insights/internal/progress"
)

// StreamHandler bridges the progress hub onto server-sent events.
type StreamHandler struct {
	hub    *progress.Hub
	logger *slog.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(hub *progress.Hub, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{hub: hub, logger: logger.With("component", "stream_handler")}
}

// Stream handles GET /api/progress/stream?user_id=&account_id=. Each
// progress update arrives as one SSE "progress" event; the stream stays
// open until the client disconnects.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID := queryInt(r, "user_id", 0)
	accountID := queryInt(r, "account_id", 0)
	if userID < 1 || accountID < 1 {
		http.Error(w, "user_id and account_id are required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	updates, cancel := h.hub.Subscribe(userID, accountID)
	defer cancel()

	h.logger.Debug("Progress stream opened", "user_id", userID, "account_id", accountID)

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("Progress stream closed", "user_id", userID, "account_id", accountID)
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			payload, err := json.Marshal(update)
			if err != nil {
				h.logger.Error("Failed to encode progress update", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: progress\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
