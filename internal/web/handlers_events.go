package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

var chatEventsHeartbeatInterval = 15 * time.Second

// handleChatEvents is the server-sent events flavour of handleChatWS for
// clients that only speak plain HTTP.
func (s *Server) handleChatEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}
	chatID, ok := chatIDFromPath(r.URL.Path, "/events/chat/")
	if !ok {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "chat id is required")
		return
	}
	if s.mirror == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "mirror disabled")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "stream unavailable")
		return
	}

	frames, unsubscribe := s.mirror.Subscribe(chatID)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := writeSSEComment(w, flusher, "connected"); err != nil {
		return
	}

	heartbeat := time.NewTicker(chatEventsHeartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if err := writeSSEComment(w, flusher, "keepalive"); err != nil {
				return
			}
		case f, ok := <-frames:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, flusher, f.Kind, f); err != nil {
				return
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func writeSSEComment(w http.ResponseWriter, flusher http.Flusher, comment string) error {
	if _, err := fmt.Fprintf(w, ": %s\n\n", comment); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
