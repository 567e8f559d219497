package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

type wsClientMessage struct {
	Type string `json:"type"`
}

type wsServerMessage struct {
	Type    string    `json:"type"` // status, frame, error
	Event   string    `json:"event,omitempty"`
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`
	ChatID  int64     `json:"chatId,omitempty"`
	Frame   *Frame    `json:"frame,omitempty"`
	Time    time.Time `json:"time,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     allowWSOrigin,
}

func allowWSOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil || originURL.Host == "" {
		return false
	}

	return strings.EqualFold(originURL.Host, r.Host)
}

// wsConnWriter serializes writes; gorilla allows one concurrent writer.
type wsConnWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsConnWriter) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return w.conn.WriteJSON(v)
}

// handleChatWS streams the frames delivered to one chat. The socket is
// read-only apart from ping.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}
	chatID, ok := chatIDFromPath(r.URL.Path, "/ws/chat/")
	if !ok {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "chat id is required")
		return
	}
	if s.mirror == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "mirror disabled")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	frames, unsubscribe := s.mirror.Subscribe(chatID)
	defer unsubscribe()

	writer := &wsConnWriter{conn: conn}
	_ = writer.WriteJSON(wsServerMessage{
		Type:   "status",
		Event:  "connected",
		ChatID: chatID,
		Time:   time.Now().UTC(),
	})
	webLog.Info("mirror_subscribed", slog.Int64("chat_id", chatID), slog.String("remote", r.RemoteAddr))

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		s.readChatWS(conn, writer, chatID)
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-readDone:
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			if err := writer.WriteJSON(wsServerMessage{Type: "frame", ChatID: chatID, Frame: &f, Time: f.Time}); err != nil {
				webLog.Debug("mirror_write_failed", slog.Int64("chat_id", chatID), slog.String("error", err.Error()))
				return
			}
		}
	}
}

func (s *Server) readChatWS(conn *websocket.Conn, writer *wsConnWriter, chatID int64) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				webLog.Warn("websocket_closed_unexpectedly",
					slog.Int64("chat_id", chatID),
					slog.String("error", err.Error()))
			}
			return
		}

		var msg wsClientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			_ = writer.WriteJSON(wsServerMessage{
				Type:    "error",
				Code:    "INVALID_MESSAGE",
				Message: "invalid json payload",
				ChatID:  chatID,
				Time:    time.Now().UTC(),
			})
			continue
		}

		switch msg.Type {
		case "ping":
			_ = writer.WriteJSON(wsServerMessage{
				Type:   "status",
				Event:  "pong",
				ChatID: chatID,
				Time:   time.Now().UTC(),
			})
		default:
			_ = writer.WriteJSON(wsServerMessage{
				Type:    "error",
				Code:    "UNSUPPORTED_MESSAGE",
				Message: "supported message types: ping",
				ChatID:  chatID,
				Time:    time.Now().UTC(),
			})
		}
	}
}
