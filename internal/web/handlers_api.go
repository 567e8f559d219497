package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/asheshgoplani/termbot/internal/bridge"
	"github.com/asheshgoplani/termbot/internal/health"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiErrorResponse struct {
	Error apiError `json:"error"`
}

type healthResponse struct {
	OK     bool          `json:"ok"`
	Health health.Status `json:"health"`
	Time   string        `json:"time"`
}

type connectionsResponse struct {
	Mode        string                  `json:"mode"`
	Connections []bridge.ConnectionInfo `json:"connections"`
}

// handleHealth is unauthenticated so external health checks can use it. It answers
// 503 once the transport is neither connected nor connecting.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	resp := healthResponse{OK: true, Time: time.Now().UTC().Format(time.RFC3339)}
	if s.health != nil {
		resp.Health = s.health.Status()
		resp.OK = resp.Health.Healthy()
	}
	status := http.StatusOK
	if !resp.OK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}
	if s.conns == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "bridge not running")
		return
	}

	writeJSON(w, http.StatusOK, connectionsResponse{
		Mode:        string(s.conns.Mode()),
		Connections: s.conns.Snapshot(),
	})
}

// chatIDFromPath extracts the chat id following prefix. Group chats have
// negative ids.
func chatIDFromPath(path, prefix string) (int64, bool) {
	if !strings.HasPrefix(path, prefix) {
		return 0, false
	}
	raw := strings.TrimPrefix(path, prefix)
	if raw == "" || strings.Contains(raw, "/") {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiErrorResponse{
		Error: apiError{
			Code:    code,
			Message: message,
		},
	})
}
