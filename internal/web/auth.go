package web

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// authorizeRequest accepts the token as ?token= (browsers cannot set headers
// on a websocket upgrade) or as a bearer header. An empty configured token
// disables auth.
func (s *Server) authorizeRequest(r *http.Request) bool {
	if s.cfg.Token == "" {
		return true
	}

	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return secureEqual(token, s.cfg.Token)
	}
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return secureEqual(token, s.cfg.Token)
	}
	return false
}

func bearerToken(authHeader string) string {
	authHeader = strings.TrimSpace(authHeader)
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix))
}

func secureEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
