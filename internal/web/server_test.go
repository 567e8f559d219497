package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/asheshgoplani/termbot/internal/bridge"
	"github.com/asheshgoplani/termbot/internal/health"
)

type fakeHealth struct{ status health.Status }

func (f fakeHealth) Status() health.Status { return f.status }

type fakeConnections struct{ conns []bridge.ConnectionInfo }

func (f fakeConnections) Snapshot() []bridge.ConnectionInfo { return f.conns }
func (f fakeConnections) Mode() bridge.Mode                 { return bridge.ModeWindow }

func TestHealthzEndpoint(t *testing.T) {
	srv := NewServer(Config{ListenAddr: "127.0.0.1:0"},
		fakeHealth{health.Status{State: health.StateConnected, Uptime: 12}}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	body := rr.Body.String()
	if !strings.Contains(body, `"ok":true`) {
		t.Fatalf("expected health response to contain ok=true, got: %s", body)
	}
	if !strings.Contains(body, `"state":"connected"`) {
		t.Fatalf("expected health response to contain state, got: %s", body)
	}
}

func TestHealthzDegraded(t *testing.T) {
	srv := NewServer(Config{ListenAddr: "127.0.0.1:0", Token: "secret"},
		fakeHealth{health.Status{State: health.StateDegraded}}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"ok":false`) {
		t.Fatalf("expected ok=false, got: %s", rr.Body.String())
	}
}

func TestHealthzMethodNotAllowed(t *testing.T) {
	srv := NewServer(Config{ListenAddr: "127.0.0.1:0"}, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/healthz", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rr.Code)
	}
}

func TestConnectionsEndpoint(t *testing.T) {
	connected := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	srv := NewServer(Config{ListenAddr: "127.0.0.1:0", Token: "secret"}, nil, fakeConnections{
		conns: []bridge.ConnectionInfo{{ChatID: 42, Pane: "work:0.0", AutoEnter: true, WindowMsgID: 10, ConnectedAt: connected}},
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/connections", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rr.Code, rr.Body.String())
	}

	var resp connectionsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Mode != "window" {
		t.Fatalf("expected mode window, got %q", resp.Mode)
	}
	if len(resp.Connections) != 1 || resp.Connections[0].Pane != "work:0.0" || resp.Connections[0].WindowMsgID != 10 {
		t.Fatalf("unexpected connections: %+v", resp.Connections)
	}
}

func TestConnectionsUnauthorized(t *testing.T) {
	srv := NewServer(Config{ListenAddr: "127.0.0.1:0", Token: "secret"}, nil, fakeConnections{}, nil)

	for _, header := range []string{"", "Bearer wrong", "Basic secret"} {
		req := httptest.NewRequest(http.MethodGet, "/api/connections", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected status %d, got %d", header, http.StatusUnauthorized, rr.Code)
		}
	}
}

func TestConnectionsWithoutBridge(t *testing.T) {
	srv := NewServer(Config{ListenAddr: "127.0.0.1:0"}, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/connections", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rr.Code)
	}
}

func TestChatIDFromPath(t *testing.T) {
	tests := []struct {
		path string
		id   int64
		ok   bool
	}{
		{"/ws/chat/42", 42, true},
		{"/ws/chat/-100123", -100123, true},
		{"/ws/chat/", 0, false},
		{"/ws/chat/0", 0, false},
		{"/ws/chat/abc", 0, false},
		{"/ws/chat/1/2", 0, false},
		{"/other/1", 0, false},
	}
	for _, tt := range tests {
		id, ok := chatIDFromPath(tt.path, "/ws/chat/")
		if id != tt.id || ok != tt.ok {
			t.Fatalf("chatIDFromPath(%q) = %d, %t; want %d, %t", tt.path, id, ok, tt.id, tt.ok)
		}
	}
}

func TestRecoverMiddleware(t *testing.T) {
	h := withRecover(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, rr.Code)
	}
}
