// Package web serves the optional status API and a live mirror of what the
// bridge delivers to each chat.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/asheshgoplani/termbot/internal/bridge"
	"github.com/asheshgoplani/termbot/internal/health"
	"github.com/asheshgoplani/termbot/internal/logging"
)

var webLog = logging.ForComponent(logging.CompWeb)

const DefaultListenAddr = "127.0.0.1:8420"

// Config defines runtime options for the web server.
type Config struct {
	ListenAddr string
	Token      string
}

// HealthSource reports transport health.
type HealthSource interface {
	Status() health.Status
}

// ConnectionSource lists the bridge's live connections.
type ConnectionSource interface {
	Snapshot() []bridge.ConnectionInfo
	Mode() bridge.Mode
}

// Server wraps an HTTP server exposing health, connections and the mirror.
type Server struct {
	cfg        Config
	httpServer *http.Server
	health     HealthSource
	conns      ConnectionSource
	mirror     *Mirror
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// NewServer creates the server with its routes and middleware. Any source
// may be nil; the matching routes then report the feature unavailable.
func NewServer(cfg Config, hs HealthSource, cs ConnectionSource, mirror *Mirror) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}

	s := &Server{
		cfg:    cfg,
		health: hs,
		conns:  cs,
		mirror: mirror,
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/connections", s.handleConnections)
	mux.HandleFunc("/ws/chat/", s.handleChatWS)
	mux.HandleFunc("/events/chat/", s.handleChatEvents)

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           withRecover(mux),
		BaseContext:       func(_ net.Listener) context.Context { return s.baseCtx },
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the configured HTTP handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until shutdown or error. Returns nil on graceful shutdown.
func (s *Server) Start() error {
	webLog.Info("web_listening", slog.String("addr", s.cfg.ListenAddr), slog.Bool("auth", s.cfg.Token != ""))
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancelBase != nil {
		// Signal long-lived handlers (SSE/WS) to stop promptly.
		s.cancelBase()
	}

	err := s.httpServer.Shutdown(ctx)
	if err == nil {
		return nil
	}

	// Long-lived connections may still block graceful shutdown.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if closeErr := s.httpServer.Close(); closeErr != nil {
			return fmt.Errorf("graceful shutdown timed out and force close failed: %w", closeErr)
		}
		return nil
	}

	return err
}

func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				webLog.Error("panic",
					slog.String("recover", fmt.Sprintf("%v", rec)),
					slog.String("path", r.URL.Path))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) String() string {
	return fmt.Sprintf("web-server(addr=%s, auth=%t)", s.cfg.ListenAddr, s.cfg.Token != "")
}
