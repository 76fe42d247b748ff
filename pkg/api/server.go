// clawfeed - Dashboard feed server
// Serves the live WebSocket feed, producer ingestion, and the static dashboard page
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sipeed/clawfeed/pkg/bus"
	"github.com/sipeed/clawfeed/pkg/channels"
	"github.com/sipeed/clawfeed/pkg/config"
	"github.com/sipeed/clawfeed/pkg/logger"
)

// Server is the HTTP server for the dashboard feed.
type Server struct {
	config         *config.Config
	bus            *bus.EventBus
	channelManager *channels.Manager
	wsHub          *WSHub
	startTime      time.Time
	server         *http.Server
	listener       net.Listener
	mu             sync.Mutex
}

// NewServer creates a new server instance. channelMgr may be nil when no chat
// networks are configured.
func NewServer(cfg *config.Config, b *bus.EventBus, channelMgr *channels.Manager, opts ...HubOption) *Server {
	return &Server{
		config:         cfg,
		bus:            b,
		channelManager: channelMgr,
		wsHub:          NewWSHub(b, opts...),
		startTime:      time.Now(),
	}
}

// Hub returns the websocket hub.
func (s *Server) Hub() *WSHub { return s.wsHub }

// Handler builds the routed, middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	guard := newKeyGuard(s.config.Gateway.APIKey)

	mux.HandleFunc("/api/health", s.handleHealth)

	// Producer ingestion + snapshot
	mux.HandleFunc("/api/events", guard.protect(s.handleEvents))

	// Outbound chat messages
	mux.HandleFunc("/api/messages", guard.protect(s.handleMessages))

	// WebSocket for live events
	mux.HandleFunc("/api/ws", guard.protect(s.wsHub.HandleWebSocket))
	mux.HandleFunc("/ws", guard.protect(s.wsHub.HandleWebSocket))

	// Dashboard page; anything else is a 404
	mux.HandleFunc("/", s.handleStatic)

	return corsMiddleware(mux)
}

// Start begins listening on the configured host:port. It returns once the
// listener is bound.
func (s *Server) Start(ctx context.Context) error {
	addr := s.config.ListenAddr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.server = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	logger.InfoCF("api", "Dashboard feed server starting", map[string]interface{}{
		"addr": ln.Addr().String(),
	})

	go s.wsHub.Run(ctx)

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorCF("api", "Server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop disconnects every viewer and shuts the HTTP server down gracefully.
func (s *Server) Stop() error {
	s.wsHub.CloseAll()

	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// --- Middleware ---

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || isAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "http://localhost")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isAllowedOrigin reports whether origin is an http(s) URL on a loopback host.
func isAllowedOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	switch strings.ToLower(u.Hostname()) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	channelStatus := make(map[string]interface{})
	if s.channelManager != nil {
		channelStatus = s.channelManager.Status()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"viewers":        s.wsHub.Count(),
		"subscribers":    s.bus.SubscriberCount(),
		"retained":       s.bus.Len(),
		"capacity":       s.bus.Capacity(),
		"channels":       channelStatus,
	})
}

// handleStatic serves the dashboard page at / and /dashboard. The file is read
// per request so it can be edited without a restart.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/dashboard" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := s.config.Dashboard.AssetPath
	data, err := os.ReadFile(path)
	if err != nil {
		logger.WarnCF("api", "Dashboard asset unavailable", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
		http.Error(w, fmt.Sprintf("Dashboard not found: %s", path), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
