// Package api exposes the host over HTTP: chain and catalog views, chain actions,
// scans, and a websocket stream of host events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shaban/fxhost/internal/pubsub"
	"github.com/shaban/fxhost/plugins"
	"github.com/shaban/fxhost/reconciler"
	"github.com/shaban/fxhost/scan"
)

// Backend is what the server needs from the host.
type Backend interface {
	Chain() ChainResponse
	Catalog() plugins.Descriptors
	Blacklist() []plugins.Key
	RemoveFromBlacklist(ctx context.Context, key plugins.Key) (bool, error)
	Dispatch(ctx context.Context, a reconciler.Action) error
	StartScan(ctx context.Context) (string, error)
	Events() *pubsub.Broker[any]
}

// ChainResponse is the body of GET /api/chain.
type ChainResponse struct {
	Version  uint64                 `json:"version"`
	Topology string                 `json:"topology"`
	Entries  []reconciler.EntryView `json:"entries"`
}

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server provides HTTP API endpoints for the plugin host
type Server struct {
	backend Backend
	logger  *zap.Logger
	server  *http.Server
	mux     *http.ServeMux

	// scanCtx outlives individual requests so a scan started over HTTP keeps running.
	scanCtx    context.Context
	scanCancel context.CancelFunc
}

// NewServer creates a new API server listening on addr.
func NewServer(backend Backend, logger *zap.Logger, addr string) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		backend: backend,
		logger:  logger,
	}
	s.scanCtx, s.scanCancel = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/chain", s.handleChain)
	mux.HandleFunc("/api/catalog", s.handleCatalog)
	mux.HandleFunc("/api/blacklist", s.handleBlacklist)
	mux.HandleFunc("/api/actions", s.handleAction)
	mux.HandleFunc("/api/scan", s.handleScan)
	mux.HandleFunc("/ws/events", s.handleEvents)
	s.mux = mux

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the request router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.mux }

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.server.Addr }

// Start begins serving HTTP requests. It fails fast if the address cannot be bound.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")
	s.scanCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.backend.Chain())
}

// handleCatalog lists descriptors, optionally filtered by format, vendor and name.
func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ds := s.backend.Catalog()
	q := r.URL.Query()
	if f := q.Get("format"); f != "" {
		format, err := plugins.ParseFormat(f)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		ds = ds.ByFormat(format)
	}
	if v := q.Get("vendor"); v != "" {
		ds = ds.ByVendor(v)
	}
	if n := q.Get("name"); n != "" {
		ds = ds.ByName(n)
	}
	if ds == nil {
		ds = plugins.Descriptors{}
	}
	s.writeJSON(w, http.StatusOK, ds)
}

func (s *Server) handleBlacklist(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		keys := s.backend.Blacklist()
		if keys == nil {
			keys = []plugins.Key{}
		}
		s.writeJSON(w, http.StatusOK, keys)
	case http.MethodDelete:
		key := r.URL.Query().Get("key")
		if key == "" {
			s.writeError(w, http.StatusBadRequest, errors.New("missing key"))
			return
		}
		removed, err := s.backend.RemoveFromBlacklist(r.Context(), plugins.Key(key))
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		if !removed {
			s.writeError(w, http.StatusNotFound, fmt.Errorf("%s is not blacklisted", key))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleAction applies one reconciler.Action and replies with the resulting chain.
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var a reconciler.Action
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decoding action: %w", err))
		return
	}
	if err := a.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.backend.Dispatch(r.Context(), a); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.logger.Debug("Action applied", zap.Stringer("action", a), zap.String("remote_addr", r.RemoteAddr))
	s.writeJSON(w, http.StatusOK, s.backend.Chain())
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, err := s.backend.StartScan(s.scanCtx)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"scanId": id})
}

// handleEvents streams broker events to a websocket client until either side goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	events := s.backend.Events().Subscribe(ctx)

	// Reading is only used to notice the client closing.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.logger.Debug("Event stream opened", zap.String("remote_addr", r.RemoteAddr))
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug("Event stream write failed", zap.Error(err))
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, reconciler.ErrIndexOutOfRange):
		return http.StatusNotFound
	case errors.Is(err, reconciler.ErrUnknownPlugin),
		errors.Is(err, reconciler.ErrBlacklisted),
		errors.Is(err, reconciler.ErrNoChannels):
		return http.StatusUnprocessableEntity
	case errors.Is(err, scan.ErrScanRunning):
		return http.StatusConflict
	case errors.Is(err, scan.ErrNoFormats):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
