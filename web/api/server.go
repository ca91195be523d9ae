// Package api exposes the run state over HTTP: JSON snapshots, server-sent
// events, a WebSocket stream, run history and run launch.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hochfrequenz/heal-dash/internal/domain"
	"github.com/hochfrequenz/heal-dash/internal/inference"
	"github.com/hochfrequenz/heal-dash/internal/report"
	"github.com/hochfrequenz/heal-dash/internal/runstate"
	"github.com/rs/zerolog"
)

// Launcher starts healing runs
type Launcher interface {
	Launch(ctx context.Context, in domain.RunInputs) (string, error)
}

// History reads completed runs
type History interface {
	List(ctx context.Context, limit int) ([]report.Report, error)
	Get(ctx context.Context, id string) (*report.Report, error)
}

// Server is the HTTP API server
type Server struct {
	store    *runstate.Store
	launcher Launcher
	history  History
	engine   func() inference.Status
	addr     string
	mux      *http.ServeMux
	sseHub   *SSEHub
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// Option configures a Server
type Option func(*Server)

// WithLauncher enables POST /api/runs
func WithLauncher(l Launcher) Option {
	return func(s *Server) { s.launcher = l }
}

// WithHistory enables the history endpoints
func WithHistory(h History) Option {
	return func(s *Server) { s.history = h }
}

// WithEngineStatus includes the inference engine state in state payloads
func WithEngineStatus(fn func() inference.Status) Option {
	return func(s *Server) { s.engine = fn }
}

// WithLogger sets the server logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a new API server
func NewServer(store *runstate.Store, addr string, opts ...Option) *Server {
	s := &Server{
		store:  store,
		addr:   addr,
		mux:    http.NewServeMux(),
		sseHub: NewSSEHub(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /api/state", s.stateHandler())
	s.mux.HandleFunc("GET /api/events", s.sseHandler())
	s.mux.HandleFunc("GET /api/ws", s.wsHandler())
	s.mux.HandleFunc("GET /api/history", s.listHistoryHandler())
	s.mux.HandleFunc("GET /api/history/{id}", s.getHistoryHandler())
	s.mux.HandleFunc("GET /api/score/simulate", s.simulateHandler())
	s.mux.HandleFunc("POST /api/runs", s.launchHandler())
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves HTTP until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.startStreams(ctx)

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("api server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Msg("api server shutdown")
		}
		return nil
	}
}

// startStreams runs the SSE hub and the store watcher
func (s *Server) startStreams(ctx context.Context) {
	changes, unsubscribe := s.store.Subscribe()
	go s.sseHub.Run(ctx)
	go s.watch(ctx, changes, unsubscribe)
}

// watch broadcasts a state event after every store change
func (s *Server) watch(ctx context.Context, changes <-chan struct{}, unsubscribe func()) {
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			if !s.sseHub.Broadcast(ctx, SSEEvent{Type: "state", Data: s.state()}) {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSONStatus(w, code, map[string]string{"error": message})
}
