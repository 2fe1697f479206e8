// Package server exposes sync state and live progress over HTTP for
// long-running watch processes.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/BadgerOps/libsync/internal/config"
	"github.com/BadgerOps/libsync/internal/engine"
	"github.com/BadgerOps/libsync/internal/store"
)

// Server represents the HTTP status API.
type Server struct {
	coord      *engine.Coordinator
	store      *store.Store
	config     *config.Config
	capability string
	logger     *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	runs       map[string]*engine.Run // latest run per archive path
}

// NewServer creates a new Server instance. capability is the host text
// passed to every sync the server starts.
func NewServer(
	coord *engine.Coordinator,
	st *store.Store,
	cfg *config.Config,
	capability string,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		coord:      coord,
		store:      st,
		config:     cfg,
		capability: capability,
		logger:     logger,
		runs:       make(map[string]*engine.Run),
	}
}

// Track makes run visible to the progress endpoints, replacing any earlier
// run of the same archive.
func (s *Server) Track(run *engine.Run) {
	archive := absPath(run.Snapshot().Archive)
	s.mu.Lock()
	s.runs[archive] = run
	s.mu.Unlock()
}

func (s *Server) run(archive string) *engine.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[archive]
}

// trackedRuns returns the tracked runs ordered by archive path.
func (s *Server) trackedRuns() []*engine.Run {
	s.mu.Lock()
	archives := make([]string, 0, len(s.runs))
	for a := range s.runs {
		archives = append(archives, a)
	}
	sort.Strings(archives)
	runs := make([]*engine.Run, 0, len(archives))
	for _, a := range archives {
		runs = append(runs, s.runs[a])
	}
	s.mu.Unlock()
	return runs
}

// Start starts the HTTP server on the given listen address.
func (s *Server) Start(listenAddr string) error {
	// No WriteTimeout: progress streams stay open for the length of a run.
	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = httpServer
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", "addr", listenAddr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	httpServer := s.httpServer
	s.mu.Unlock()
	if httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down HTTP server")
	return httpServer.Shutdown(ctx)
}

// Handler registers all routes on a new ServeMux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.handleAPIStatus)
	mux.HandleFunc("GET /api/runs", s.handleAPIRuns)
	mux.HandleFunc("GET /api/failures", s.handleAPIFailures)
	mux.HandleFunc("POST /api/sync", s.handleAPISync)

	mux.HandleFunc("GET /api/progress", s.handleAPIProgress)
	mux.HandleFunc("GET /api/progress/stream", s.handleAPIProgressStream)

	return mux
}
