// Package dashboard serves a read-only HTTP view of the day ledger. It
// never mutates state; all reads go through storage snapshots so a running
// cycle is never blocked.
package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kunalshah/dalal_straddler/internal/storage"
)

type Server struct {
	router  *chi.Mux
	server  *http.Server
	storage storage.Interface
	logger  *log.Logger
	addr    string
}

func NewServer(addr string, store storage.Interface, logger *log.Logger) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		storage: store,
		logger:  logger,
		addr:    addr,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/ledger", s.handleLedger)
	s.router.Get("/api/mtm", s.handleMTM)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Printf("Starting dashboard server on %s", s.addr)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":    "healthy",
		"ledger":    s.storage.Path(),
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleLedger(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.storage.Snapshot())
}

func (s *Server) handleMTM(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.storage.Snapshot().MTM)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Printf("Failed to encode response: %v", err)
	}
}
