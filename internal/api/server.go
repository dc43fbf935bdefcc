package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hyperifyio/docdistill/internal/app"
	"github.com/hyperifyio/docdistill/internal/store"
)

// Server is the HTTP surface over the pipeline. Runs execute in the
// background; documents are served straight from the store directory.
type Server struct {
	router chi.Router
	cfg    app.Config
	store  *store.Store

	mu   sync.Mutex
	runs map[string]*runState
}

// NewServer opens the store under cfg.OutputDir and configures the routes.
func NewServer(cfg app.Config) (*Server, error) {
	st, err := store.Open(cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	s := &Server{
		cfg:   cfg,
		store: st,
		runs:  make(map[string]*runState),
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger())

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/runs", s.handleStartRun)
		r.Get("/runs/{runID}", s.handleRunStatus)
		r.Get("/runs/{runID}/events", s.handleRunEvents)
		r.Post("/runs/{runID}/cancel", s.handleCancelRun)

		r.Get("/documents/{kind}", s.handleDocument)
		r.Get("/documents/{kind}/view", s.handleDocumentView)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
