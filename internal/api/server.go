package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/refstack/ocrbridge/internal/config"
	"github.com/refstack/ocrbridge/internal/pipeline"
)

// Server is the HTTP API server for ocrbridge.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(orch *pipeline.Orchestrator, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	// Authentication applies only when an API key is configured.
	r.Group(func(r chi.Router) {
		if s.cfg.APIKey != "" {
			r.Use(AuthMiddleware(s.cfg.APIKey, s.log))
		}

		r.Post("/api/ocr", s.handleStartJob)
		r.Get("/api/jobs", s.handleListJobs)
		r.Get("/api/jobs/{jobID}", s.handleJobStatus)
		r.Delete("/api/jobs/{jobID}", s.handleCancelJob)
		r.Get("/api/items/{itemKey}/content", s.handleItemContent)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
