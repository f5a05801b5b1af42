package api

import (
	"log/slog"
	"net/http"

	"github.com/dgallion1/docaudit/internal/config"
	"github.com/dgallion1/docaudit/internal/metrics"
	"github.com/dgallion1/docaudit/internal/pipeline"
	"github.com/dgallion1/docaudit/internal/report"
	"github.com/dgallion1/docaudit/internal/rules"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server is the HTTP API server for docaudit.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	rules        *rules.Store
	renderer     *report.Renderer
	metrics      *metrics.Metrics
	limiter      *RateLimiter
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(orch *pipeline.Orchestrator, store *rules.Store, m *metrics.Metrics, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		rules:        store,
		renderer:     report.NewRenderer(),
		metrics:      m,
		limiter:      NewRateLimiter(cfg.AuditRatePerMinute, cfg.AuditBurst, log),
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
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(s.log, s.metrics))

	// Public endpoints.
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.DocauditAPIKey, s.log))

		r.Post("/api/sessions", s.handleCreateSession)
		r.Get("/api/sessions/{sessionID}", s.handleGetSession)
		r.Put("/api/sessions/{sessionID}/corpus/{role}", s.handlePutCorpus)
		r.Delete("/api/sessions/{sessionID}/corpus/{role}", s.handleDeleteCorpus)
		r.With(s.limiter.Middleware).Post("/api/sessions/{sessionID}/audit", s.handleAudit)
		r.Get("/api/sessions/{sessionID}/report", s.handleReport)
		r.Get("/api/sessions/{sessionID}/highlights/{file}/{page}", s.handleHighlight)

		r.Get("/api/rules", s.handleListRules)
		r.Post("/api/rules", s.handleAddRule)
		r.Delete("/api/rules", s.handleClearRules)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.orchestrator.Sessions().Len(),
	})
}
