package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	handler := NewHandler(deps)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(MetricsMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// No tenant required
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", promhttp.Handler())

	router.Group(func(r chi.Router) {
		r.Use(TenantMiddleware)

		r.Post("/pipeline/run", handler.RunPipeline)

		r.Get("/transactions", handler.ListTransactions)
		r.Get("/transactions/{id}", handler.GetTransaction)
		r.Post("/transactions/{id}/score", handler.ScoreTransaction)
		r.Post("/scores/recompute", handler.RecomputeScores)

		r.Get("/employees", handler.ListEmployees)

		r.Post("/cases/detect", handler.DetectCases)
		r.Get("/cases", handler.ListCases)
		r.Get("/cases/{id}", handler.GetCase)
		r.Post("/cases/{id}/actions", handler.ApplyCaseAction)
		r.Get("/cases/{id}/reject-template", handler.GetRejectTemplate)

		r.Get("/evals", handler.GetEvals)

		r.Get("/reports/monthly", handler.MonthlyReport)
		r.Get("/reports/quarterly", handler.QuarterlyReport)
		r.Get("/reports/rules", handler.RuleEffectivenessReport)
		r.Get("/reports/trends", handler.TrendsReport)

		r.Get("/rules", handler.ListRules)
		r.Get("/rules/{id}", handler.GetRule)
		r.Post("/rules", handler.CreateRule)
		r.Post("/rules/reload", handler.ReloadRules)

		r.Post("/reference/seed", handler.SeedReference)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
