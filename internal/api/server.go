// Package api exposes the compliance engine over HTTP for the counter UI
// and the audit back office.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/siamfx/naga/internal/backoffice"
	"github.com/siamfx/naga/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, svc *backoffice.Service, repo domain.Repository, cache domain.Cache, bus domain.EventBus, version string) *Server {
	handler := NewHandler(svc, repo, cache, bus, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Health endpoints (no branch required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (branch required)
	router.Route("/", func(r chi.Router) {
		r.Use(BranchMiddleware)

		// Trigger checks
		r.Post("/triggers/check", handler.CheckAllTriggers)
		r.Post("/triggers/{family}/check", handler.CheckTriggers)

		// Reservation lifecycle
		r.Post("/reservations", handler.CreateReservation)
		r.Get("/reservations", handler.ListReservations)
		r.Get("/reservations/{id}", handler.GetReservation)
		r.Post("/reservations/{id}/audit", handler.AuditReservation)
		r.Post("/reservations/{id}/signatures", handler.AttachSignature)

		// Report materialization and emission
		r.Post("/transactions/{id}/materialize", handler.MaterializeReports)
		r.Post("/adjustments", handler.RecordAdjustment)
		r.Get("/reports", handler.ListReports)
		r.Get("/reports/{id}", handler.GetReport)
		r.Post("/reports/{id}/pdf", handler.EmitPDF)
		r.Post("/reports/{id}/reported", handler.MarkReported)

		// BOT exports
		r.Get("/exports/bot/{variant}", handler.ExportBOT)

		// Rule management
		r.Get("/rules", handler.ListRules)
		r.Get("/rules/{id}", handler.GetRule)
		r.Post("/rules", handler.CreateRule)
		r.Post("/rules/{id}/deactivate", handler.DeactivateRule)
		r.Post("/rules/reload", handler.ReloadRules)

		// Daily rates
		r.Post("/rates", handler.SaveRate)
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
