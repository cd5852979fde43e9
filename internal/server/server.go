// Package server provides the HTTP server and routing for Helmsman.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/config"
	drifthandlers "github.com/aristath/helmsman/internal/modules/drift/handlers"
	historyhandlers "github.com/aristath/helmsman/internal/modules/history/handlers"
	plannerhandlers "github.com/aristath/helmsman/internal/modules/planner/handlers"
	policyhandlers "github.com/aristath/helmsman/internal/modules/policy/handlers"
	universehandlers "github.com/aristath/helmsman/internal/modules/universe/handlers"
)

// Config holds server configuration
type Config struct {
	Log              zerolog.Logger
	Config           *config.Config
	PlanHandlers     *plannerhandlers.PlanHandlers
	DriftHandlers    *drifthandlers.DriftHandlers
	PolicyHandlers   *policyhandlers.PolicyHandlers
	UniverseHandlers *universehandlers.UniverseHandlers
	HistoryHandlers  *historyhandlers.HistoryHandlers
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	cfg    Config
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		cfg:    cfg,
	}

	s.setupMiddleware(cfg.Config.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/plans", func(r chi.Router) {
			r.Post("/", s.cfg.PlanHandlers.HandleCreatePlan)
			r.Post("/preview", s.cfg.PlanHandlers.HandlePreview)
			r.Get("/", s.cfg.PlanHandlers.HandleListPlans)
			r.Get("/{id}", s.cfg.PlanHandlers.HandleGetPlan)
		})

		r.Get("/drift", s.cfg.DriftHandlers.HandleReport)

		r.Route("/policies", func(r chi.Router) {
			r.Get("/", s.cfg.PolicyHandlers.HandleList)
			r.Post("/import", s.cfg.PolicyHandlers.HandleImport)
			r.Get("/{id}", s.cfg.PolicyHandlers.HandleGet)
			r.Put("/{id}", s.cfg.PolicyHandlers.HandleSave)
		})

		r.Route("/securities", func(r chi.Router) {
			r.Get("/", s.cfg.UniverseHandlers.HandleList)
			r.Get("/{ticker}", s.cfg.UniverseHandlers.HandleGet)
			r.Put("/{ticker}", s.cfg.UniverseHandlers.HandleUpsert)
			r.Post("/{ticker}/price", s.cfg.UniverseHandlers.HandleUpdatePrice)
		})

		r.Post("/transactions", s.cfg.HistoryHandlers.HandleRecord)
	})
}

// Router returns the configured router, used by handler tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Config.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs requests with zerolog
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request handled")
	})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"healthy","service":"helmsman"}`))
}
