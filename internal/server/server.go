// Package server provides the HTTP server and routing for FolioSync.
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

	"github.com/aristath/foliosync/internal/config"
	"github.com/aristath/foliosync/internal/database"
	"github.com/aristath/foliosync/internal/events"
	"github.com/aristath/foliosync/internal/modules/ledger"
	"github.com/aristath/foliosync/internal/modules/mirror"
	syncengine "github.com/aristath/foliosync/internal/sync"
)

// Config holds server configuration
type Config struct {
	Log          zerolog.Logger
	Config       *config.Config
	LedgerDB     *database.DB
	MirrorDB     *database.DB
	Ledger       *ledger.Repository
	Mirror       *mirror.Repository
	Orchestrator *syncengine.Orchestrator
	Bus          *events.Bus
}

// Server represents the HTTP server
type Server struct {
	router       *chi.Mux
	server       *http.Server
	log          zerolog.Logger
	cfg          *config.Config
	ledgerDB     *database.DB
	mirrorDB     *database.DB
	ledger       *ledger.Repository
	mirror       *mirror.Repository
	orchestrator *syncengine.Orchestrator
	bus          *events.Bus
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		log:          cfg.Log.With().Str("component", "server").Logger(),
		cfg:          cfg.Config,
		ledgerDB:     cfg.LedgerDB,
		mirrorDB:     cfg.MirrorDB,
		ledger:       cfg.Ledger,
		mirror:       cfg.Mirror,
		orchestrator: cfg.Orchestrator,
		bus:          cfg.Bus,
	}

	s.setupMiddleware(cfg.Config.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

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
		// Event stream (websocket). Registered before the timeout-wrapped
		// routes: the connection is long-lived.
		wsHandler := NewEventsSocketHandler(s.bus, s.orchestrator, s.log)
		r.Get("/ws", wsHandler.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			tradeHandlers := NewTradeHandlers(s.ledger, s.orchestrator, s.bus, s.cfg.OwnerID, s.log)
			tradeHandlers.RegisterRoutes(r)

			syncHandlers := NewSyncHandlers(s.orchestrator, s.log)
			syncHandlers.RegisterRoutes(r)

			mirrorHandlers := NewMirrorHandlers(s.mirror, s.log)
			mirrorHandlers.RegisterRoutes(r)

			systemHandlers := NewSystemHandlers(s.log, s.cfg.DataDir, s.ledgerDB, s.mirrorDB)
			r.Route("/system", func(r chi.Router) {
				r.Get("/health", systemHandlers.HandleSystemHealth)
				r.Get("/database/stats", systemHandlers.HandleDatabaseStats)
				r.Get("/disk", systemHandlers.HandleDiskUsage)
			})
		})
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
