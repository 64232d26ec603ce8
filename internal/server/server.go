// Package server is the HTTP surface of `desktop-assist serve`: a session
// browser plus remote control of a single agent run.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/freema/desktop-assist/api"
	"github.com/freema/desktop-assist/internal/agent"
	"github.com/freema/desktop-assist/internal/config"
	"github.com/freema/desktop-assist/internal/eventbus"
	"github.com/freema/desktop-assist/internal/redisclient"
	"github.com/freema/desktop-assist/internal/server/handlers"
	"github.com/freema/desktop-assist/internal/server/middleware"
)

// Deps are the collaborators the routes are built from. Redis, Bus and
// History are optional.
type Deps struct {
	Config  *config.Config
	Tracker *agent.Tracker
	Redis   *redisclient.Client
	Bus     *eventbus.Bus
	History handlers.HistoryStore
	Version string
}

// Server is the HTTP server.
type Server struct {
	httpServer *http.Server
	health     *handlers.HealthHandler
}

// New creates and configures the HTTP server with all routes and middleware.
func New(deps Deps) *Server {
	cfg := deps.Config
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.PrometheusMetrics)
	r.Use(chimw.Recoverer)

	healthHandler := handlers.NewHealthHandler(deps.Redis, cfg.CLI.Path, deps.Version)
	docsHandler := handlers.NewDocsHandler(api.OpenAPIDocument)
	sessionHandler := handlers.NewSessionHandler(cfg.Sessions.Dir)
	runHandler := handlers.NewRunHandler(deps.Tracker, cfg.Sessions.Enabled)

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(30 * time.Second))
		r.Get("/health", healthHandler.Health)
		r.Get("/ready", healthHandler.Ready)
		r.Handle("/metrics", promhttp.Handler())
		r.Get("/api/docs", docsHandler.SwaggerUI)
		r.Get("/api/docs/openapi.yaml", docsHandler.OpenAPI)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.BearerAuth(cfg.Server.AuthToken))

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(30 * time.Second))

			r.Get("/sessions", sessionHandler.List)
			r.Get("/sessions/{sessionID}", sessionHandler.Get)
			r.Get("/sessions/{sessionID}/replay", sessionHandler.Replay)

			if deps.History != nil {
				historyHandler := handlers.NewHistoryHandler(deps.History)
				r.Get("/history", historyHandler.List)
				r.Get("/history/{sessionID}", historyHandler.Get)
			}

			r.Get("/runs/current", runHandler.Current)
			r.Post("/runs/current/cancel", runHandler.Cancel)
			r.Get("/runs/{runID}", runHandler.Get)
		})

		// Run creation is rate limited and the event stream is long-lived,
		// so neither sits behind the request timeout.
		r.Group(func(r chi.Router) {
			if deps.Redis != nil && cfg.Server.RunsPerMinute > 0 {
				limiter := middleware.NewRateLimiter(deps.Redis, cfg.Server.RunsPerMinute, time.Minute)
				r.Use(limiter.Middleware())
			}
			r.Post("/runs", runHandler.Create)
		})
		if deps.Bus != nil {
			streamHandler := handlers.NewStreamHandler(deps.Bus, deps.Tracker)
			r.Get("/sessions/{sessionID}/events", streamHandler.Stream)
		}
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           otelhttp.NewHandler(r, "desktop-assist"),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		health:     healthHandler,
	}
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	slog.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.SetReady(false)
	return s.httpServer.Shutdown(ctx)
}
