package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/appgarcom/prestador/internal/clock"
	"github.com/appgarcom/prestador/internal/config"
	"github.com/appgarcom/prestador/internal/http/handlers"
	"github.com/appgarcom/prestador/internal/middleware"
	"github.com/appgarcom/prestador/internal/offers"
	"github.com/appgarcom/prestador/internal/session"
)

// Deps are the running components the bridge exposes.
type Deps struct {
	Sessions      *session.Manager
	Offers        *offers.Controller
	Notifications *offers.Broadcaster
	Clock         clock.Clock
	Logger        *slog.Logger
}

// Server wraps an http.Server with configured routes.
type Server struct {
	inner *http.Server
}

// New wires up middleware, routes, and returns a ready server.
func New(cfg config.Config, deps Deps) *Server {
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           Routes(cfg, deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return &Server{inner: httpServer}
}

// Routes builds the bridge handler.
func Routes(cfg config.Config, deps Deps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}
	protect := middleware.RequireAccess(deps.Sessions.State)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(clk.Now(), deps.Sessions.Ready()).Register(mux)
	handlers.NewAuthHandler(deps.Sessions, log).Register(mux)
	handlers.NewOffersHandler(deps.Offers, protect, log).Register(mux)
	handlers.NewStreamHandler(deps.Notifications, deps.Sessions, deps.Offers, cfg.WSOrigins, protect, clk, log).Register(mux)

	return middleware.CORS(cfg.CORSOrigins)(middleware.Logging(log)(mux))
}

// Start begins serving HTTP traffic.
func (s *Server) Start() error {
	return s.inner.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}
