package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/appgarcom/prestador/internal/app"
	"github.com/appgarcom/prestador/internal/auth"
	"github.com/appgarcom/prestador/internal/clock"
	"github.com/appgarcom/prestador/internal/config"
	"github.com/appgarcom/prestador/internal/offers"
	"github.com/appgarcom/prestador/internal/server"
	"github.com/appgarcom/prestador/internal/session"
	"github.com/appgarcom/prestador/internal/storage/postgres"
)

func main() {
	loadLocalEnv()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("prestador client stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := postgres.NewStore(ctx, cfg.DatabaseURL, cfg.OfferWindow)
	if err != nil {
		return err
	}
	defer store.Close()

	var limiter auth.Limiter
	if rl, err := auth.NewRedisLimiter(cfg.RedisURL, cfg.LoginRateLimit, cfg.LoginRateWindow); err != nil {
		log.Warn("sign-in limiter disabled", "error", err)
	} else if rl != nil {
		defer rl.Close()
		limiter = rl
	}

	clk := clock.Real()
	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
	gateway := auth.NewLocalGateway(store, tokens, limiter, clk, log)
	defer gateway.Close()

	manager := session.NewManager(gateway, session.NewResolver(store, log), log)
	notes := offers.NewBroadcaster(32)
	defer notes.Close()
	ctrl := offers.NewController(store, notes, offers.Options{Window: cfg.OfferWindow, Clock: clk, Logger: log})
	rt := app.NewRuntime(manager, ctrl, store, app.Options{Clock: clk, SweepInterval: cfg.SweepInterval, Logger: log})

	srv := server.New(cfg, server.Deps{Sessions: manager, Offers: ctrl, Notifications: notes, Clock: clk, Logger: log})

	runDone := make(chan error, 1)
	go func() { runDone <- rt.Run(ctx) }()

	srvErr := make(chan error, 1)
	go func() {
		log.Info("prestador client listening", "addr", cfg.HTTPAddress())
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-srvErr:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.Warn("graceful shutdown error", "error", serr)
	}
	if rerr := <-runDone; rerr != nil && err == nil {
		err = rerr
	}
	return err
}

func loadLocalEnv() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found; relying on existing environment")
	}
}
