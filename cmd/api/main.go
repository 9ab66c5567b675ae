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

	"github.com/gethome/companion/backend/internal/auth"
	"github.com/gethome/companion/backend/internal/config"
	"github.com/gethome/companion/backend/internal/handler"
	"github.com/gethome/companion/backend/internal/observability"
	"github.com/gethome/companion/backend/internal/service/ai"
	"github.com/gethome/companion/backend/internal/service/chat"
	"github.com/gethome/companion/backend/internal/service/profile"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, continuing with system environment variables only", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	validator, err := auth.NewValidator(cfg.Auth)
	if err != nil {
		logger.Error("failed to initialize token validator", "error", err)
		os.Exit(1)
	}

	conversations := ai.NewFactory(cfg.AI, logger)
	if conversations.LiveEnabled() {
		logger.Info("language model configured", "provider", cfg.AI.Provider, "model", cfg.AI.Model)
	} else {
		logger.Warn("language model credentials not configured, sessions will use the fallback companion", "provider", cfg.AI.Provider)
	}

	metrics := observability.NewMetrics()
	registry := chat.NewRegistry()
	gateway := chat.NewGateway(validator, profile.NewFetcher(cfg.Profile), conversations, registry,
		chat.WithMetrics(metrics),
		chat.WithLogger(logger),
	)

	go gateway.RunJanitor(ctx, cfg.Session.SweepInterval, cfg.Session.IdleTTL)

	router := handler.NewRouter(gateway, metrics, cfg.Server.AllowedOrigins, logger)

	startServer(ctx, cfg.Server, router, logger)
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *slog.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("GetHome companion gateway listening", "addr", addr)
	if err := runServer(ctx, srv); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
