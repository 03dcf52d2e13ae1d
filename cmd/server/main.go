package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"chatgate/internal/gateway"
	"chatgate/internal/platform/config"
	"chatgate/internal/platform/httpserver"
	"chatgate/internal/platform/logger"
)

func main() {
	// A missing .env is fine; the process environment still applies.
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := gateway.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := gw.Close(); err != nil {
			log.Warn("closing storage backend", "error", err)
		}
	}()

	srv := httpserver.New(cfg.Server.Addr, gw.Handler, gateway.WriteTimeout(cfg))

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting chatgate",
			"addr", cfg.Server.Addr,
			"storage", gw.Backend.Name,
			"mock_completion", cfg.Completion.UseMock,
			"strike_threshold", cfg.Moderation.StrikeThreshold,
			"block_duration", cfg.Moderation.BlockDuration,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
