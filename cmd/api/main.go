package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/tippic/tippic_server/internal/config"
	"github.com/tippic/tippic_server/internal/infra"
	"github.com/tippic/tippic_server/internal/logging"
	"github.com/tippic/tippic_server/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("api exited with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("server exited cleanly")
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := infra.Connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backends.Close(logger)

	svc, err := server.BuildServices(ctx, cfg, backends.DB, backends.Cache, logger)
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}

	srv := server.New(cfg, backends.DB, backends.Cache, svc, logger)

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-srvErrCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
