package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/poolgate/poolgate/internal/app"
	"github.com/poolgate/poolgate/internal/config"
	"github.com/poolgate/poolgate/internal/logger"
	"github.com/poolgate/poolgate/internal/version"
	"github.com/poolgate/poolgate/pkg/profiler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfgProvider, err := config.Load()
	if err != nil {
		return err
	}
	cfg := cfgProvider.Get()

	log, level := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	log.Info(version.String())

	cfgProvider.OnReload(func(c *config.Config) {
		level.Set(logger.ParseLevel(c.Logging.Level))
		log.Info("configuration reloaded", "log_level", c.Logging.Level)
	})

	if os.Getenv("GATEWAY_PROFILER") == "1" {
		profiler.Start("localhost:19841", log)
	}

	application, err := app.New(cfgProvider, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh, err := application.Start()
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err, ok := <-errCh:
		if ok && err != nil {
			log.Error("server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return application.Stop(shutdownCtx)
}
