// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rchandramouli/gweb-app/internal/config"
	"github.com/rchandramouli/gweb-app/server"
	"github.com/spf13/pflag"
)

func main() {
	cfg, err := config.Load("gweb-server", os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	components, err := server.SetupServer(ctx, cfg, logger)
	cancel()
	if err != nil {
		log.Fatalf("Failed to setup server: %v", err)
	}
	defer components.Close()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           components.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       120 * time.Second, // Avatar uploads stream slowly from mobile clients
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("Starting gweb server", "addr", httpServer.Addr, "driver", cfg.Driver)
		logger.Info("Endpoints:")
		logger.Info("  POST /                    - JSON API dispatch {\"<api>\":{...}}")
		logger.Info("  POST " + cfg.UploadPath + "       - Multipart avatar upload (id, image)")
		logger.Info("  GET  /query/<api>         - Read-only APIs from query parameters")
		logger.Info("  GET  /health              - Health check")
		logger.Info("  GET  /metrics             - Prometheus metrics")

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	logger.Info("Server exited")
}
