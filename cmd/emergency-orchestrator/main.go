package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/mr1hm/go-disaster-response/internal/api"
	"github.com/mr1hm/go-disaster-response/internal/app"
	"github.com/mr1hm/go-disaster-response/internal/config"
	internalgrpc "github.com/mr1hm/go-disaster-response/internal/grpc"
	"github.com/mr1hm/go-disaster-response/internal/ingestion"
	"github.com/mr1hm/go-disaster-response/internal/logging"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("Server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)

	if cfg.Store.Driver == config.StoreSQLite && cfg.Store.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
			logging.Fatalf("Failed to create database directory: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		logging.Fatalf("Failed to initialize orchestrator: %v", err)
	}
	a.Start(ctx)

	// Feed intake, when any source is enabled
	ingestCtx, ingestCancel := context.WithCancel(ctx)
	defer ingestCancel()
	var mgr *ingestion.Manager
	if cfg.Sources.USGSEnabled || cfg.Sources.GDACSEnabled {
		mgr = ingestion.NewManager(cfg, a.Store, a.Service)
		mgr.Start(ingestCtx)
	}

	grpcServer := internalgrpc.NewServer(a.Store, a.Bus, cfg.Events.Topic)
	go func() {
		grpcAddr := fmt.Sprintf(":%d", cfg.GRPC.Port)
		if err := grpcServer.Start(grpcAddr); err != nil {
			logging.Fatalf("gRPC server error: %v", err)
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(api.NewHandler(a.Service), cfg.API)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop taking new reports before draining the workflows already running.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	ingestCancel()
	if mgr != nil {
		mgr.Stop()
	}

	// Drains running workflows, then closes the bus, which ends open streams.
	if err := a.Close(); err != nil {
		slog.Error("error closing collaborators", "error", err)
	}
	grpcServer.Stop()
	cancel()

	slog.Info("shutdown complete")
}
