package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"collab-canvas/internal/config"
	"collab-canvas/internal/httpapi"
	"collab-canvas/internal/logging"
	"collab-canvas/internal/room"
	"collab-canvas/internal/store"
	"collab-canvas/internal/sweeper"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := logging.Initialize(cfg.Development); err != nil {
		log.Fatalf("logging: %v", err)
	}
	defer logging.Sync()
	lg := logging.L()

	st, err := store.New(cfg.DataRoot, cfg.UploadsRoot)
	if err != nil {
		lg.Fatal("could not open store", zap.Error(err))
	}

	registry := room.NewRegistry(st, cfg.RoomIdleGrace)
	writer := store.NewWriter(registry, st, cfg.SnapshotInterval)
	sweep := sweeper.New(registry, st, cfg.RetentionHorizon, 24*time.Hour)

	srv := httpapi.NewServer(registry, st, sweep, cfg)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := writer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			lg.Warn("snapshot writer stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := sweep.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			lg.Warn("retention sweeper stopped", zap.Error(err))
		}
	}()
	go srv.CleanupIPLimiter(ctx)

	go func() {
		lg.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	lg.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		lg.Warn("graceful shutdown failed", zap.Error(err))
	}
}
