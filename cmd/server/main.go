package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hermesync/hermesync/internal/core/observability/log"
	"github.com/hermesync/hermesync/internal/core/registry"
	"github.com/hermesync/hermesync/internal/core/world"
	"github.com/hermesync/hermesync/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML gateway config")
	flag.Parse()

	cfg := server.DefaultConfig()
	if *configPath != "" {
		loaded, err := server.LoadConfig(*configPath)
		if err != nil {
			log.New(log.LevelError).Fatal("failed to load config", log.Error(err))
		}
		cfg = loaded
	}
	logger := log.New(cfg.Level())

	w := world.New(world.Config{
		Registry: registry.Default(),
		Logger:   logger,
	})
	defer w.Close()

	srv := server.NewServer(cfg, w, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		logger.Fatal("failed to start gateway", log.Error(err))
	}

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM)
	<-stopCh

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop gateway", log.Error(err))
	}
	if err := w.Flush(shutdownCtx); err != nil {
		logger.Warn("events still pending at shutdown", log.Error(err))
	}
}
