package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dronetm/upload-dispatcher/pkg/config"
	"github.com/dronetm/upload-dispatcher/pkg/logger"
	"github.com/dronetm/upload-dispatcher/pkg/service"
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	l := logger.NewStdLogger(cfg.LoggerConfig.Coloring, cfg.LoggerConfig.Level)

	// Set up context with cancellation on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := service.NewService(cfg, l)
	if err != nil {
		log.Fatalf("Failed to create upload dispatcher service: %v", err)
	}

	// Set up signal handling for graceful shutdown
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalCh
		l.Notice("Received termination signal, shutting down gracefully...")
		cancel()
	}()

	// One-shot mode: upload the manifest and exit
	if cfg.ManifestPath != "" {
		_, err := svc.RunManifest(ctx, cfg.ManifestPath)
		if closeErr := svc.Close(); closeErr != nil {
			l.Error("Failed to close dead letter file: %v", closeErr)
		}
		if err != nil {
			l.Error("Manifest upload failed: %v", err)
			os.Exit(1)
		}
		l.Info("Manifest upload complete")
		return
	}

	l.Info("Starting the upload dispatcher service...")
	if err := svc.Start(ctx); err != nil {
		l.Error("Service stopped with error: %v", err)
		os.Exit(1)
	}
}
