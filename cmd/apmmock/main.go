package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/apm-mock/internal/agent"
	"github.com/apm-mock/internal/config"
	"github.com/apm-mock/internal/logging"
)

func main() {
	// Optional .env for local development; missing file is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	log := logging.Setup(cfg)
	log.Info("Starting APM mock agent...")

	server := agent.New(cfg, log)
	if err := server.Start(); err != nil {
		log.Fatalf("Failed to start mock agent: %v", err)
	}
	log.WithField("port", server.Port()).Info("mock agent started")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down mock agent...")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Timing.ShutdownTimeoutSec)*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		log.WithError(err).Error("mock agent shutdown error")
	}

	log.Info("Mock agent stopped")
}
