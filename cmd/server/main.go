package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/claim-automation-server/internal/api"
	"github.com/claim-automation-server/internal/app"
	"github.com/claim-automation-server/internal/config"
	"github.com/claim-automation-server/internal/logging"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stack, err := app.Open(ctx, cfg, configManager.GetDatabaseURL(), logger, app.Options{
		WebSocketHub: true,
		Migrate:      true,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to start claim automation stack")
	}
	defer stack.Close()

	go stack.Core.Sweeper.Schedule(ctx, cfg.Monitoring.SweepInterval)

	server := api.NewServer(configManager, api.Deps{
		Core:   stack.Core,
		Hub:    stack.Hub,
		Health: stack.Health.Healthy,
		Logger: logger,
	})

	logger.WithFields(logrus.Fields{
		"host":        cfg.Server.Host,
		"port":        cfg.Server.Port,
		"environment": cfg.Environment,
	}).Info("Starting claim automation server")

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Error("Server failed")
		return
	}

	logger.Info("Server stopped")
}
