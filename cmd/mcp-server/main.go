// Package main serves the PostgreSQL-backed claim automation core over MCP stdio.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/claim-automation-server/internal/app"
	"github.com/claim-automation-server/internal/config"
	"github.com/claim-automation-server/internal/logging"
	"github.com/claim-automation-server/internal/mcp"
	"github.com/claim-automation-server/internal/setup"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "setup" {
		if err := setup.NewCLI("full").Run(os.Args[2:]); err != nil {
			log.Fatalf("Setup failed: %v", err)
		}
		return
	}

	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger := logging.ForStdio(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stack, err := app.Open(ctx, cfg, configManager.GetDatabaseURL(), logger, app.Options{})
	if err != nil {
		logger.WithError(err).Fatal("Failed to start claim automation stack")
	}
	defer stack.Close()

	server := mcp.NewServer(stack.Core, mcp.ServerInfo{
		Name:    "claim-automation-mcp",
		Version: "v0.1.0",
	}, logger)

	if err := server.Run(ctx); err != nil {
		logger.WithError(err).Error("MCP server failed")
		return
	}
	logger.Info("MCP server stopped")
}
