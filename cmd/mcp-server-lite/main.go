// Package main provides the lightweight entry point for the claim automation MCP server.
// This version requires no external databases and keeps its data in SQLite files.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/claim-automation-server/internal/config"
	"github.com/claim-automation-server/internal/mcp"
	"github.com/claim-automation-server/internal/setup"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "setup" {
		cli := setup.NewCLI("lite")
		if err := cli.Run(os.Args[2:]); err != nil {
			log.Fatalf("Setup failed: %v", err)
		}
		return
	}

	cfg := config.LoadLiteConfig()

	server, err := mcp.NewLiteServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create MCP server: %v", err)
	}
	defer server.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// stdout carries the protocol; diagnostics go to stderr
	if err := server.Start(ctx); err != nil {
		log.Printf("MCP server failed: %v", err)
		server.Close()
		os.Exit(1)
	}
}
