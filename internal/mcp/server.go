// Package mcp exposes the claim automation core over the Model Context Protocol.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/claim-automation-server/internal/service"
)

// ServerInfo contains MCP server metadata
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Server represents the claim automation MCP server
type Server struct {
	info      ServerInfo
	mcpServer *mcp.Server
	tools     *ToolSet
	toolNames []string
	logger    *logrus.Logger
}

// NewServer creates an MCP server exposing core as tools.
func NewServer(core *service.Core, info ServerInfo, logger *logrus.Logger) *Server {
	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    info.Name,
		Version: info.Version,
	}, nil)

	server := &Server{
		info:      info,
		mcpServer: mcpServer,
		tools:     NewToolSet(core, logger),
		logger:    logger,
	}
	server.toolNames = server.tools.Register(mcpServer)

	logger.WithField("tool_count", len(server.toolNames)).Info("Successfully registered all tools")
	return server
}

// MCPServer returns the underlying SDK server, for registering extra tools.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}

// ToolNames returns the names of the registered tools.
func (s *Server) ToolNames() []string {
	return append([]string(nil), s.toolNames...)
}

// Run serves MCP over stdio until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.RunTransport(ctx, &mcp.StdioTransport{})
}

// RunTransport serves MCP over transport.
func (s *Server) RunTransport(ctx context.Context, transport mcp.Transport) error {
	s.logger.WithFields(logrus.Fields{
		"name":    s.info.Name,
		"version": s.info.Version,
	}).Info("Starting MCP server")

	if err := s.mcpServer.Run(ctx, transport); err != nil && ctx.Err() == nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}
