package mcp

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/claim-automation-server/internal/ai"
	litecfg "github.com/claim-automation-server/internal/config"
	"github.com/claim-automation-server/internal/domain"
	"github.com/claim-automation-server/internal/logging"
	"github.com/claim-automation-server/internal/notify"
	"github.com/claim-automation-server/internal/repository"
	"github.com/claim-automation-server/internal/service"
	"github.com/claim-automation-server/internal/templates"
)

// LiteServer is a lightweight MCP server that requires no external databases.
// Claims and clinic records live in one SQLite file, learned templates in
// another, and best-template lookups are cached in memory.
type LiteServer struct {
	config    *litecfg.LiteConfig
	server    *Server
	store     *repository.SQLiteStore
	templates templates.Store
	cache     *templates.Cache
	core      *service.Core
	generator domain.TextGenerator
	logger    *logrus.Logger
}

// LiteServerOption is a functional option for LiteServer.
type LiteServerOption func(*LiteServer) error

// WithTemplateStore sets a custom template store.
func WithTemplateStore(store templates.Store) LiteServerOption {
	return func(s *LiteServer) error {
		s.templates = store
		return nil
	}
}

// WithGenerator replaces the text generation client.
func WithGenerator(generator domain.TextGenerator) LiteServerOption {
	return func(s *LiteServer) error {
		s.generator = generator
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *logrus.Logger) LiteServerOption {
	return func(s *LiteServer) error {
		s.logger = logger
		return nil
	}
}

// NewLiteServer creates a new lightweight MCP server instance.
func NewLiteServer(cfg *litecfg.LiteConfig, opts ...LiteServerOption) (*LiteServer, error) {
	// Logs go to stderr; stdout carries the protocol
	server := &LiteServer{
		config: cfg,
		logger: logging.ForStdio(domain.LoggingConfig{
			Level:  cfg.LogLevel,
			Format: cfg.LogFormat,
		}),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	// Ensure data directory exists
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := repository.NewSQLiteStore(cfg.ClaimsDBPath(), domain.WorkflowSettings{
		AutoSubmitClaims: cfg.AutoSubmitClaims,
	}, server.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create claim store: %w", err)
	}
	server.store = store

	// Initialize template store if not provided
	if server.templates == nil {
		tmplStore, err := templates.NewSQLiteStore(cfg.TemplatesDBPath())
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to create template store: %w", err)
		}
		server.templates = tmplStore
	}

	cache, err := templates.NewCache(cfg.CacheMaxItems, cfg.CacheTTL, nil, server.logger)
	if err != nil {
		server.Close()
		return nil, fmt.Errorf("failed to create template cache: %w", err)
	}
	server.cache = cache

	if server.generator == nil {
		server.generator = ai.NewClient(cfg.AI(), server.logger)
	}

	learning := domain.DefaultLearningConfig()
	monitoring := domain.DefaultMonitoringConfig()
	monitoring.AITimeout = cfg.AITimeout

	server.core = service.NewCore(service.CoreDeps{
		Claims:    store,
		Clinic:    store,
		Settings:  store,
		Templates: server.templates,
		Cache:     cache,
		Generator: server.generator,
		Notifier:  notify.NewOutboxSink(store, server.logger),
		Logger:    server.logger,
	}, service.CoreConfig{
		Workflow:   cfg.Workflow(),
		Learning:   learning,
		Monitoring: monitoring,
	})

	server.server = NewServer(server.core, ServerInfo{
		Name:    "claim-automation-mcp-lite",
		Version: "v0.1.0",
	}, server.logger)
	server.registerLiteTools()

	server.logger.Info("Lite server initialized successfully")
	return server, nil
}

// Start serves MCP over stdio until ctx is done.
func (s *LiteServer) Start(ctx context.Context) error {
	s.logger.WithField("data_dir", s.config.DataDir).Info("Starting claim automation MCP server (lite)")
	return s.server.Run(ctx)
}

// Close cleans up server resources.
func (s *LiteServer) Close() error {
	if s.templates != nil {
		if err := s.templates.Close(); err != nil {
			s.logger.WithError(err).Error("Failed to close template store")
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.WithError(err).Error("Failed to close claim store")
		}
	}
	return nil
}

// Server returns the MCP server.
func (s *LiteServer) Server() *Server {
	return s.server
}

// Store returns the SQLite claim store for external access.
func (s *LiteServer) Store() *repository.SQLiteStore {
	return s.store
}

// GetCache returns the memory cache for external access.
func (s *LiteServer) GetCache() *templates.Cache {
	return s.cache
}
