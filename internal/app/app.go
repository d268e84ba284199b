// Package app wires the PostgreSQL-backed claim automation stack shared by
// the HTTP server, the MCP server and the operator CLI.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/claim-automation-server/internal/ai"
	"github.com/claim-automation-server/internal/database"
	"github.com/claim-automation-server/internal/domain"
	"github.com/claim-automation-server/internal/health"
	"github.com/claim-automation-server/internal/notify"
	"github.com/claim-automation-server/internal/repository"
	"github.com/claim-automation-server/internal/service"
	"github.com/claim-automation-server/internal/templates"
)

// Options selects optional parts of the stack.
type Options struct {
	// WebSocketHub adds the live notification hub next to the outbox.
	WebSocketHub bool
	// Migrate applies pending migrations before the stores are opened.
	Migrate bool
}

// Stack is the opened claim automation stack.
type Stack struct {
	Config    *domain.Config
	DB        *database.DB
	Templates templates.Store
	Cache     *templates.Cache
	Redis     *redis.Client
	Hub       *notify.Hub
	Core      *service.Core
	Health    *health.Checker

	logger *logrus.Logger
}

// Open connects to PostgreSQL (and Redis when configured) and builds the core.
// databaseURL is the postgres:// form of the database settings.
func Open(ctx context.Context, cfg *domain.Config, databaseURL string, logger *logrus.Logger, opts Options) (*Stack, error) {
	s := &Stack{
		Config: cfg,
		Health: health.NewChecker(0, logger),
		logger: logger,
	}

	if opts.Migrate {
		if err := migrateUp(databaseURL, cfg.Database.MigrationsPath, logger); err != nil {
			return nil, err
		}
	}

	db, err := database.NewConnection(ctx, database.ConfigFromDomain(cfg.Database), logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	s.DB = db
	s.Health.Register("database", db.Health)

	if err := s.openTemplates(databaseURL); err != nil {
		s.Close()
		return nil, err
	}

	if cfg.Cache.RedisURL != "" {
		client, err := templates.NewRedisClient(ctx, cfg.Cache)
		if err != nil {
			// the memory tier still works without Redis
			logger.WithFields(logrus.Fields{
				"error": err,
			}).Warn("Redis unavailable, caching templates in memory only")
		} else {
			s.Redis = client
			s.Health.Register("redis", func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			})
		}
	}

	cache, err := templates.NewCache(cfg.Cache.MemoryEntries, cfg.Cache.DefaultTTL, s.Redis, logger)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating template cache: %w", err)
	}
	s.Cache = cache

	clinic := repository.NewClinicRepository(db.Pool, logger)
	var notifier domain.NotificationSink = notify.NewOutboxSink(clinic, logger)
	if opts.WebSocketHub {
		s.Hub = notify.NewHub(logger)
		notifier = notify.NewFanOut(notifier, s.Hub)
	}

	s.Core = service.NewCore(service.CoreDeps{
		Claims:    repository.NewClaimRepository(db.Pool, logger),
		Clinic:    clinic,
		Settings:  repository.NewSettingsRepository(db.Pool, domain.WorkflowSettings{AutoSubmitClaims: cfg.Workflow.AutoSubmitClaims}, logger),
		Templates: s.Templates,
		Cache:     cache,
		Generator: ai.NewClient(cfg.AI, logger),
		Notifier:  notifier,
		Logger:    logger,
	}, service.CoreConfig{
		Workflow:   cfg.Workflow,
		Learning:   cfg.Learning,
		Monitoring: cfg.Monitoring,
	})

	return s, nil
}

func (s *Stack) openTemplates(databaseURL string) error {
	switch s.Config.Templates.Driver {
	case "sqlite":
		store, err := templates.NewSQLiteStore(s.Config.Templates.SQLitePath)
		if err != nil {
			return fmt.Errorf("opening sqlite template store: %w", err)
		}
		s.Templates = store
	default:
		store, err := templates.NewPostgresStoreFromURL(databaseURL)
		if err != nil {
			return fmt.Errorf("opening postgres template store: %w", err)
		}
		s.Templates = store
	}
	s.logger.WithField("driver", s.Config.Templates.Driver).Info("Template store opened")
	return nil
}

func migrateUp(databaseURL, path string, logger *logrus.Logger) error {
	runner, err := database.NewMigrationRunner(databaseURL, path, logger)
	if err != nil {
		return fmt.Errorf("creating migration runner: %w", err)
	}
	defer runner.Close()

	if err := runner.Up(); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Close releases every opened resource.
func (s *Stack) Close() {
	if s.Templates != nil {
		if err := s.Templates.Close(); err != nil {
			s.logger.WithError(err).Warn("Failed to close template store")
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			s.logger.WithError(err).Warn("Failed to close Redis client")
		}
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
