package database

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/claim-automation-server/internal/domain"
)

func TestConfigURL(t *testing.T) {
	cfg := ConfigFromDomain(domain.DatabaseConfig{
		Host:            "db.internal",
		Port:            5433,
		Database:        "claims",
		Username:        "clinic",
		Password:        "p@ss word",
		SSLMode:         "require",
		MaxOpenConns:    4,
		MaxIdleConns:    10,
		ConnMaxLifetime: time.Hour,
	})

	if cfg.MinConns != 4 {
		t.Errorf("MinConns = %d, want it capped at MaxConns (4)", cfg.MinConns)
	}

	got := cfg.URL()
	for _, want := range []string{"postgres://", "db.internal:5433", "/claims", "sslmode=require", "clinic:p%40ss%20word@"} {
		if !strings.Contains(got, want) {
			t.Errorf("URL() = %q, missing %q", got, want)
		}
	}
}

func TestDatabaseConnectionAndMigrations(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate PostgreSQL container: %v", err)
		}
	}()

	host, err := pgContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := pgContainer.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	config := Config{
		Host:        host,
		Port:        port.Int(),
		Database:    "testdb",
		Username:    "testuser",
		Password:    "testpass",
		MaxConns:    10,
		MinConns:    2,
		MaxConnLife: time.Hour,
		MaxConnIdle: time.Minute * 30,
		SSLMode:     "disable",
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	db, err := NewConnection(ctx, config, logger)
	if err != nil {
		t.Fatalf("Failed to create database connection: %v", err)
	}
	defer db.Close()

	if err := db.Health(ctx); err != nil {
		t.Fatalf("Database health check failed: %v", err)
	}

	runner, err := NewMigrationRunner(config.URL(), "../../migrations", logger)
	if err != nil {
		t.Fatalf("Failed to create migration runner: %v", err)
	}
	defer runner.Close()

	if err := runner.Up(); err != nil {
		t.Fatalf("Migrations up failed: %v", err)
	}
	// a second run is a no-op
	if err := runner.Up(); err != nil {
		t.Fatalf("Repeated migrations up failed: %v", err)
	}

	version, dirty, err := runner.Version()
	if err != nil {
		t.Fatalf("Reading version failed: %v", err)
	}
	if version != 4 || dirty {
		t.Errorf("Version() = %d (dirty=%v), want 4 clean", version, dirty)
	}

	var tables int
	err = db.Pool.QueryRow(ctx, `
		SELECT count(*) FROM information_schema.tables
		WHERE table_schema = 'public'
		  AND table_name IN ('claims', 'claim_templates', 'learning_logs', 'notifications', 'system_settings')`).Scan(&tables)
	if err != nil {
		t.Fatalf("Counting tables failed: %v", err)
	}
	if tables != 5 {
		t.Errorf("found %d claim tables, want 5", tables)
	}

	if err := runner.Down(); err != nil {
		t.Fatalf("Migration down failed: %v", err)
	}
	version, _, err = runner.Version()
	if err != nil {
		t.Fatalf("Reading version failed: %v", err)
	}
	if version != 3 {
		t.Errorf("Version() after down = %d, want 3", version)
	}
}
