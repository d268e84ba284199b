package templates

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/claim-automation-server/internal/domain"
)

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL template store.
// It expects the schema to already exist (created via migrations).
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL creates a new PostgreSQL template store from a connection URL.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// GetTemplate returns the template for the exact key, or nil when none exists.
func (s *PostgresStore) GetTemplate(ctx context.Context, provider, serviceType string) (*domain.ClaimTemplate, error) {
	query := `
		SELECT ` + templateColumns + `
		FROM claim_templates
		WHERE insurance_provider = $1 AND service_type = $2
		LIMIT 1
	`

	tmpl, err := scanTemplate(s.db.QueryRowContext(ctx, query, provider, serviceType))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return tmpl, nil
}

// FindTemplates returns matching templates, best first.
func (s *PostgresStore) FindTemplates(ctx context.Context, provider, serviceType string, successfulOnly bool) ([]*domain.ClaimTemplate, error) {
	query := `
		SELECT ` + templateColumns + `
		FROM claim_templates
		WHERE insurance_provider = $1
			AND ($2::text = '' OR service_type = $2)
			AND (NOT $3::boolean OR is_successful)
		ORDER BY success_rate DESC, sample_count DESC
	`

	rows, err := s.db.QueryContext(ctx, query, provider, serviceType, successfulOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to find templates: %w", err)
	}
	defer rows.Close()

	return collectTemplates(rows)
}

// SaveTemplate inserts or updates the template keyed by (provider, service type).
func (s *PostgresStore) SaveTemplate(ctx context.Context, tmpl *domain.ClaimTemplate) error {
	cols, err := encodeColumns(tmpl)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if tmpl.ID == "" {
		tmpl.ID = uuid.NewString()
	}
	if tmpl.CreatedAt.IsZero() {
		tmpl.CreatedAt = now
	}

	query := `
		INSERT INTO claim_templates (
			id, insurance_provider, service_type, required_fields,
			success_patterns, rejection_patterns, success_rate, sample_count,
			is_successful, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (insurance_provider, service_type) DO UPDATE SET
			required_fields = EXCLUDED.required_fields,
			success_patterns = EXCLUDED.success_patterns,
			rejection_patterns = EXCLUDED.rejection_patterns,
			success_rate = EXCLUDED.success_rate,
			sample_count = EXCLUDED.sample_count,
			is_successful = EXCLUDED.is_successful,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`

	err = s.db.QueryRowContext(ctx, query,
		tmpl.ID,
		tmpl.InsuranceProvider,
		tmpl.ServiceType,
		string(cols.required),
		string(cols.success),
		string(cols.rejection),
		tmpl.SuccessRate,
		tmpl.SampleCount,
		tmpl.IsSuccessful,
		tmpl.CreatedAt,
		now,
	).Scan(&tmpl.ID, &tmpl.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}

	tmpl.UpdatedAt = now
	return nil
}

// ListTemplates returns all templates with pagination.
func (s *PostgresStore) ListTemplates(ctx context.Context, limit, offset int) ([]*domain.ClaimTemplate, error) {
	query := `
		SELECT ` + templateColumns + `
		FROM claim_templates
		ORDER BY created_at ASC
		LIMIT $1 OFFSET $2
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	return collectTemplates(rows)
}

// AppendLearning appends an entry to the learning log.
func (s *PostgresStore) AppendLearning(ctx context.Context, entry *domain.LearningLogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO learning_logs (
			entity_type, entity_id, learning_type, pattern_detected,
			applied_to_future_cases, claim_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	err := s.db.QueryRowContext(ctx, query,
		entry.EntityType,
		entry.EntityID,
		entry.LearningType,
		entry.PatternDetected,
		entry.AppliedToFutureCases,
		entry.ClaimID,
		entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to append learning: %w", err)
	}
	return nil
}

// RecentLearnings returns the newest log entries for an entity.
func (s *PostgresStore) RecentLearnings(ctx context.Context, entityID string, limit int) ([]*domain.LearningLogEntry, error) {
	query := `
		SELECT id, entity_type, entity_id, learning_type, pattern_detected,
			applied_to_future_cases, claim_id, created_at
		FROM learning_logs
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, domain.EntityInsuranceCompany, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query learnings: %w", err)
	}
	defer rows.Close()

	return collectLearnings(rows)
}

// ExportJSON exports all templates and learnings to a JSON writer.
func (s *PostgresStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_type, entity_id, learning_type, pattern_detected,
			applied_to_future_cases, claim_id, created_at
		FROM learning_logs
		ORDER BY id ASC
	`)
	if err != nil {
		return fmt.Errorf("failed to query learnings: %w", err)
	}
	defer rows.Close()

	learnings, err := collectLearnings(rows)
	if err != nil {
		return err
	}
	return exportJSON(ctx, s, learnings, writer)
}

// ImportJSON imports templates and learnings from a JSON reader.
func (s *PostgresStore) ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error) {
	return importJSON(ctx, s, reader)
}

// Close closes the store and releases resources.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func collectTemplates(rows *sql.Rows) ([]*domain.ClaimTemplate, error) {
	var result []*domain.ClaimTemplate
	for rows.Next() {
		tmpl, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		result = append(result, tmpl)
	}
	return result, rows.Err()
}

func collectLearnings(rows *sql.Rows) ([]*domain.LearningLogEntry, error) {
	var result []*domain.LearningLogEntry
	for rows.Next() {
		entry, err := scanLearning(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan learning: %w", err)
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}
