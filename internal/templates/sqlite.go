package templates

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/claim-automation-server/internal/domain"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite template store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL lets the sweep read while a learning write is in flight
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

const templateColumns = `id, insurance_provider, service_type, required_fields,
	success_patterns, rejection_patterns, success_rate, sample_count,
	is_successful, created_at, updated_at`

func scanTemplate(s scanner) (*domain.ClaimTemplate, error) {
	tmpl := &domain.ClaimTemplate{}
	var cols jsonColumns

	err := s.Scan(
		&tmpl.ID, &tmpl.InsuranceProvider, &tmpl.ServiceType, &cols.required,
		&cols.success, &cols.rejection, &tmpl.SuccessRate, &tmpl.SampleCount,
		&tmpl.IsSuccessful, &tmpl.CreatedAt, &tmpl.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := cols.decodeInto(tmpl); err != nil {
		return nil, err
	}
	return tmpl, nil
}

func scanLearning(s scanner) (*domain.LearningLogEntry, error) {
	entry := &domain.LearningLogEntry{}
	err := s.Scan(
		&entry.ID, &entry.EntityType, &entry.EntityID, &entry.LearningType,
		&entry.PatternDetected, &entry.AppliedToFutureCases, &entry.ClaimID, &entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS claim_templates (
		id TEXT PRIMARY KEY,
		insurance_provider TEXT NOT NULL,
		service_type TEXT NOT NULL,
		required_fields TEXT NOT NULL DEFAULT '[]',
		success_patterns TEXT NOT NULL DEFAULT '[]',
		rejection_patterns TEXT NOT NULL DEFAULT '[]',
		success_rate REAL NOT NULL DEFAULT 0,
		sample_count INTEGER NOT NULL DEFAULT 0,
		is_successful INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(insurance_provider, service_type)
	);

	CREATE TABLE IF NOT EXISTS learning_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		learning_type TEXT NOT NULL,
		pattern_detected TEXT NOT NULL DEFAULT '',
		applied_to_future_cases INTEGER NOT NULL DEFAULT 0,
		claim_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_claim_templates_provider ON claim_templates(insurance_provider);
	CREATE INDEX IF NOT EXISTS idx_learning_logs_entity ON learning_logs(entity_type, entity_id, created_at);
	`

	_, err := db.Exec(schema)
	return err
}

// GetTemplate returns the template for the exact key, or nil when none exists.
func (s *SQLiteStore) GetTemplate(ctx context.Context, provider, serviceType string) (*domain.ClaimTemplate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+templateColumns+`
		FROM claim_templates
		WHERE insurance_provider = ? AND service_type = ?
		LIMIT 1
	`, provider, serviceType)

	tmpl, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan template: %w", err)
	}
	return tmpl, nil
}

// FindTemplates returns matching templates, best first.
func (s *SQLiteStore) FindTemplates(ctx context.Context, provider, serviceType string, successfulOnly bool) ([]*domain.ClaimTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+templateColumns+`
		FROM claim_templates
		WHERE insurance_provider = ?
			AND (? = '' OR service_type = ?)
			AND (? = 0 OR is_successful = 1)
		ORDER BY success_rate DESC, sample_count DESC
	`, provider, serviceType, serviceType, successfulOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	return collectTemplates(rows)
}

// SaveTemplate inserts or updates the template keyed by (provider, service type).
func (s *SQLiteStore) SaveTemplate(ctx context.Context, tmpl *domain.ClaimTemplate) error {
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

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO claim_templates (
			id, insurance_provider, service_type, required_fields,
			success_patterns, rejection_patterns, success_rate, sample_count,
			is_successful, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(insurance_provider, service_type) DO UPDATE SET
			required_fields = excluded.required_fields,
			success_patterns = excluded.success_patterns,
			rejection_patterns = excluded.rejection_patterns,
			success_rate = excluded.success_rate,
			sample_count = excluded.sample_count,
			is_successful = excluded.is_successful,
			updated_at = excluded.updated_at
	`,
		tmpl.ID,
		tmpl.InsuranceProvider,
		tmpl.ServiceType,
		string(cols.required),
		string(cols.success),
		string(cols.rejection),
		tmpl.SuccessRate,
		tmpl.SampleCount,
		tmpl.IsSuccessful,
		tmpl.CreatedAt.UTC(),
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}

	// the stored row keeps its original id on conflict
	err = s.db.QueryRowContext(ctx,
		"SELECT id, created_at FROM claim_templates WHERE insurance_provider = ? AND service_type = ?",
		tmpl.InsuranceProvider, tmpl.ServiceType,
	).Scan(&tmpl.ID, &tmpl.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to read back template: %w", err)
	}
	tmpl.UpdatedAt = now
	return nil
}

// ListTemplates returns all templates with pagination.
func (s *SQLiteStore) ListTemplates(ctx context.Context, limit, offset int) ([]*domain.ClaimTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+templateColumns+`
		FROM claim_templates
		ORDER BY created_at ASC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	return collectTemplates(rows)
}

// AppendLearning appends an entry to the learning log.
func (s *SQLiteStore) AppendLearning(ctx context.Context, entry *domain.LearningLogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO learning_logs (
			entity_type, entity_id, learning_type, pattern_detected,
			applied_to_future_cases, claim_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		entry.EntityType,
		entry.EntityID,
		entry.LearningType,
		entry.PatternDetected,
		entry.AppliedToFutureCases,
		entry.ClaimID,
		entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert learning: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get insert ID: %w", err)
	}
	entry.ID = id
	return nil
}

// RecentLearnings returns the newest log entries for an entity.
func (s *SQLiteStore) RecentLearnings(ctx context.Context, entityID string, limit int) ([]*domain.LearningLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_type, entity_id, learning_type, pattern_detected,
			applied_to_future_cases, claim_id, created_at
		FROM learning_logs
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, domain.EntityInsuranceCompany, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query learnings: %w", err)
	}
	defer rows.Close()

	return collectLearnings(rows)
}

func (s *SQLiteStore) allLearnings(ctx context.Context) ([]*domain.LearningLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_type, entity_id, learning_type, pattern_detected,
			applied_to_future_cases, claim_id, created_at
		FROM learning_logs
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query learnings: %w", err)
	}
	defer rows.Close()

	return collectLearnings(rows)
}

// ExportJSON exports all templates and learnings to a JSON writer.
func (s *SQLiteStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	learnings, err := s.allLearnings(ctx)
	if err != nil {
		return err
	}
	return exportJSON(ctx, s, learnings, writer)
}

// ImportJSON imports templates and learnings from a JSON reader.
func (s *SQLiteStore) ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error) {
	return importJSON(ctx, s, reader)
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
