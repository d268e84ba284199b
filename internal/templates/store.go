// Package templates persists learned claim templates and the learning log.
// Templates are keyed by (insurance provider, service type) and are never deleted.
package templates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/claim-automation-server/internal/domain"
)

// Store defines the interface for template and learning-log storage.
type Store interface {
	// GetTemplate returns the template for the exact key, or nil when none exists.
	GetTemplate(ctx context.Context, provider, serviceType string) (*domain.ClaimTemplate, error)

	// FindTemplates returns templates for a provider ordered by success rate then
	// sample count, best first. An empty serviceType matches every service type.
	FindTemplates(ctx context.Context, provider, serviceType string, successfulOnly bool) ([]*domain.ClaimTemplate, error)

	// SaveTemplate inserts or updates the template keyed by (provider, service type).
	SaveTemplate(ctx context.Context, tmpl *domain.ClaimTemplate) error

	// ListTemplates returns all templates with pagination.
	ListTemplates(ctx context.Context, limit, offset int) ([]*domain.ClaimTemplate, error)

	// AppendLearning appends an entry to the learning log.
	AppendLearning(ctx context.Context, entry *domain.LearningLogEntry) error

	// RecentLearnings returns the newest log entries for an entity.
	RecentLearnings(ctx context.Context, entityID string, limit int) ([]*domain.LearningLogEntry, error)

	// ExportJSON writes every template and log entry to writer.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// ImportJSON loads templates and log entries. Templates whose key already
	// exists are skipped. Returns the number of imported and skipped templates.
	ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error)

	// Close closes the store and releases resources.
	Close() error
}

// Export represents the JSON export format.
type Export struct {
	Version    string                     `json:"version"`
	ExportedAt time.Time                  `json:"exported_at"`
	Count      int                        `json:"count"`
	Templates  []*domain.ClaimTemplate    `json:"templates"`
	Learnings  []*domain.LearningLogEntry `json:"learnings,omitempty"`
}

const (
	exportVersion  = "1.0"
	maxExportLimit = 1000000
)

// lister is the subset of Store used by the shared export/import helpers.
type lister interface {
	ListTemplates(ctx context.Context, limit, offset int) ([]*domain.ClaimTemplate, error)
	GetTemplate(ctx context.Context, provider, serviceType string) (*domain.ClaimTemplate, error)
	SaveTemplate(ctx context.Context, tmpl *domain.ClaimTemplate) error
	AppendLearning(ctx context.Context, entry *domain.LearningLogEntry) error
}

func exportJSON(ctx context.Context, s lister, learnings []*domain.LearningLogEntry, writer io.Writer) error {
	all, err := s.ListTemplates(ctx, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list templates: %w", err)
	}

	export := &Export{
		Version:    exportVersion,
		ExportedAt: time.Now().UTC(),
		Count:      len(all),
		Templates:  all,
		Learnings:  learnings,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

func importJSON(ctx context.Context, s lister, reader io.Reader) (imported int, skipped int, err error) {
	var export Export
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("failed to decode JSON: %w", err)
	}

	for _, tmpl := range export.Templates {
		existing, err := s.GetTemplate(ctx, tmpl.InsuranceProvider, tmpl.ServiceType)
		if err != nil {
			return imported, skipped, fmt.Errorf("failed to check existing: %w", err)
		}
		if existing != nil {
			skipped++
			continue
		}
		if err := s.SaveTemplate(ctx, tmpl); err != nil {
			return imported, skipped, fmt.Errorf("failed to save template: %w", err)
		}
		imported++
	}

	for _, entry := range export.Learnings {
		entry.ID = 0
		if err := s.AppendLearning(ctx, entry); err != nil {
			return imported, skipped, fmt.Errorf("failed to append learning: %w", err)
		}
	}

	return imported, skipped, nil
}

// jsonColumns holds the encoded JSON columns of a template row.
type jsonColumns struct {
	required  []byte
	success   []byte
	rejection []byte
}

func encodeColumns(tmpl *domain.ClaimTemplate) (jsonColumns, error) {
	var cols jsonColumns
	var err error
	if cols.required, err = json.Marshal(nonNil(tmpl.RequiredFields)); err != nil {
		return cols, fmt.Errorf("encoding required fields: %w", err)
	}
	success := tmpl.SuccessPatterns
	if success == nil {
		success = []domain.SuccessPattern{}
	}
	if cols.success, err = json.Marshal(success); err != nil {
		return cols, fmt.Errorf("encoding success patterns: %w", err)
	}
	rejection := tmpl.RejectionPatterns
	if rejection == nil {
		rejection = []domain.RejectionPattern{}
	}
	if cols.rejection, err = json.Marshal(rejection); err != nil {
		return cols, fmt.Errorf("encoding rejection patterns: %w", err)
	}
	return cols, nil
}

func (cols jsonColumns) decodeInto(tmpl *domain.ClaimTemplate) error {
	tmpl.RequiredFields = []string{}
	tmpl.SuccessPatterns = []domain.SuccessPattern{}
	tmpl.RejectionPatterns = []domain.RejectionPattern{}
	if len(cols.required) > 0 {
		if err := json.Unmarshal(cols.required, &tmpl.RequiredFields); err != nil {
			return fmt.Errorf("decoding required fields: %w", err)
		}
	}
	if len(cols.success) > 0 {
		if err := json.Unmarshal(cols.success, &tmpl.SuccessPatterns); err != nil {
			return fmt.Errorf("decoding success patterns: %w", err)
		}
	}
	if len(cols.rejection) > 0 {
		if err := json.Unmarshal(cols.rejection, &tmpl.RejectionPatterns); err != nil {
			return fmt.Errorf("decoding rejection patterns: %w", err)
		}
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
