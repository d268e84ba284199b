// Package config provides configuration management for the claim automation servers.
// This file contains the lightweight configuration for standalone operation.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/claim-automation-server/internal/domain"
)

// LiteConfig is a simplified configuration for standalone operation.
// It requires no external databases and uses sensible defaults.
type LiteConfig struct {
	// Data storage
	DataDir string // Base directory for the SQLite files and exports

	// Cache settings
	CacheMaxItems int           // Maximum best-template entries in memory
	CacheTTL      time.Duration // Best-template cache TTL

	// Text generation; an empty key disables it
	AIBaseURL string
	AIAPIKey  string
	AIModel   string
	AITimeout time.Duration

	// Workflow
	UnitSessionCost    float64
	DefaultCoverage    float64
	AutoSubmitClaims   bool
	AIFieldSuggestions bool

	// Logging
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: json, text
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".claim-automation")
	workflow := domain.DefaultWorkflowConfig()

	return &LiteConfig{
		DataDir:         dataDir,
		CacheMaxItems:   256,
		CacheTTL:        10 * time.Minute,
		AIBaseURL:       "https://api.openai.com/v1",
		AIModel:         "gpt-4o-mini",
		AITimeout:       workflow.AITimeout,
		UnitSessionCost: workflow.UnitSessionCost,
		DefaultCoverage: workflow.DefaultCoverage,
		LogLevel:        "info",
		LogFormat:       "json",
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	if v := os.Getenv("CLAIMS_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	if v := os.Getenv("CLAIMS_CACHE_MAX_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CacheMaxItems = n
		}
	}
	if v := os.Getenv("CLAIMS_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CacheTTL = d
		}
	}

	if v := os.Getenv("CLAIMS_AI_BASE_URL"); v != "" {
		cfg.AIBaseURL = v
	}
	cfg.AIAPIKey = os.Getenv("CLAIMS_AI_API_KEY")
	if v := os.Getenv("CLAIMS_AI_MODEL"); v != "" {
		cfg.AIModel = v
	}
	if v := os.Getenv("CLAIMS_AI_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.AITimeout = d
		}
	}

	if v := os.Getenv("CLAIMS_UNIT_SESSION_COST"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.UnitSessionCost = f
		}
	}
	if v := os.Getenv("CLAIMS_DEFAULT_COVERAGE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 100 {
			cfg.DefaultCoverage = f
		}
	}
	if v := os.Getenv("CLAIMS_AUTO_SUBMIT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AutoSubmitClaims = b
		}
	}
	if v := os.Getenv("CLAIMS_AI_FIELD_SUGGESTIONS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AIFieldSuggestions = b
		}
	}

	if v := os.Getenv("CLAIMS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CLAIMS_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// ClaimsDBPath returns the path to the claims SQLite database.
func (c *LiteConfig) ClaimsDBPath() string {
	return filepath.Join(c.DataDir, "claims.db")
}

// TemplatesDBPath returns the path to the template learning SQLite database.
func (c *LiteConfig) TemplatesDBPath() string {
	return filepath.Join(c.DataDir, "templates.db")
}

// ExportDir returns the directory for JSON exports.
func (c *LiteConfig) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.ExportDir(), 0755)
}

// Workflow returns the workflow settings of the lite server.
func (c *LiteConfig) Workflow() domain.WorkflowConfig {
	return domain.WorkflowConfig{
		UnitSessionCost:    c.UnitSessionCost,
		DefaultCoverage:    c.DefaultCoverage,
		AutoSubmitClaims:   c.AutoSubmitClaims,
		AIFieldSuggestions: c.AIFieldSuggestions,
		AITimeout:          c.AITimeout,
	}
}

// AI returns the text generation settings of the lite server.
func (c *LiteConfig) AI() domain.AIConfig {
	return domain.AIConfig{
		BaseURL:     c.AIBaseURL,
		APIKey:      c.AIAPIKey,
		Model:       c.AIModel,
		Timeout:     c.AITimeout,
		RateLimit:   2,
		MaxTokens:   512,
		Temperature: 0.3,
	}
}
