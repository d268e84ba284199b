package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Environment string           `mapstructure:"environment"`
	Server      ServerConfig     `mapstructure:"server"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Templates   TemplateDBConfig `mapstructure:"templates"`
	Cache       CacheConfig      `mapstructure:"cache"`
	AI          AIConfig         `mapstructure:"ai"`
	Workflow    WorkflowConfig   `mapstructure:"workflow"`
	Learning    LearningConfig   `mapstructure:"learning"`
	Monitoring  MonitoringConfig `mapstructure:"monitoring"`
	Auth        AuthConfig       `mapstructure:"auth"`
	Logging     LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// TemplateDBConfig selects the backend of the template learning store.
// Driver is "postgres" (shares the database settings) or "sqlite".
type TemplateDBConfig struct {
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// CacheConfig represents cache configuration
type CacheConfig struct {
	RedisURL      string        `mapstructure:"redis_url"`
	DefaultTTL    time.Duration `mapstructure:"default_ttl"`
	MaxRetries    int           `mapstructure:"max_retries"`
	PoolSize      int           `mapstructure:"pool_size"`
	PoolTimeout   time.Duration `mapstructure:"pool_timeout"`
	MemoryEntries int           `mapstructure:"memory_entries"`
}

// AIConfig configures the text generation service.
type AIConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Timeout     time.Duration `mapstructure:"timeout"`
	RateLimit   int           `mapstructure:"rate_limit"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
}

// WorkflowConfig configures claim generation and advancement.
type WorkflowConfig struct {
	UnitSessionCost    float64       `mapstructure:"unit_session_cost"`
	DefaultCoverage    float64       `mapstructure:"default_coverage"`
	AutoSubmitClaims   bool          `mapstructure:"auto_submit_claims"`
	AIFieldSuggestions bool          `mapstructure:"ai_field_suggestions"`
	AITimeout          time.Duration `mapstructure:"ai_timeout"`
}

// LearningConfig configures template learning.
type LearningConfig struct {
	SnippetLength       int  `mapstructure:"snippet_length"`
	MaxPatternsPerClaim int  `mapstructure:"max_patterns_per_claim"`
	SeedOnRejection     bool `mapstructure:"seed_on_rejection"`
	RecentLearnings     int  `mapstructure:"recent_learnings"`
}

// MonitoringConfig configures the attention scan and the sweep.
type MonitoringConfig struct {
	FollowUpAfter          time.Duration `mapstructure:"follow_up_after"`
	LowConfidenceThreshold float64       `mapstructure:"low_confidence_threshold"`
	MaxRejections          int           `mapstructure:"max_rejections"`
	SweepInterval          time.Duration `mapstructure:"sweep_interval"`
	AITimeout              time.Duration `mapstructure:"ai_timeout"`
}

// AuthConfig configures caller attribution. An empty secret falls back to
// trusted X-User-ID / X-User-Role headers.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// DefaultWorkflowConfig returns the workflow defaults used when nothing is configured.
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		UnitSessionCost: 200,
		DefaultCoverage: 80,
		AITimeout:       20 * time.Second,
	}
}

// DefaultLearningConfig returns the learning defaults.
func DefaultLearningConfig() LearningConfig {
	return LearningConfig{
		SnippetLength:       50,
		MaxPatternsPerClaim: 3,
		SeedOnRejection:     true,
		RecentLearnings:     5,
	}
}

// DefaultMonitoringConfig returns the monitoring defaults.
func DefaultMonitoringConfig() MonitoringConfig {
	return MonitoringConfig{
		FollowUpAfter:          7 * 24 * time.Hour,
		LowConfidenceThreshold: 70,
		MaxRejections:          2,
		AITimeout:              20 * time.Second,
	}
}

// WorkflowSettings are the runtime settings read once per workflow invocation.
type WorkflowSettings struct {
	AutoSubmitClaims bool `json:"auto_submit_claims"`
}
