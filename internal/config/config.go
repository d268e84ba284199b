package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"

	"github.com/claim-automation-server/internal/domain"
)

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v      *viper.Viper
	config *domain.Config
}

// NewManager creates a new configuration manager
func NewManager() (*Manager, error) {
	return NewManagerFromFile("")
}

// NewManagerFromFile loads configuration from an explicit file. An empty path
// searches the default locations.
func NewManagerFromFile(path string) (*Manager, error) {
	m := &Manager{v: viper.New()}
	if path != "" {
		m.v.SetConfigFile(path)
	}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	v := m.v
	if v.ConfigFileUsed() == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/claim-automation/")
	}

	// CLAIMS_DATABASE_HOST overrides database.host
	v.SetEnvPrefix("CLAIMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	m.setDefaults()

	// Read configuration file (optional - will use defaults and env vars if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values
func (m *Manager) setDefaults() {
	v := m.v
	workflow := domain.DefaultWorkflowConfig()
	learning := domain.DefaultLearningConfig()
	monitoring := domain.DefaultMonitoringConfig()

	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.request_timeout", "45s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "claims")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.migrations_path", "migrations")

	// Template store defaults
	v.SetDefault("templates.driver", "postgres")
	v.SetDefault("templates.sqlite_path", "templates.db")

	// Cache defaults; an empty redis_url keeps the cache in-process only
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.default_ttl", "10m")
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.pool_timeout", "4s")
	v.SetDefault("cache.memory_entries", 256)

	// Text generation defaults
	v.SetDefault("ai.base_url", "https://api.openai.com/v1")
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("ai.timeout", "20s")
	v.SetDefault("ai.rate_limit", 2)
	v.SetDefault("ai.max_tokens", 512)
	v.SetDefault("ai.temperature", 0.3)

	// Workflow defaults
	v.SetDefault("workflow.unit_session_cost", workflow.UnitSessionCost)
	v.SetDefault("workflow.default_coverage", workflow.DefaultCoverage)
	v.SetDefault("workflow.auto_submit_claims", false)
	v.SetDefault("workflow.ai_field_suggestions", false)
	v.SetDefault("workflow.ai_timeout", workflow.AITimeout.String())

	// Learning defaults
	v.SetDefault("learning.snippet_length", learning.SnippetLength)
	v.SetDefault("learning.max_patterns_per_claim", learning.MaxPatternsPerClaim)
	v.SetDefault("learning.seed_on_rejection", learning.SeedOnRejection)
	v.SetDefault("learning.recent_learnings", learning.RecentLearnings)

	// Monitoring defaults
	v.SetDefault("monitoring.follow_up_after", monitoring.FollowUpAfter.String())
	v.SetDefault("monitoring.low_confidence_threshold", monitoring.LowConfidenceThreshold)
	v.SetDefault("monitoring.max_rejections", monitoring.MaxRejections)
	v.SetDefault("monitoring.sweep_interval", "0s")
	v.SetDefault("monitoring.ai_timeout", monitoring.AITimeout.String())

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetDatabaseConfig returns database configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.config.Database
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if config.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if config.Database.Username == "" {
		return fmt.Errorf("database username is required")
	}

	switch config.Templates.Driver {
	case "postgres":
	case "sqlite":
		if config.Templates.SQLitePath == "" {
			return fmt.Errorf("templates.sqlite_path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("invalid template store driver: %q", config.Templates.Driver)
	}

	if config.Workflow.UnitSessionCost <= 0 {
		return fmt.Errorf("workflow.unit_session_cost must be positive: %v", config.Workflow.UnitSessionCost)
	}
	if config.Workflow.DefaultCoverage < 0 || config.Workflow.DefaultCoverage > 100 {
		return fmt.Errorf("workflow.default_coverage must be within 0..100: %v", config.Workflow.DefaultCoverage)
	}
	if config.Monitoring.MaxRejections < 0 {
		return fmt.Errorf("monitoring.max_rejections must not be negative: %d", config.Monitoring.MaxRejections)
	}
	if config.Monitoring.SweepInterval < 0 {
		return fmt.Errorf("monitoring.sweep_interval must not be negative: %s", config.Monitoring.SweepInterval)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

// GetDatabaseConnectionString returns a formatted database connection string
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// GetDatabaseURL returns the database settings as a postgres:// URL, the form
// golang-migrate expects.
func (m *Manager) GetDatabaseURL() string {
	db := m.config.Database
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(db.Username, db.Password),
		Host:     fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:     "/" + db.Database,
		RawQuery: url.Values{"sslmode": []string{db.SSLMode}}.Encode(),
	}
	return u.String()
}

// GetRedisConnectionString returns the Redis connection string
func (m *Manager) GetRedisConnectionString() string {
	return m.config.Cache.RedisURL
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.config.Environment) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(m.config.Environment)
	return env == "development" || env == "dev" || env == ""
}
