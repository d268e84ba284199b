// Package setup registers the claim automation MCP server with Claude Desktop
// and reports on the local installation.
package setup

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/claim-automation-server/internal/config"
)

// ServerName is the key of the server entry in the Claude Desktop config.
const ServerName = "claim-automation"

// DataDirEnv is the environment variable the lite server reads its data directory from.
const DataDirEnv = "CLAIMS_DATA_DIR"

// ClaudeDesktopConfig represents the Claude Desktop configuration file structure.
type ClaudeDesktopConfig struct {
	MCPServers map[string]MCPServerConfig `json:"mcpServers"`
}

// MCPServerConfig represents a single MCP server configuration.
type MCPServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Options contains options for the setup process.
type Options struct {
	ServerType  string // "lite" or "full"
	BinaryPath  string
	DataDir     string
	AIAPIKey    string // forwarded as CLAIMS_AI_API_KEY when set
	AutoSubmit  bool
	AutoConfirm bool
}

// ClaudeDesktopConfigPath returns the path to Claude Desktop's config file.
func ClaudeDesktopConfigPath() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support", "Claude")
	case "linux":
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			configDir = filepath.Join(xdg, "Claude")
			break
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, ".config", "Claude")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		configDir = filepath.Join(appData, "Claude")
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	return filepath.Join(configDir, "claude_desktop_config.json"), nil
}

// LoadClaudeDesktopConfig reads the config file. A missing file yields an empty config.
func LoadClaudeDesktopConfig(configPath string) (*ClaudeDesktopConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &ClaudeDesktopConfig{MCPServers: make(map[string]MCPServerConfig)}, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg ClaudeDesktopConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.MCPServers == nil {
		cfg.MCPServers = make(map[string]MCPServerConfig)
	}
	return &cfg, nil
}

// SaveClaudeDesktopConfig writes cfg, creating the directory when needed.
func SaveClaudeDesktopConfig(configPath string, cfg *ClaudeDesktopConfig) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ConfigureClaudeDesktop adds or updates the claim automation entry in the
// Claude Desktop config of the current user.
func ConfigureClaudeDesktop(opts Options) error {
	configPath, err := ClaudeDesktopConfigPath()
	if err != nil {
		return err
	}
	return Configure(configPath, opts)
}

// Configure adds or updates the claim automation entry in the config at
// configPath. Other server entries are preserved.
func Configure(configPath string, opts Options) error {
	cfg, err := LoadClaudeDesktopConfig(configPath)
	if err != nil {
		return err
	}

	binaryPath := opts.BinaryPath
	if binaryPath == "" {
		binaryPath, err = findBinary(opts.ServerType)
		if err != nil {
			return fmt.Errorf("could not find server binary: %w", err)
		}
	}

	entry := MCPServerConfig{
		Command: binaryPath,
		Env:     make(map[string]string),
	}
	if opts.DataDir != "" {
		entry.Env[DataDirEnv] = opts.DataDir
	}
	if opts.AIAPIKey != "" {
		entry.Env["CLAIMS_AI_API_KEY"] = opts.AIAPIKey
	}
	if opts.AutoSubmit {
		entry.Env["CLAIMS_AUTO_SUBMIT"] = "true"
	}
	cfg.MCPServers[ServerName] = entry

	return SaveClaudeDesktopConfig(configPath, cfg)
}

func findBinary(serverType string) (string, error) {
	binaryName := "mcp-server-lite"
	if serverType == "full" {
		binaryName = "mcp-server"
	}

	if path, err := exec.LookPath(binaryName); err == nil {
		return path, nil
	}

	home, _ := os.UserHomeDir()
	locations := []string{
		"./" + binaryName,
		"./build/" + binaryName,
		filepath.Join(home, ".local", "bin", binaryName),
		"/usr/local/bin/" + binaryName,
	}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			if abs, err := filepath.Abs(loc); err == nil {
				return abs, nil
			}
			return loc, nil
		}
	}

	return "", fmt.Errorf("binary '%s' not found in common locations", binaryName)
}

// Status represents the current setup status.
type Status struct {
	ClaudeDesktopConfigured bool
	ClaudeDesktopPath       string
	ServerPath              string
	DataDir                 string
	ClaimsDBPresent         bool
	TemplatesDBPresent      bool
	Issues                  []string
}

// GetStatus inspects the Claude Desktop config at configPath and the data directory.
func GetStatus(configPath string) *Status {
	status := &Status{
		ClaudeDesktopPath: configPath,
		Issues:            []string{},
	}

	cfg, err := LoadClaudeDesktopConfig(configPath)
	if err != nil {
		status.Issues = append(status.Issues, fmt.Sprintf("Could not load Claude Desktop config: %v", err))
	} else if entry, ok := cfg.MCPServers[ServerName]; ok {
		status.ClaudeDesktopConfigured = true
		status.ServerPath = entry.Command
		status.DataDir = entry.Env[DataDirEnv]
		if _, err := os.Stat(entry.Command); os.IsNotExist(err) {
			status.Issues = append(status.Issues, fmt.Sprintf("Server binary not found at: %s", entry.Command))
		}
	}

	if status.DataDir == "" {
		status.DataDir = DefaultDataDir()
	}
	lite := &config.LiteConfig{DataDir: status.DataDir}
	if _, err := os.Stat(status.DataDir); os.IsNotExist(err) {
		status.Issues = append(status.Issues, fmt.Sprintf("Data directory will be created on first run: %s", status.DataDir))
	}
	status.ClaimsDBPresent = fileExists(lite.ClaimsDBPath())
	status.TemplatesDBPresent = fileExists(lite.TemplatesDBPath())

	return status
}

// Validate checks the setup recorded in the config at configPath. Issues about
// a data directory that does not exist yet are warnings only.
func Validate(configPath string) (bool, []string) {
	cfg, err := LoadClaudeDesktopConfig(configPath)
	if err != nil {
		return false, []string{fmt.Sprintf("Cannot load Claude Desktop config: %v", err)}
	}
	entry, ok := cfg.MCPServers[ServerName]
	if !ok {
		return false, []string{"Claim automation server not configured in Claude Desktop"}
	}

	var issues []string
	info, err := os.Stat(entry.Command)
	switch {
	case os.IsNotExist(err):
		issues = append(issues, fmt.Sprintf("Server binary not found: %s", entry.Command))
	case err == nil && runtime.GOOS != "windows" && info.Mode()&0111 == 0:
		issues = append(issues, fmt.Sprintf("Server binary is not executable: %s", entry.Command))
	}

	dataDir := entry.Env[DataDirEnv]
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	if _, err := os.Stat(dataDir); os.IsNotExist(err) {
		issues = append(issues, fmt.Sprintf("Data directory will be created on first run: %s", dataDir))
	}

	return allWarnings(issues), issues
}

func allWarnings(issues []string) bool {
	for _, issue := range issues {
		if !strings.Contains(issue, "will be created") {
			return false
		}
	}
	return true
}

// DefaultDataDir returns the data directory the lite server uses by default.
func DefaultDataDir() string {
	return config.DefaultLiteConfig().DataDir
}

// EnsureDataDir creates the data directory and its export directory.
func EnsureDataDir(dataDir string) error {
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	lite := &config.LiteConfig{DataDir: dataDir}
	if err := lite.EnsureDataDir(); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
