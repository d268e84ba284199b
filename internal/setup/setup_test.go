package setup

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBinary(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "mcp-server-lite")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0755))
	return path
}

func TestConfigure_PreservesOtherServers(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "Claude", "claude_desktop_config.json")
	require.NoError(t, SaveClaudeDesktopConfig(configPath, &ClaudeDesktopConfig{
		MCPServers: map[string]MCPServerConfig{"other": {Command: "/bin/other"}},
	}))

	binary := writeBinary(t, dir)
	err := Configure(configPath, Options{
		BinaryPath: binary,
		DataDir:    filepath.Join(dir, "data"),
		AIAPIKey:   "sk-test",
		AutoSubmit: true,
	})
	require.NoError(t, err)

	cfg, err := LoadClaudeDesktopConfig(configPath)
	require.NoError(t, err)
	assert.Contains(t, cfg.MCPServers, "other")

	entry := cfg.MCPServers[ServerName]
	assert.Equal(t, binary, entry.Command)
	assert.Equal(t, filepath.Join(dir, "data"), entry.Env[DataDirEnv])
	assert.Equal(t, "sk-test", entry.Env["CLAIMS_AI_API_KEY"])
	assert.Equal(t, "true", entry.Env["CLAIMS_AUTO_SUBMIT"])
}

func TestLoadClaudeDesktopConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadClaudeDesktopConfig(filepath.Join(dir, "missing.json"))
	require.NoError(t, err)
	assert.NotNil(t, cfg.MCPServers)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0644))
	_, err = LoadClaudeDesktopConfig(bad)
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`{}`), 0644))
	cfg, err = LoadClaudeDesktopConfig(empty)
	require.NoError(t, err)
	assert.NotNil(t, cfg.MCPServers)
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")

	valid, issues := Validate(configPath)
	assert.False(t, valid)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0], "not configured")

	dataDir := filepath.Join(dir, "data")
	require.NoError(t, Configure(configPath, Options{BinaryPath: writeBinary(t, dir), DataDir: dataDir}))

	valid, issues = Validate(configPath)
	assert.True(t, valid, "a missing data directory is only a warning")
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0], "will be created")

	require.NoError(t, EnsureDataDir(dataDir))
	valid, issues = Validate(configPath)
	assert.True(t, valid)
	assert.Empty(t, issues)

	require.NoError(t, Configure(configPath, Options{BinaryPath: filepath.Join(dir, "gone"), DataDir: dataDir}))
	valid, issues = Validate(configPath)
	assert.False(t, valid)
	assert.Contains(t, issues[0], "binary not found")
}

func TestGetStatus(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	dataDir := filepath.Join(dir, "data")

	require.NoError(t, Configure(configPath, Options{BinaryPath: writeBinary(t, dir), DataDir: dataDir}))
	require.NoError(t, EnsureDataDir(dataDir))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "claims.db"), nil, 0644))

	status := GetStatus(configPath)
	assert.True(t, status.ClaudeDesktopConfigured)
	assert.Equal(t, dataDir, status.DataDir)
	assert.True(t, status.ClaimsDBPresent)
	assert.False(t, status.TemplatesDBPresent)
	assert.Empty(t, status.Issues)

	_, err := os.Stat(filepath.Join(dataDir, "exports"))
	assert.NoError(t, err)
}

func TestCLI_ClaudeDesktopCommand(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	binary := writeBinary(t, dir)

	cli := NewCLI("lite")
	cli.ConfigPath = configPath
	cmd := cli.Command()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs([]string{"claude-desktop", "--binary", binary, "--data-dir", dir, "-y"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "configured")

	cfg, err := LoadClaudeDesktopConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, binary, cfg.MCPServers[ServerName].Command)
}

func TestCLI_ClaudeDesktopCancelled(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")

	cli := NewCLI("lite")
	cli.ConfigPath = configPath
	cmd := cli.Command()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader("n\n"))
	cmd.SetArgs([]string{"claude-desktop", "--binary", writeBinary(t, dir)})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "cancelled")

	_, err := os.Stat(configPath)
	assert.True(t, os.IsNotExist(err))
}

func TestCLI_ValidateFailsWhenUnconfigured(t *testing.T) {
	cli := NewCLI("lite")
	cli.ConfigPath = filepath.Join(t.TempDir(), "config.json")
	cmd := cli.Command()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"validate"})
	assert.Error(t, cmd.Execute())
}
