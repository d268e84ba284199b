package setup

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// CLI provides the setup subcommands of the MCP server binaries.
type CLI struct {
	ServerType string // "lite" or "full"
	ConfigPath string // Claude Desktop config; resolved per OS when empty
	reader     *bufio.Reader
	out        io.Writer
}

// NewCLI creates a new setup CLI instance reading answers from stdin.
func NewCLI(serverType string) *CLI {
	return &CLI{
		ServerType: serverType,
		reader:     bufio.NewReader(os.Stdin),
		out:        os.Stdout,
	}
}

// Command returns the "setup" command tree.
func (c *CLI) Command() *cobra.Command {
	root := &cobra.Command{
		Use:   "setup",
		Short: "Register the claim automation MCP server with Claude Desktop",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			c.out = cmd.OutOrStdout()
			c.reader = bufio.NewReader(cmd.InOrStdin())
			return nil
		},
	}

	var opts Options
	desktop := &cobra.Command{
		Use:   "claude-desktop",
		Short: "Configure Claude Desktop integration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.setupClaudeDesktop(opts)
		},
	}
	desktop.Flags().StringVarP(&opts.BinaryPath, "binary", "b", "", "path to the server binary (defaults to this executable)")
	desktop.Flags().StringVarP(&opts.DataDir, "data-dir", "d", "", "data directory for the SQLite databases")
	desktop.Flags().StringVar(&opts.AIAPIKey, "ai-api-key", "", "API key of the text generation service")
	desktop.Flags().BoolVar(&opts.AutoSubmit, "auto-submit", false, "submit complete claims without manual review")
	desktop.Flags().BoolVarP(&opts.AutoConfirm, "yes", "y", false, "skip the confirmation prompt")

	root.AddCommand(
		desktop,
		&cobra.Command{
			Use:   "status",
			Short: "Show current setup status",
			RunE:  func(*cobra.Command, []string) error { return c.showStatus() },
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Validate current configuration",
			RunE:  func(*cobra.Command, []string) error { return c.validate() },
		},
		&cobra.Command{
			Use:   "wizard",
			Short: "Interactive setup wizard",
			RunE:  func(*cobra.Command, []string) error { return c.runWizard() },
		},
	)
	return root
}

// Run executes the setup command with args.
func (c *CLI) Run(args []string) error {
	cmd := c.Command()
	cmd.SetArgs(args)
	return cmd.Execute()
}

func (c *CLI) configPath() (string, error) {
	if c.ConfigPath != "" {
		return c.ConfigPath, nil
	}
	return ClaudeDesktopConfigPath()
}

func (c *CLI) confirm(prompt string, defaultYes bool) bool {
	fmt.Fprint(c.out, prompt)
	response, _ := c.reader.ReadString('\n')
	response = strings.TrimSpace(strings.ToLower(response))
	if response == "" {
		return defaultYes
	}
	return response == "y" || response == "yes"
}

func (c *CLI) ask(prompt, fallback string) string {
	fmt.Fprintf(c.out, "%s [%s]: ", prompt, fallback)
	answer, _ := c.reader.ReadString('\n')
	if answer = strings.TrimSpace(answer); answer != "" {
		return answer
	}
	return fallback
}

func (c *CLI) setupClaudeDesktop(opts Options) error {
	opts.ServerType = c.ServerType
	if opts.BinaryPath == "" {
		if execPath, err := os.Executable(); err == nil {
			opts.BinaryPath = execPath
		}
	}

	configPath, err := c.configPath()
	if err != nil {
		return err
	}

	fmt.Fprintln(c.out, "Claude Desktop Configuration")
	fmt.Fprintf(c.out, "Config file:   %s\n", configPath)
	fmt.Fprintf(c.out, "Server binary: %s\n", opts.BinaryPath)
	if opts.DataDir != "" {
		fmt.Fprintf(c.out, "Data directory: %s\n", opts.DataDir)
	}

	if !opts.AutoConfirm && !c.confirm("Proceed with configuration? [Y/n]: ", true) {
		fmt.Fprintln(c.out, "Configuration cancelled.")
		return nil
	}

	if err := Configure(configPath, opts); err != nil {
		return fmt.Errorf("failed to configure Claude Desktop: %w", err)
	}

	fmt.Fprintln(c.out, "Claude Desktop configured. Restart Claude Desktop to load the claim automation tools.")
	return nil
}

func (c *CLI) showStatus() error {
	configPath, err := c.configPath()
	if err != nil {
		return err
	}
	status := GetStatus(configPath)

	fmt.Fprintf(c.out, "Claude Desktop config: %s\n", status.ClaudeDesktopPath)
	fmt.Fprintf(c.out, "  configured:   %s\n", mark(status.ClaudeDesktopConfigured))
	if status.ServerPath != "" {
		fmt.Fprintf(c.out, "  binary:       %s\n", status.ServerPath)
	}
	fmt.Fprintf(c.out, "Data directory: %s\n", status.DataDir)
	fmt.Fprintf(c.out, "  claims db:    %s\n", mark(status.ClaimsDBPresent))
	fmt.Fprintf(c.out, "  templates db: %s\n", mark(status.TemplatesDBPresent))

	for _, issue := range status.Issues {
		fmt.Fprintf(c.out, "! %s\n", issue)
	}
	return nil
}

func (c *CLI) validate() error {
	configPath, err := c.configPath()
	if err != nil {
		return err
	}
	valid, issues := Validate(configPath)
	for _, issue := range issues {
		fmt.Fprintf(c.out, "  - %s\n", issue)
	}
	if !valid {
		return fmt.Errorf("configuration has %d issue(s)", len(issues))
	}
	fmt.Fprintln(c.out, "Configuration is valid.")
	return nil
}

func (c *CLI) runWizard() error {
	configPath, err := c.configPath()
	if err != nil {
		return err
	}

	status := GetStatus(configPath)
	if status.ClaudeDesktopConfigured && !c.confirm("Claude Desktop is already configured. Reconfigure? [y/N]: ", false) {
		fmt.Fprintln(c.out, "Setup complete.")
		return nil
	}

	execPath, _ := os.Executable()
	opts := Options{
		ServerType: c.ServerType,
		BinaryPath: c.ask("Server binary path", execPath),
		DataDir:    c.ask("Data directory", DefaultDataDir()),
	}
	if _, err := os.Stat(opts.BinaryPath); os.IsNotExist(err) &&
		!c.confirm(fmt.Sprintf("Binary not found at %s. Continue anyway? [y/N]: ", opts.BinaryPath), false) {
		return fmt.Errorf("setup cancelled")
	}
	opts.AIAPIKey = c.ask("Text generation API key (empty disables AI suggestions)", "")
	opts.AutoSubmit = c.confirm("Submit complete claims automatically? [y/N]: ", false)

	if err := Configure(configPath, opts); err != nil {
		return fmt.Errorf("failed to configure: %w", err)
	}
	if err := EnsureDataDir(opts.DataDir); err != nil {
		fmt.Fprintf(c.out, "Warning: could not create data directory: %v\n", err)
	}

	fmt.Fprintln(c.out, "Setup complete. Restart Claude Desktop, then ask it to generate a claim from a treatment plan.")
	return nil
}

func mark(ok bool) string {
	if ok {
		return "yes"
	}
	return "no"
}
