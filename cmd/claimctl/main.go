// Command claimctl is the operator CLI of the claim automation server: schema
// migrations, one-off monitoring sweeps and template export/import.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/claim-automation-server/internal/app"
	"github.com/claim-automation-server/internal/config"
	"github.com/claim-automation-server/internal/database"
	"github.com/claim-automation-server/internal/logging"
)

type cli struct {
	configPath string
	manager    *config.Manager
	logger     *logrus.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:          "claimctl",
		Short:        "Operate the claim automation server",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load()
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (defaults to ./config.yaml or /etc/claim-automation)")

	root.AddCommand(c.migrateCmd(), c.sweepCmd(), c.scanCmd(), c.templatesCmd())
	return root
}

func (c *cli) load() error {
	manager, err := config.NewManagerFromFile(c.configPath)
	if err != nil {
		return err
	}
	if err := manager.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	// stdout is reserved for command output
	logger := logging.ForStdio(manager.GetConfig().Logging)

	c.manager = manager
	c.logger = logger
	return nil
}

func (c *cli) migrationRunner() (*database.MigrationRunner, error) {
	return database.NewMigrationRunner(c.manager.GetDatabaseURL(), c.manager.GetDatabaseConfig().MigrationsPath, c.logger)
}

func (c *cli) migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}

	withRunner := func(fn func(*database.MigrationRunner) error) func(*cobra.Command, []string) error {
		return func(*cobra.Command, []string) error {
			runner, err := c.migrationRunner()
			if err != nil {
				return err
			}
			defer runner.Close()
			return fn(runner)
		}
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE:  withRunner(func(r *database.MigrationRunner) error { return r.Up() }),
	}
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the latest migration",
		RunE:  withRunner(func(r *database.MigrationRunner) error { return r.Down() }),
	}
	version := &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(func(r *database.MigrationRunner) error {
				v, dirty, err := r.Version()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", v, dirty)
				return nil
			})(cmd, args)
		},
	}
	force := &cobra.Command{
		Use:   "force VERSION",
		Short: "Record VERSION as applied and clear the dirty flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q: %w", args[0], err)
			}
			return withRunner(func(r *database.MigrationRunner) error { return r.Force(v) })(cmd, args)
		},
	}

	cmd.AddCommand(up, down, version, force)
	return cmd
}

// withStack opens the stack for one command and closes it afterwards.
func (c *cli) withStack(ctx context.Context, fn func(*app.Stack) error) error {
	stack, err := app.Open(ctx, c.manager.GetConfig(), c.manager.GetDatabaseURL(), c.logger, app.Options{})
	if err != nil {
		return err
	}
	defer stack.Close()
	return fn(stack)
}

func (c *cli) sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one monitoring pass: resubmit, escalate and follow up",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withStack(cmd.Context(), func(s *app.Stack) error {
				result, err := s.Core.Sweeper.Run(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
}

func (c *cli) scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "List claims needing attention without acting on them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withStack(cmd.Context(), func(s *app.Stack) error {
				report, err := s.Core.Monitor.ScanForAttention(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}

func (c *cli) templatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Export or import learned claim templates",
	}

	var out string
	export := &cobra.Command{
		Use:   "export",
		Short: "Write every learned template and the learning log as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("creating export file: %w", err)
				}
				defer f.Close()
				w = f
			}
			return c.withStack(cmd.Context(), func(s *app.Stack) error {
				return s.Core.Learning.ExportTemplates(cmd.Context(), w)
			})
		},
	}
	export.Flags().StringVarP(&out, "out", "o", "", "output file (defaults to stdout)")

	importCmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Load templates from an export, keeping templates that already exist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening import file: %w", err)
			}
			defer f.Close()

			return c.withStack(cmd.Context(), func(s *app.Stack) error {
				imported, skipped, err := s.Core.Learning.ImportTemplates(cmd.Context(), f)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d, skipped %d\n", imported, skipped)
				return nil
			})
		},
	}

	cmd.AddCommand(export, importCmd)
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
