package migrasi

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type CliConfig struct {
	Migrasi *Migrasi
	CliName string
	Out     io.Writer
}

type Cli struct {
	migrasi *Migrasi
	cliName string
	out     io.Writer
}

func NewCli(config CliConfig) (*Cli, error) {
	if config.Migrasi == nil {
		return nil, ErrMigrasiNotProvided
	}
	if config.CliName == "" {
		config.CliName = "migration"
	}
	if config.Out == nil {
		config.Out = os.Stdout
	}

	return &Cli{
		migrasi: config.Migrasi,
		cliName: config.CliName,
		out:     config.Out,
	}, nil
}

// Command builds the command tree. Every command returns its error so the
// caller can exit non-zero on a halted run.
func (c *Cli) Command(ctx context.Context) *cobra.Command {
	var statusCmd = &cobra.Command{
		Use:   "status",
		Short: "List migrations with their applied state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := c.migrasi.Status(ctx)
			if err != nil {
				return fmt.Errorf("listing migrations: %w", err)
			}
			list.Print(c.out)
			return nil
		},
	}

	var pendingCmd = &cobra.Command{
		Use:   "pending",
		Short: "List migrations that migrate would apply",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := targetFlag(cmd)
			if err != nil {
				return err
			}
			versions, err := c.migrasi.Pending(ctx, target)
			if err != nil {
				return fmt.Errorf("planning migrations: %w", err)
			}
			for _, v := range versions {
				fmt.Fprintln(c.out, v)
			}
			return nil
		},
	}
	pendingCmd.Flags().StringP("target", "t", "", "Stop at this version")

	var migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Run pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := targetFlag(cmd)
			if err != nil {
				return err
			}
			report, err := c.migrasi.MigrateUp(ctx, target)
			c.printReport(report)
			if err != nil {
				return fmt.Errorf("running migrations: %w", err)
			}
			return nil
		},
	}
	migrateCmd.Flags().StringP("target", "t", "", "Stop at this version (default: latest)")

	var rollbackCmd = &cobra.Command{
		Use:   "rollback",
		Short: "Roll back to a target version or by a number of steps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var report *Report
			var err error

			if cmd.Flags().Changed("target") {
				if raw, _ := cmd.Flags().GetString("target"); raw == "" {
					return ErrTargetRequired
				}
				target, terr := targetFlag(cmd)
				if terr != nil {
					return terr
				}
				report, err = c.migrasi.MigrateDown(ctx, target)
			} else {
				step, _ := cmd.Flags().GetInt("step")
				if step < 1 {
					return ErrInvalidRollbackStep
				}
				report, err = c.migrasi.Rollback(ctx, step)
			}

			c.printReport(report)
			if err != nil {
				return fmt.Errorf("rolling back migrations: %w", err)
			}
			return nil
		},
	}
	rollbackCmd.Flags().IntP("step", "s", 1, "Number of migrations to roll back")
	rollbackCmd.Flags().StringP("target", "t", "", "Roll back every migration newer than this version")
	rollbackCmd.MarkFlagsMutuallyExclusive("step", "target")

	var freshCmd = &cobra.Command{
		Use:   "fresh",
		Short: "Drop all tables and re-run all migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := c.migrasi.Fresh(ctx)
			c.printReport(report)
			return err
		},
	}

	var resetCmd = &cobra.Command{
		Use:   "reset",
		Short: "Roll back all migrations and re-run them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := c.migrasi.Reset(ctx)
			c.printReport(report)
			return err
		},
	}

	var cleanCmd = &cobra.Command{
		Use:   "clean",
		Short: "Clean database (delete all tables)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.migrasi.Clean(ctx)
		},
	}

	var unlockCmd = &cobra.Command{
		Use:   "unlock",
		Short: "Clear a migration lock left behind by a killed run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.migrasi.Unlock(ctx)
		},
	}

	var createCmd = &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new migration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := c.migrasi.Create(args[0])
			if err != nil {
				return fmt.Errorf("creating migration: %w", err)
			}
			fmt.Fprintln(c.out, file)
			return nil
		},
	}

	var rootCmd = &cobra.Command{
		Use:           c.cliName,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.SetOut(c.out)

	rootCmd.AddCommand(
		statusCmd,
		pendingCmd,
		migrateCmd,
		rollbackCmd,
		freshCmd,
		resetCmd,
		cleanCmd,
		unlockCmd,
		createCmd,
	)

	return rootCmd
}

// Execute runs the command line in os.Args.
func (c *Cli) Execute(ctx context.Context) error {
	return c.Command(ctx).Execute()
}

func (c *Cli) printReport(report *Report) {
	if report == nil {
		return
	}
	verb := "applied"
	if report.Direction == Down {
		verb = "rolled back"
	}
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	for _, v := range report.Applied {
		green.Fprintf(c.out, "%s %s\n", verb, v)
	}
	for _, w := range report.Warnings {
		yellow.Fprintf(c.out, "warning: %s\n", w)
	}
}

func targetFlag(cmd *cobra.Command) (Version, error) {
	raw, err := cmd.Flags().GetString("target")
	if err != nil || raw == "" {
		return VersionZero, err
	}
	if raw == "0" {
		return VersionZero, nil
	}
	return ParseVersion(raw)
}
