package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/turtacn/molgfn/internal/infrastructure/database/postgres"
)

// migrationStatus is the result of "migrate status".
type migrationStatus struct {
	Version uint `json:"version"`
	Dirty   bool `json:"dirty"`
}

func (s migrationStatus) String() string {
	if s.Version == 0 {
		return "no migration applied"
	}
	return fmt.Sprintf("version %d (dirty=%t)", s.Version, s.Dirty)
}

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL results schema",
	}
	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Revert the last migrations",
		RunE: withPostgres(func(cmd *cobra.Command, conn *postgres.Connection) error {
			if err := conn.Rollback(steps); err != nil {
				return err
			}
			return PrintResult(cmd, fmt.Sprintf("reverted %d migration(s)", steps))
		}),
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to revert")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: withPostgres(func(cmd *cobra.Command, conn *postgres.Connection) error {
				if err := conn.Migrate(); err != nil {
					return err
				}
				return printStatus(cmd, conn)
			}),
		},
		down,
		&cobra.Command{
			Use:   "status",
			Short: "Show the applied schema version",
			RunE: withPostgres(func(cmd *cobra.Command, conn *postgres.Connection) error {
				return printStatus(cmd, conn)
			}),
		},
	)
	return cmd
}

func printStatus(cmd *cobra.Command, conn *postgres.Connection) error {
	version, dirty, err := conn.MigrationStatus()
	if err != nil {
		return err
	}
	return PrintResult(cmd, migrationStatus{Version: version, Dirty: dirty})
}

// withPostgres opens the configured database around fn.
func withPostgres(fn func(cmd *cobra.Command, conn *postgres.Connection) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cliCtx, err := GetCLIContext(cmd)
		if err != nil {
			return err
		}
		conn, err := postgres.NewConnection(cmd.Context(), cliCtx.Config.Postgres, cliCtx.Logger)
		if err != nil {
			return err
		}
		defer func() { _ = conn.Close() }()
		return fn(cmd, conn)
	}
}
