package cli

import (
	"database/sql"

	"github.com/spf13/cobra"

	"github.com/trailguard/audit-ledger/migrations"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long:  "Applies, rolls back, or reports the embedded SQL migrations. The serve command applies pending migrations on boot; these subcommands run them standalone.",
	}

	cmd.AddCommand(
		newMigrateStepCmd("up", "Apply all pending migrations", migrations.Up),
		newMigrateStepCmd("down", "Roll back the most recent migration", migrations.Down),
		newMigrateStepCmd("status", "Print the status of every migration", migrations.Status),
	)

	return cmd
}

func newMigrateStepCmd(use, short string, run func(*sql.DB) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}

			db, closeDB, err := openDatabase(cfg, logger)
			if err != nil {
				return err
			}
			defer closeDB()

			return run(db)
		},
	}
}
