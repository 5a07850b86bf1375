// Package cli implements the auditctl command tree: serving the API,
// running migrations, verifying stream hash chains, exporting events and
// minting API tokens.
package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Overridden at build time via -ldflags "-X github.com/trailguard/audit-ledger/cli.version=...".
var (
	version = "dev"
	commit  = "none"
)

// Execute runs the root command and returns the process exit code.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:   "auditctl",
		Short: "Operate the tamper-evident audit ledger",
		Long: `auditctl runs and operates the audit ledger service.

Configuration comes from environment variables (and a .env file in the
working directory when present). Use --env-file to load an additional
environment file before a command runs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if envFile == "" {
				return nil
			}
			if err := godotenv.Load(envFile); err != nil {
				return fmt.Errorf("load env file %s: %w", envFile, err)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Environment file to load before reading configuration")

	cmd.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newVerifyCmd(),
		newExportCmd(),
		newTokenCmd(),
		newVersionCmd(),
	)

	return cmd
}
