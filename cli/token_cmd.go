package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/trailguard/audit-ledger/auth"
	"github.com/trailguard/audit-ledger/config"
)

func newTokenCmd() *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed API token",
		Long:  "Signs a bearer token for the read and workflow APIs with the configured AUTH_JWT_SECRET. The token is printed to stdout.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.New(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("AUTH_JWT_SECRET is not configured")
			}

			token, err := auth.IssueToken(cfg.Auth.JWTSecret, cfg.Auth.Issuer, subject, role, ttl)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "Token subject, e.g. a user or service identifier")
	cmd.Flags().StringVar(&role, "role", "admin", "Role claim carried by the token")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}
