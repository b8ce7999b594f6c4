package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"optin/pkg/platform/middleware/admin"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Admin bearer tokens",
	}

	var (
		subject string
		ttl     time.Duration
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue an admin bearer token signed with ADMIN_JWT_SIGNING_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.AdminJWTSigningKey == "" {
				return errors.New("ADMIN_JWT_SIGNING_KEY is not set")
			}
			if subject == "" {
				return errors.New("--subject is required")
			}
			token, err := admin.NewTokens(cfg.AdminJWTSigningKey).Issue(subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	issue.Flags().StringVar(&subject, "subject", "", "actor name carried in the token")
	issue.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	cmd.AddCommand(issue)
	return cmd
}
