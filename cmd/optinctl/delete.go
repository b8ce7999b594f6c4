package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"optin/internal/app"
	"optin/internal/optin/models"
	"optin/pkg/requestcontext"
)

func newDeleteCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "delete <token>",
		Short: "Permanently delete one opt-in record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				return errors.New("--actor is required")
			}
			ctx := requestcontext.WithActor(cmd.Context(), actor)
			return withCore(ctx, cmd.ErrOrStderr(), func(core *app.App, _ *slog.Logger) error {
				res, err := core.Lifecycle.Delete(ctx, args[0], actor)
				if err != nil {
					return err
				}
				if res.Outcome == models.OutcomeNotFound {
					return fmt.Errorf("no opt-in record for token %q", args[0])
				}
				fmt.Fprintln(cmd.OutOrStdout(), "deleted")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "who is deleting the record (recorded in the audit log)")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count records per status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return withCore(ctx, cmd.ErrOrStderr(), func(core *app.App, _ *slog.Logger) error {
				stats, err := core.Lifecycle.Stats(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), stats)
			})
		},
	}
}
