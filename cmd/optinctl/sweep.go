package main

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"optin/internal/app"
	"optin/internal/retention"
)

func newSweepCmd() *cobra.Command {
	var (
		class string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run retention passes now",
		Long: `Without flags both passes run with the configured retention.
--class limits the run to one pass. --force deletes every record of the
class regardless of age and requires --class.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if force && class == "" {
				return errors.New("--force requires --class")
			}
			var c retention.Class
			if class != "" {
				parsed, err := retention.ParseClass(class)
				if err != nil {
					return err
				}
				c = parsed
			}

			ctx := cmd.Context()
			return withCore(ctx, cmd.ErrOrStderr(), func(core *app.App, _ *slog.Logger) error {
				var (
					results []*retention.Result
					err     error
				)
				switch {
				case force:
					var res *retention.Result
					res, err = core.Sweeper.CleanNow(ctx, c)
					results = append(results, res)
				case c == retention.ClassUnconfirmed:
					var res *retention.Result
					res, err = core.Sweeper.SweepUnconfirmed(ctx, core.Config.UnconfirmedRetention().Duration())
					results = append(results, res)
				case c == retention.ClassConfirmed:
					var res *retention.Result
					res, err = core.Sweeper.SweepConfirmed(ctx, core.Config.ConfirmedRetention().Duration())
					results = append(results, res)
				default:
					results, err = core.Sweeper.Run(ctx)
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), results)
			})
		},
	}
	cmd.Flags().StringVar(&class, "class", "", "unconfirmed or confirmed")
	cmd.Flags().BoolVar(&force, "force", false, "delete every record of the class now")
	return cmd
}
