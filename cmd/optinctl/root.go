package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"optin/internal/app"
	"optin/internal/platform/config"
	"optin/internal/platform/logger"
)

// loadConfig is swapped in tests.
var loadConfig = config.Load

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "optinctl",
		Short:         "Administer double opt-in records",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newMigrateCmd(),
		newSweepCmd(),
		newDeleteCmd(),
		newStatsCmd(),
		newTokenCmd(),
	)
	return root
}

// withCore loads config, wires the core and hands it to fn.
func withCore(ctx context.Context, stderr io.Writer, fn func(*app.App, *slog.Logger) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.NewWithWriter(stderr, cfg.LogFormat, cfg.LogLevel)
	core, err := app.New(ctx, cfg, log, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer core.Close()
	return fn(core, log)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
