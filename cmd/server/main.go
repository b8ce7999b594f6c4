package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"optin/internal/app"
	"optin/internal/platform/config"
	"optin/internal/platform/httpserver"
	"optin/internal/platform/logger"
	"optin/internal/platform/metrics"
	"optin/internal/retention"
)

// main wires the core from configuration and runs the HTTP server, the
// retention scheduler and the rate limit window pruner until a signal arrives.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogFormat, cfg.LogLevel)
	cfg.Warn(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()
	core, err := app.New(ctx, cfg, log, reg)
	if err != nil {
		return err
	}
	defer core.Close()

	router, err := newRouter(core, cfg, log, reg)
	if err != nil {
		return err
	}
	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.InfoContext(gctx, "starting optin server", "addr", cfg.Addr)
		return httpserver.Run(gctx, srv)
	})
	g.Go(func() error {
		return retention.NewScheduler(core.Sweeper, cfg.SweepInterval, log).Run(gctx)
	})
	g.Go(func() error {
		return pruneWindows(gctx, core, cfg.RateLimitWindow(), log)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("optin server stopped")
	return nil
}

// pruneWindows drops elapsed in-process rate limit windows once per window.
func pruneWindows(ctx context.Context, core *app.App, every time.Duration, log *slog.Logger) error {
	if every <= 0 {
		every = time.Hour
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := core.Limiter.Prune(ctx)
			if err != nil {
				log.WarnContext(ctx, "prune rate limit windows failed", "error", err)
				continue
			}
			log.DebugContext(ctx, "pruned rate limit windows", "count", n)
		}
	}
}
