// Package app assembles the opt-in core from configuration. Both the server
// and the admin CLI build their dependencies here.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"optin/internal/events"
	"optin/internal/events/subscribers"
	"optin/internal/optin/models"
	optinservice "optin/internal/optin/service"
	optinstore "optin/internal/optin/store"
	"optin/internal/platform/config"
	"optin/internal/platform/kafka"
	"optin/internal/platform/postgres"
	"optin/internal/platform/redis"
	rlmetrics "optin/internal/ratelimit/metrics"
	rlmodels "optin/internal/ratelimit/models"
	rlservice "optin/internal/ratelimit/service"
	"optin/internal/ratelimit/store/window"
	"optin/internal/retention"
	"optin/pkg/requestcontext"
)

// OptInStore is what the lifecycle service and the sweeper share.
type OptInStore interface {
	optinservice.Store
	retention.Store
}

// App holds the wired core.
type App struct {
	Config    *config.Config
	Bus       *events.Bus
	Store     OptInStore
	Limiter   *rlservice.Service
	Lifecycle *optinservice.Service
	Sweeper   *retention.Sweeper

	closers []func()
}

// New connects the configured backends and wires the services. Without
// DATABASE_URL the records live in memory; without REDIS_URL the rate limit
// windows live in Postgres, or in memory when there is no database either.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (_ *App, err error) {
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.Bus = events.NewBus(events.WithLogger(logger), events.WithMetrics(events.NewMetrics(reg)))
	a.Bus.Subscribe("audit", subscribers.NewAuditLog(logger))
	a.Bus.Subscribe("metrics", subscribers.NewMetrics(reg))

	producer, err := kafka.NewProducer(ctx, cfg.KafkaBrokersList(), cfg.KafkaEventsTopic)
	if err != nil {
		return nil, err
	}
	if producer != nil {
		a.onClose(producer.Close)
		a.Bus.Subscribe("kafka", subscribers.NewKafka(producer, cfg.KafkaEventsTopic))
		logger.InfoContext(ctx, "publishing lifecycle events to kafka", "topic", cfg.KafkaEventsTopic)
	}

	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.onClose(func() { _ = db.Close() })
		a.Store = optinstore.NewPostgres(db)
	} else {
		logger.WarnContext(ctx, "DATABASE_URL not set; opt-in records are kept in memory")
		a.Store = optinstore.NewInMemoryStore()
	}

	windows, err := a.windowStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Limiter, err = rlservice.New(windows, rlservice.Limits{
		IP:    rlmodels.Limit{RequestsPerWindow: cfg.RateLimitIP, Window: cfg.RateLimitWindow()},
		Email: rlmodels.Limit{RequestsPerWindow: cfg.RateLimitEmail, Window: cfg.RateLimitWindow()},
	}, rlservice.WithLogger(logger), rlservice.WithMetrics(rlmetrics.New(reg)))
	if err != nil {
		return nil, err
	}

	a.Lifecycle, err = optinservice.New(a.Store, a.Limiter, a.Bus,
		optinservice.WithLogger(logger),
		optinservice.WithTokenExpiry(cfg.TokenExpiry()),
		optinservice.WithClock(requestcontext.Now),
	)
	if err != nil {
		return nil, err
	}

	a.Sweeper, err = retention.New(a.Store, a.Bus, retention.Policy{
		Unconfirmed: cfg.UnconfirmedRetention().Duration(),
		Confirmed:   cfg.ConfirmedRetention().Duration(),
	}, retention.WithLogger(logger), retention.WithClock(requestcontext.Now))
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) windowStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (rlservice.WindowStore, error) {
	rc, err := redis.New(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		a.onClose(func() { _ = rc.Close() })
		return window.NewRedis(rc.Client), nil
	}
	if cfg.DatabaseURL != "" {
		pool, err := postgres.OpenPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.onClose(pool.Close)
		return window.NewPostgres(pool), nil
	}
	logger.WarnContext(ctx, "no shared rate limit backend; windows are per process")
	return window.New(), nil
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Ready checks that the record store answers.
func (a *App) Ready(ctx context.Context) error {
	if a.Store == nil {
		return errors.New("store not initialised")
	}
	if _, err := a.Store.Count(ctx, models.StatusPending); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}
