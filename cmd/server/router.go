package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"optin/internal/app"
	"optin/internal/optin/handler"
	"optin/internal/platform/config"
	"optin/internal/platform/metrics"
	"optin/pkg/platform/httputil"
	"optin/pkg/platform/middleware/admin"
	"optin/pkg/platform/middleware/logging"
	"optin/pkg/platform/middleware/metadata"
	"optin/pkg/platform/middleware/requestid"
	"optin/pkg/platform/middleware/requesttime"
)

func newRouter(core *app.App, cfg *config.Config, log *slog.Logger, reg *prometheus.Registry) (http.Handler, error) {
	trusted, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(logging.Recovery(log))
	r.Use(requestid.Middleware)
	r.Use(metadata.ClientMetadata(trusted))
	r.Use(requesttime.Middleware)
	r.Use(logging.Logger(log))
	r.Use(logging.Latency(metrics.New(reg)))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := core.Ready(ctx); err != nil {
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler(reg))

	opts := []handler.Option{handler.WithLogger(log)}
	if cfg.AdminJWTSigningKey != "" {
		requireAdmin := admin.RequireAdmin(admin.NewTokens(cfg.AdminJWTSigningKey), log)
		opts = append(opts, handler.WithAdmin(requireAdmin, core.Sweeper, core.Limiter))
	}
	handler.New(core.Lifecycle, opts...).Register(r)
	return r, nil
}
