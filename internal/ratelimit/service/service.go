package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"optin/internal/ratelimit/metrics"
	"optin/internal/ratelimit/models"
	"optin/internal/ratelimit/store/window"
	dErrors "optin/pkg/domain-errors"
	"optin/pkg/platform/audit"
	"optin/pkg/platform/circuit"
	"optin/pkg/platform/privacy"
	"optin/pkg/requestcontext"
)

// Limits holds the per-scope allowances.
type Limits struct {
	IP    models.Limit
	Email models.Limit
}

func (l Limits) forScope(scope models.Scope) models.Limit {
	if scope == models.ScopeEmail {
		return l.Email
	}
	return l.IP
}

// Service enforces fixed-window limits per (scope, identifier). When the
// shared store fails it keeps limiting from an in-process window store until
// the breaker closes again.
type Service struct {
	store    WindowStore
	fallback *window.InMemoryStore
	breaker  *circuit.Breaker
	limits   Limits
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithFallback sets the in-process store used while the breaker is open.
func WithFallback(fallback *window.InMemoryStore) Option {
	return func(s *Service) {
		s.fallback = fallback
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(s *Service) {
		s.breaker = b
	}
}

func New(store WindowStore, limits Limits, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("window store is required")
	}
	svc := &Service{
		store:  store,
		limits: limits,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.fallback == nil {
		svc.fallback = window.New()
	}
	if svc.breaker == nil {
		svc.breaker = circuit.New("ratelimit")
	}
	return svc, nil
}

// CheckAndConsume counts one call for (scope, identifier) and reports whether
// it is allowed. Every call counts, including denied ones.
func (s *Service) CheckAndConsume(ctx context.Context, scope models.Scope, identifier string) (bool, error) {
	res, err := s.Check(ctx, scope, identifier)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

// Check is CheckAndConsume with the full window result.
func (s *Service) Check(ctx context.Context, scope models.Scope, identifier string) (*models.RateLimitResult, error) {
	if !scope.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid rate limit scope")
	}
	if strings.TrimSpace(identifier) == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "rate limit identifier is required")
	}

	limit := s.limits.forScope(scope)
	if limit.Disabled() {
		return models.Unlimited(requestcontext.Now(ctx)), nil
	}

	res, err := s.allow(ctx, models.Key(scope, identifier), limit)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordDecision(scope.String(), res.Allowed)
	}
	if !res.Allowed {
		audit.Log(ctx, s.logger, "rate_limit_exceeded",
			"scope", scope,
			"identifier", logIdentifier(scope, identifier),
			"limit", res.Limit,
			"retry_after", res.RetryAfter,
		)
	}
	return res, nil
}

func (s *Service) allow(ctx context.Context, key string, limit models.Limit) (*models.RateLimitResult, error) {
	if s.breaker.ShouldProbe() {
		res, err := s.store.Allow(ctx, key, limit.RequestsPerWindow, limit.Window)
		if err == nil {
			_, change := s.breaker.RecordSuccess()
			if change.Closed {
				s.onClosed(ctx)
			}
			return res, nil
		}

		if s.metrics != nil {
			s.metrics.IncrementStoreErrors()
		}
		_, change := s.breaker.RecordFailure()
		if change.Opened {
			s.onOpened(ctx, err)
		} else if s.logger != nil {
			s.logger.WarnContext(ctx, "rate limit store error, serving from fallback", "error", err)
		}
	}

	res, err := s.fallback.Allow(ctx, key, limit.RequestsPerWindow, limit.Window)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "rate limit check failed")
	}
	res.Degraded = true
	return res, nil
}

func (s *Service) onOpened(ctx context.Context, cause error) {
	if s.metrics != nil {
		s.metrics.SetFallbackActive(true)
	}
	if s.logger != nil {
		s.logger.ErrorContext(ctx, "rate limit circuit opened, using in-memory fallback", "error", cause)
	}
}

func (s *Service) onClosed(ctx context.Context) {
	if s.metrics != nil {
		s.metrics.SetFallbackActive(false)
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "rate limit circuit closed, primary store recovered")
	}
}

// Reset clears the counter for (scope, identifier) in both stores.
func (s *Service) Reset(ctx context.Context, scope models.Scope, identifier string) error {
	if !scope.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid rate limit scope")
	}
	key := models.Key(scope, identifier)
	_ = s.fallback.Reset(ctx, key)
	if err := s.store.Reset(ctx, key); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to reset rate limit")
	}
	audit.Log(ctx, s.logger, "rate_limit_reset",
		"scope", scope,
		"identifier", logIdentifier(scope, identifier),
	)
	return nil
}

// Prune drops elapsed windows from the in-process store and, when the
// primary store keeps rows of its own, from the primary as well.
func (s *Service) Prune(ctx context.Context) (int, error) {
	n, err := s.fallback.Prune(ctx)
	if err != nil {
		return n, err
	}
	p, ok := s.store.(windowPruner)
	if !ok {
		return n, nil
	}
	m, err := p.Prune(ctx, max(s.limits.IP.Window, s.limits.Email.Window))
	if err != nil {
		return n, dErrors.Wrap(err, dErrors.CodeInternal, "failed to prune rate limit windows")
	}
	return n + m, nil
}

// windowPruner is implemented by stores whose windows do not expire on
// their own.
type windowPruner interface {
	Prune(ctx context.Context, maxWindow time.Duration) (int, error)
}

func logIdentifier(scope models.Scope, identifier string) string {
	if scope == models.ScopeIP {
		return privacy.AnonymizeIP(identifier)
	}
	return privacy.MaskEmail(identifier)
}
