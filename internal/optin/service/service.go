package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"optin/internal/events"
	"optin/internal/optin/models"
	rlmodels "optin/internal/ratelimit/models"
	dErrors "optin/pkg/domain-errors"
	"optin/pkg/email"
	"optin/pkg/platform/audit"
	"optin/pkg/platform/privacy"
	"optin/pkg/platform/sentinel"
	"optin/pkg/requestcontext"
)

const maxTokenAttempts = 5

var tracer = otel.Tracer("optin/internal/optin/service")

// Service is the opt-in lifecycle state machine. It is the only writer of
// record status.
type Service struct {
	store       Store
	limiter     RateLimiter
	dispatcher  events.Dispatcher
	tokenExpiry time.Duration
	newToken    TokenGenerator
	now         Clock
	logger      *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithTokenExpiry sets how long a pending record stays confirmable.
// Zero disables expiry.
func WithTokenExpiry(d time.Duration) Option {
	return func(s *Service) {
		s.tokenExpiry = d
	}
}

func WithTokenGenerator(gen TokenGenerator) Option {
	return func(s *Service) {
		if gen != nil {
			s.newToken = gen
		}
	}
}

func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.now = clock
		}
	}
}

func New(store Store, limiter RateLimiter, dispatcher events.Dispatcher, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if limiter == nil {
		return nil, errors.New("rate limiter is required")
	}
	if dispatcher == nil {
		return nil, errors.New("event dispatcher is required")
	}
	svc := &Service{
		store:       store,
		limiter:     limiter,
		dispatcher:  dispatcher,
		tokenExpiry: 48 * time.Hour,
		newToken:    NewToken,
		now:         requestcontext.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Create rate-limits the submission per IP then per email and persists a
// pending record under a fresh token. A denial persists nothing.
func (s *Service) Create(ctx context.Context, sub models.Submission) (_ *models.Result, err error) {
	ctx, span := tracer.Start(ctx, "optin.Create", trace.WithAttributes(attribute.String("optin.form_ref", sub.FormRef)))
	defer func() { endSpan(span, err) }()

	addr, err := email.Normalize(sub.Email)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(sub.FormRef) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "form reference is required")
	}

	for _, check := range []struct {
		scope rlmodels.Scope
		id    string
	}{
		{rlmodels.ScopeIP, sub.IP},
		{rlmodels.ScopeEmail, addr},
	} {
		if check.id == "" {
			continue
		}
		allowed, err := s.limiter.CheckAndConsume(ctx, check.scope, check.id)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "rate limit check failed")
		}
		if !allowed {
			audit.Log(ctx, s.logger, "optin_rate_limited",
				"scope", check.scope,
				"form_ref", sub.FormRef,
				"ip", privacy.AnonymizeIP(sub.IP),
			)
			span.SetAttributes(attribute.String("optin.outcome", string(models.OutcomeRateLimited)))
			return &models.Result{Outcome: models.OutcomeRateLimited, Scope: check.scope.String()}, nil
		}
	}

	now := s.now(ctx)
	rec := &models.OptInRecord{
		ID:              uuid.NewString(),
		FormRef:         sub.FormRef,
		Status:          models.StatusPending,
		Email:           addr,
		CreatedAt:       now,
		UpdatedAt:       now,
		IPAtCreate:      sub.IP,
		ConsentSnapshot: sub.ConsentSnapshot,
		ContentSnapshot: sub.Content,
		Files:           sub.Files,
		CategoryRef:     sub.Category,
	}

	if err := s.insertWithFreshToken(ctx, rec); err != nil {
		return nil, err
	}

	s.dispatcher.Dispatch(ctx, events.Created{
		RecordID: rec.ID,
		FormRef:  rec.FormRef,
		Email:    rec.Email,
		Token:    rec.Token,
		At:       now,
	})
	return &models.Result{Outcome: models.OutcomeCreated, Record: rec.Clone()}, nil
}

func (s *Service) insertWithFreshToken(ctx context.Context, rec *models.OptInRecord) error {
	for attempt := 1; attempt <= maxTokenAttempts; attempt++ {
		token, err := s.newToken()
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate token")
		}
		rec.Token = token
		ok, err := s.store.Put(ctx, rec, nil)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save opt-in record")
		}
		if ok {
			return nil
		}
		if s.logger != nil {
			s.logger.WarnContext(ctx, "token collision, regenerating", "attempt", attempt)
		}
	}
	return dErrors.New(dErrors.CodeConflict, "could not allocate a unique token")
}

// Confirm moves a pending, unexpired record to confirmed. The status check
// and the write are one compare-and-set, so concurrent confirms of one token
// produce exactly one Confirmed outcome and one Confirmed event.
func (s *Service) Confirm(ctx context.Context, token string) (_ *models.Result, err error) {
	ctx, span := tracer.Start(ctx, "optin.Confirm")
	defer func() { endSpan(span, err) }()

	rec, err := s.load(ctx, token)
	if err != nil || rec == nil {
		return notFound(err)
	}

	now := s.now(ctx)
	switch rec.Status {
	case models.StatusPending:
		if rec.IsExpired(now, s.tokenExpiry) {
			span.SetAttributes(attribute.String("optin.outcome", string(models.OutcomeExpired)))
			return &models.Result{Outcome: models.OutcomeExpired, Record: rec}, nil
		}
	default:
		return &models.Result{Outcome: models.OutcomeAlreadyConfirmed, Record: rec}, nil
	}

	ip := requestcontext.ClientIP(ctx)
	next := rec.Clone()
	next.Status = models.StatusConfirmed
	next.UpdatedAt = now
	next.IPAtConfirm = ip

	ok, err := s.store.Put(ctx, next, models.StatusPending.Ptr())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to confirm opt-in")
	}
	if !ok {
		// Lost the race to another confirm, or the sweeper got there first.
		current, err := s.load(ctx, token)
		if err != nil || current == nil {
			return notFound(err)
		}
		return &models.Result{Outcome: models.OutcomeAlreadyConfirmed, Record: current}, nil
	}

	s.dispatcher.Dispatch(ctx, events.Confirmed{
		RecordID: next.ID,
		Token:    next.Token,
		Email:    next.Email,
		IP:       ip,
		At:       now,
	})
	return &models.Result{Outcome: models.OutcomeConfirmed, Record: next}, nil
}

// OptOut withdraws a confirmed opt-in.
func (s *Service) OptOut(ctx context.Context, token string) (_ *models.Result, err error) {
	ctx, span := tracer.Start(ctx, "optin.OptOut")
	defer func() { endSpan(span, err) }()

	rec, err := s.load(ctx, token)
	if err != nil || rec == nil {
		return notFound(err)
	}
	if rec.Status != models.StatusConfirmed {
		return &models.Result{Outcome: models.OutcomeNotConfirmed, Record: rec}, nil
	}

	now := s.now(ctx)
	next := rec.Clone()
	next.Status = models.StatusOptedOut
	next.UpdatedAt = now
	next.OptedOutAt = &now
	next.IPAtOptOut = requestcontext.ClientIP(ctx)

	ok, err := s.store.Put(ctx, next, models.StatusConfirmed.Ptr())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to opt out")
	}
	if !ok {
		current, err := s.load(ctx, token)
		if err != nil || current == nil {
			return notFound(err)
		}
		return &models.Result{Outcome: models.OutcomeNotConfirmed, Record: current}, nil
	}

	s.dispatcher.Dispatch(ctx, events.OptedOut{
		RecordID: next.ID,
		Token:    next.Token,
		At:       now,
	})
	return &models.Result{Outcome: models.OutcomeOptedOut, Record: next}, nil
}

// Delete removes a record regardless of status. The token is retired.
func (s *Service) Delete(ctx context.Context, token, actor string) (_ *models.Result, err error) {
	ctx, span := tracer.Start(ctx, "optin.Delete")
	defer func() { endSpan(span, err) }()

	if token == "" {
		return &models.Result{Outcome: models.OutcomeNotFound}, nil
	}
	ok, err := s.store.DeleteByToken(ctx, token)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete opt-in")
	}
	if !ok {
		return &models.Result{Outcome: models.OutcomeNotFound}, nil
	}

	s.dispatcher.Dispatch(ctx, events.Deleted{
		Token:  token,
		Reason: events.ReasonManual,
		Actor:  actor,
		At:     s.now(ctx),
	})
	return &models.Result{Outcome: models.OutcomeDeleted}, nil
}

// Get looks a record up without changing it.
func (s *Service) Get(ctx context.Context, token string) (*models.OptInRecord, error) {
	rec, err := s.load(ctx, token)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "opt-in not found")
	}
	return rec, nil
}

// FindByEmail lists records for a normalized address, optionally filtered by status.
func (s *Service) FindByEmail(ctx context.Context, raw string, status *models.Status) ([]*models.OptInRecord, error) {
	addr, err := email.Normalize(raw)
	if err != nil {
		return nil, err
	}
	recs, err := s.store.FindByEmail(ctx, addr, status)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to find opt-ins by email")
	}
	return recs, nil
}

// IsConfirmed reports whether a confirmed opt-in exists for the address.
func (s *Service) IsConfirmed(ctx context.Context, raw string) (bool, error) {
	recs, err := s.FindByEmail(ctx, raw, models.StatusConfirmed.Ptr())
	if err != nil {
		return false, err
	}
	return len(recs) > 0, nil
}

// Stats counts records per stored status.
func (s *Service) Stats(ctx context.Context) (map[models.Status]int, error) {
	out := make(map[models.Status]int, 3)
	for _, st := range []models.Status{models.StatusPending, models.StatusConfirmed, models.StatusOptedOut} {
		n, err := s.store.Count(ctx, st)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count opt-ins")
		}
		out[st] = n
	}
	return out, nil
}

// load returns (nil, nil) for an unknown token so callers can tell absence
// from store failure.
func (s *Service) load(ctx context.Context, token string) (*models.OptInRecord, error) {
	if token == "" {
		return nil, nil
	}
	rec, err := s.store.Get(ctx, token)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load opt-in")
	}
	return rec, nil
}

func notFound(err error) (*models.Result, error) {
	if err != nil {
		return nil, err
	}
	return &models.Result{Outcome: models.OutcomeNotFound}, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
