// Package retention deletes opt-in records that have outlived their
// configured retention, one status class at a time.
package retention

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"optin/internal/events"
	"optin/internal/optin/models"
	dErrors "optin/pkg/domain-errors"
	"optin/pkg/requestcontext"
)

var tracer = otel.Tracer("optin/internal/retention")

// Class names a sweep pass.
type Class string

const (
	ClassUnconfirmed Class = "unconfirmed"
	ClassConfirmed   Class = "confirmed"
)

// ParseClass constructs a Class from external input.
func ParseClass(s string) (Class, error) {
	c := Class(s)
	if _, ok := classStatus[c]; !ok {
		return "", dErrors.New(dErrors.CodeInvalidInput, "class must be 'unconfirmed' or 'confirmed'")
	}
	return c, nil
}

var classStatus = map[Class]models.Status{
	ClassUnconfirmed: models.StatusPending,
	ClassConfirmed:   models.StatusConfirmed,
}

// Store is the sweeper's view of the TokenStore.
type Store interface {
	DeleteByStatusOlderThan(ctx context.Context, status models.Status, cutoff time.Time) (int, error)
}

// Policy holds the retention per class. Zero or negative disables a class.
// Confirmed retention is measured from creation, not confirmation.
type Policy struct {
	Unconfirmed time.Duration
	Confirmed   time.Duration
}

// Result describes one pass.
type Result struct {
	Class       Class     `json:"class"`
	RowsDeleted int       `json:"rows_deleted"`
	Cutoff      time.Time `json:"cutoff"`
	Forced      bool      `json:"forced,omitempty"`
	Skipped     bool      `json:"skipped,omitempty"`
}

// Clock returns the instant a pass measures record age against.
type Clock func(ctx context.Context) time.Time

type Sweeper struct {
	store      Store
	dispatcher events.Dispatcher
	policy     Policy
	now        Clock
	logger     *slog.Logger
}

type Option func(*Sweeper)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

func WithClock(clock Clock) Option {
	return func(s *Sweeper) {
		if clock != nil {
			s.now = clock
		}
	}
}

func New(store Store, dispatcher events.Dispatcher, policy Policy, opts ...Option) (*Sweeper, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if dispatcher == nil {
		return nil, errors.New("event dispatcher is required")
	}
	s := &Sweeper{
		store:      store,
		dispatcher: dispatcher,
		policy:     policy,
		now:        requestcontext.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SweepUnconfirmed deletes pending records with age >= threshold.
func (s *Sweeper) SweepUnconfirmed(ctx context.Context, threshold time.Duration) (*Result, error) {
	return s.sweep(ctx, ClassUnconfirmed, threshold, false)
}

// SweepConfirmed deletes confirmed records with age since creation >= threshold.
func (s *Sweeper) SweepConfirmed(ctx context.Context, threshold time.Duration) (*Result, error) {
	return s.sweep(ctx, ClassConfirmed, threshold, false)
}

// CleanNow deletes every record of the class regardless of age or policy.
func (s *Sweeper) CleanNow(ctx context.Context, class Class) (*Result, error) {
	if _, ok := classStatus[class]; !ok {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "unknown retention class")
	}
	return s.sweep(ctx, class, 0, true)
}

// Run performs both passes with the configured policy. A failing pass does
// not stop the other; the errors are joined.
func (s *Sweeper) Run(ctx context.Context) ([]*Result, error) {
	// Both passes share one instant.
	ctx = requestcontext.WithTime(ctx, s.now(ctx))

	var (
		results []*Result
		errs    []error
	)
	for _, pass := range []struct {
		class     Class
		threshold time.Duration
	}{
		{ClassUnconfirmed, s.policy.Unconfirmed},
		{ClassConfirmed, s.policy.Confirmed},
	} {
		res, err := s.sweep(ctx, pass.class, pass.threshold, false)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

func (s *Sweeper) sweep(ctx context.Context, class Class, threshold time.Duration, forced bool) (*Result, error) {
	now := s.now(ctx)
	res := &Result{Class: class, Forced: forced}
	if !forced && threshold <= 0 {
		res.Skipped = true
		return res, nil
	}

	ctx, span := tracer.Start(ctx, "retention.Sweep")
	defer span.End()
	span.SetAttributes(
		attribute.String("retention.class", string(class)),
		attribute.Bool("retention.forced", forced),
	)

	// Forced passes use a cutoff of now, which matches every existing record.
	res.Cutoff = now
	if !forced {
		res.Cutoff = now.Add(-threshold)
	}

	n, err := s.store.DeleteByStatusOlderThan(ctx, classStatus[class], res.Cutoff)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.ErrorContext(ctx, "retention sweep failed",
			"class", class,
			"forced", forced,
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "retention sweep failed")
	}
	res.RowsDeleted = n
	span.SetAttributes(attribute.Int("retention.rows_deleted", n))

	s.logger.InfoContext(ctx, "retention sweep completed",
		"class", class,
		"rows_deleted", n,
		"cutoff", res.Cutoff,
		"forced", forced,
	)
	if n > 0 {
		s.dispatcher.Dispatch(ctx, events.Expired{
			Class:       string(class),
			RowsDeleted: n,
			Cutoff:      res.Cutoff,
			Forced:      forced,
			At:          now,
		})
	}
	return res, nil
}
