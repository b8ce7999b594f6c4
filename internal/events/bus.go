package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"optin/pkg/requestcontext"
)

// Dispatcher is what emitters depend on. Dispatch never fails from the
// emitter's point of view.
type Dispatcher interface {
	Dispatch(ctx context.Context, event Event)
}

// Subscriber receives lifecycle events. Returned errors are logged and
// counted by the bus, never propagated or retried.
type Subscriber interface {
	Handle(ctx context.Context, event Event) error
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context, event Event) error

func (f SubscriberFunc) Handle(ctx context.Context, event Event) error { return f(ctx, event) }

// Metrics counts delivery failures per subscriber.
type Metrics struct {
	DispatchFailures *prometheus.CounterVec
}

// NewMetrics registers bus metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		DispatchFailures: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "optin_event_dispatch_failures_total",
			Help: "Total number of lifecycle event deliveries that failed in a subscriber",
		}, []string{"subscriber", "kind"}),
	}
}

type namedSubscriber struct {
	name string
	sub  Subscriber
}

// Bus fans events out synchronously to every registered subscriber in
// registration order. Subscribers register at startup; the list is only read
// during dispatch.
type Bus struct {
	mu          sync.RWMutex
	subscribers []namedSubscriber
	logger      *slog.Logger
	metrics     *Metrics
}

type Option func(*Bus)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(b *Bus) {
		b.metrics = m
	}
}

func NewBus(opts ...Option) *Bus {
	b := &Bus{logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a named subscriber.
func (b *Bus) Subscribe(name string, sub Subscriber) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, namedSubscriber{name: name, sub: sub})
}

// Dispatch delivers event to every subscriber. A failing or panicking
// subscriber does not stop delivery to the others.
func (b *Bus) Dispatch(ctx context.Context, event Event) {
	if event == nil {
		return
	}
	b.mu.RLock()
	subs := b.subscribers
	b.mu.RUnlock()

	for _, s := range subs {
		if err := b.deliver(ctx, s, event); err != nil {
			if b.metrics != nil {
				b.metrics.DispatchFailures.WithLabelValues(s.name, string(event.Kind())).Inc()
			}
			b.logger.WarnContext(ctx, "event subscriber failed",
				"subscriber", s.name,
				"kind", event.Kind(),
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
		}
	}
}

func (b *Bus) deliver(ctx context.Context, s namedSubscriber, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return s.sub.Handle(ctx, event)
}
