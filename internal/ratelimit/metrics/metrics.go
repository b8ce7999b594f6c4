package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Decisions      *prometheus.CounterVec
	StoreErrors    prometheus.Counter
	FallbackActive prometheus.Gauge
}

// New registers the rate limit metrics on reg. Pass prometheus.NewRegistry()
// in tests to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "optin_ratelimit_decisions_total",
			Help: "Rate limit decisions by scope and result",
		}, []string{"scope", "result"}),
		StoreErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "optin_ratelimit_store_errors_total",
			Help: "Errors returned by the shared rate limit store",
		}),
		FallbackActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "optin_ratelimit_fallback_active",
			Help: "1 while rate limiting is served from the in-process fallback",
		}),
	}
}

func (m *Metrics) RecordDecision(scope string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	m.Decisions.WithLabelValues(scope, result).Inc()
}

func (m *Metrics) IncrementStoreErrors() {
	m.StoreErrors.Inc()
}

func (m *Metrics) SetFallbackActive(active bool) {
	if active {
		m.FallbackActive.Set(1)
		return
	}
	m.FallbackActive.Set(0)
}
