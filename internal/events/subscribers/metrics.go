package subscribers

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"optin/internal/events"
)

// Metrics turns lifecycle events into Prometheus counters.
type Metrics struct {
	Events      *prometheus.CounterVec
	RowsExpired *prometheus.CounterVec
}

// NewMetrics registers the lifecycle counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "optin_lifecycle_events_total",
			Help: "Total number of opt-in lifecycle events by kind",
		}, []string{"kind"}),
		RowsExpired: f.NewCounterVec(prometheus.CounterOpts{
			Name: "optin_retention_rows_deleted_total",
			Help: "Total number of records removed by retention sweeps",
		}, []string{"class"}),
	}
}

func (m *Metrics) Handle(_ context.Context, event events.Event) error {
	m.Events.WithLabelValues(string(event.Kind())).Inc()
	if e, ok := event.(events.Expired); ok {
		m.RowsExpired.WithLabelValues(e.Class).Add(float64(e.RowsDeleted))
	}
	return nil
}
