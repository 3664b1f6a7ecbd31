package apiclient

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts backend traffic. One instance is shared by every Client
// of a process; a nil *Metrics records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	retries  prometheus.Counter
	renewals *prometheus.CounterVec
}

// NewMetrics registers the client metrics with reg. A nil reg uses
// prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "panel",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Backend API responses by status class (error for transport failures).",
		}, []string{"status"}),

		retries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "panel",
			Subsystem: "api",
			Name:      "retries_total",
			Help:      "Requests re-issued after a successful session renewal.",
		}),

		renewals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "panel",
			Subsystem: "api",
			Name:      "renewals_total",
			Help:      "Session renewal attempts by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) request(status string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(status).Inc()
}

func (m *Metrics) retry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) renewal(outcome string) {
	if m == nil {
		return
	}
	m.renewals.WithLabelValues(outcome).Inc()
}
