package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts limiter decisions.
type Metrics struct {
	Allowed prometheus.Counter
	Blocked prometheus.Counter
}

// NewMetrics creates and registers the limiter metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Allowed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lifeline_ratelimit_allowed_total",
			Help: "Total number of requests allowed by the rate limiter",
		}),
		Blocked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lifeline_ratelimit_blocked_total",
			Help: "Total number of requests blocked by the rate limiter",
		}),
	}
}

func (m *Metrics) IncrementAllowed() {
	m.Allowed.Inc()
}

func (m *Metrics) IncrementBlocked() {
	m.Blocked.Inc()
}
