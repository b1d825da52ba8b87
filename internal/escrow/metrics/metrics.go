package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the escrow module. Fund movements
// and releases are the alertable paths; emergency executions should be
// rare enough that any spike warrants a look.
type Metrics struct {
	EscrowsCreated      prometheus.Counter
	FundsDeposited      prometheus.Counter
	MilestonesReleased  prometheus.Counter
	ReleasesRejected    prometheus.Counter
	EmergencyExecutions prometheus.Counter
	ReleaseDuration     prometheus.Histogram
}

// New creates a Metrics instance with all escrow module metrics registered.
func New() *Metrics {
	return &Metrics{
		EscrowsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lifeline_escrows_created_total",
			Help: "Total number of milestone escrows created",
		}),
		FundsDeposited: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lifeline_escrow_deposits_total",
			Help: "Total number of successful sponsor deposits",
		}),
		MilestonesReleased: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lifeline_milestones_released_total",
			Help: "Total number of milestone releases (normal path)",
		}),
		ReleasesRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lifeline_releases_rejected_total",
			Help: "Total number of rejected release attempts (ineligible, duplicate, inactive)",
		}),
		EmergencyExecutions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lifeline_emergency_executions_total",
			Help: "Total number of executed emergency releases",
		}),
		ReleaseDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lifeline_release_duration_seconds",
			Help:    "Duration of milestone release operations (fund movement critical path)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncrementEscrowsCreated records a successful escrow creation.
func (m *Metrics) IncrementEscrowsCreated() {
	m.EscrowsCreated.Inc()
}

// IncrementFundsDeposited records a successful sponsor deposit.
func (m *Metrics) IncrementFundsDeposited() {
	m.FundsDeposited.Inc()
}

// IncrementMilestonesReleased records a successful milestone release.
func (m *Metrics) IncrementMilestonesReleased() {
	m.MilestonesReleased.Inc()
}

// IncrementReleasesRejected records a rejected release attempt.
func (m *Metrics) IncrementReleasesRejected() {
	m.ReleasesRejected.Inc()
}

// IncrementEmergencyExecutions records an executed emergency release.
func (m *Metrics) IncrementEmergencyExecutions() {
	m.EmergencyExecutions.Inc()
}

// ObserveRelease records the duration of a release operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveRelease(start time.Time) {
	m.ReleaseDuration.Observe(time.Since(start).Seconds())
}
