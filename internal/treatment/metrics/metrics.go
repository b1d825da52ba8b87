package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the treatment registry.
type Metrics struct {
	TreatmentsCreated    prometheus.Counter
	SponsorshipsRecorded prometheus.Counter
	TreatmentsCompleted  prometheus.Counter
	TreatmentsCancelled  prometheus.Counter
	OutcomesReported     prometheus.Counter
	SponsorshipDuration  prometheus.Histogram
}

// New creates a Metrics instance with all treatment module metrics registered.
func New() *Metrics {
	return &Metrics{
		TreatmentsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lifeline_treatments_created_total",
			Help: "Total number of treatments registered",
		}),
		SponsorshipsRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lifeline_sponsorships_recorded_total",
			Help: "Total number of recorded sponsorships",
		}),
		TreatmentsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lifeline_treatments_completed_total",
			Help: "Total number of treatments that reached completion",
		}),
		TreatmentsCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lifeline_treatments_cancelled_total",
			Help: "Total number of cancelled treatments",
		}),
		OutcomesReported: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lifeline_outcomes_reported_total",
			Help: "Total number of patient outcome reports",
		}),
		SponsorshipDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lifeline_sponsorship_duration_seconds",
			Help:    "Duration of sponsorship recording (includes the escrow deposit)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncrementTreatmentsCreated records a successful treatment registration.
func (m *Metrics) IncrementTreatmentsCreated() {
	m.TreatmentsCreated.Inc()
}

// IncrementSponsorshipsRecorded records a successful sponsorship.
func (m *Metrics) IncrementSponsorshipsRecorded() {
	m.SponsorshipsRecorded.Inc()
}

// IncrementTreatmentsCompleted records a treatment completion.
func (m *Metrics) IncrementTreatmentsCompleted() {
	m.TreatmentsCompleted.Inc()
}

// IncrementTreatmentsCancelled records a treatment cancellation.
func (m *Metrics) IncrementTreatmentsCancelled() {
	m.TreatmentsCancelled.Inc()
}

// IncrementOutcomesReported records a patient outcome report.
func (m *Metrics) IncrementOutcomesReported() {
	m.OutcomesReported.Inc()
}

// ObserveSponsorship records the duration of a sponsorship operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveSponsorship(start time.Time) {
	m.SponsorshipDuration.Observe(time.Since(start).Seconds())
}
