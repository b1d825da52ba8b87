// Package audit defines the platform's append-only event trail.
//
// Every state-changing operation emits exactly one event on success and
// none on failure. SQL-backed deployments get that guarantee from the
// transactional outbox: the event row commits in the same transaction as
// the state change, and the relay worker publishes it to Kafka afterwards.
package audit

import (
	"context"
	"time"

	id "lifeline/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal/financial significance:
	// fund movements, releases, emergency executions. These require
	// tamper-proof storage and long retention.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to monitoring and forensics:
	// authorization failures, emergency initiations, escrow deactivation.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity useful for debugging:
	// verification submissions, treatment status changes.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category    EventCategory
	Timestamp   time.Time
	TreatmentID id.TreatmentID
	MilestoneID *id.MilestoneID
	// Subject is the identity the event is about (sponsor, verifier,
	// patient) in string form.
	Subject string
	Action  string
	// Amount carries the token quantity for fund movements; zero for
	// non-monetary events.
	Amount id.Amount
	Reason string
	// ActorID tracks who performed the action when different from Subject.
	ActorID string
	// RequestID is the correlation ID from the instruction context.
	RequestID string
	ClientIP  string
	// ClientDevice is the condensed User-Agent descriptor captured by
	// the metadata middleware.
	ClientDevice string
}

// AuditEvent names every audited action.
type AuditEvent string

const (
	// Escrow events
	EventEscrowCreated         AuditEvent = "escrow_created"
	EventEscrowFunded          AuditEvent = "escrow_funded"
	EventVerificationSubmitted AuditEvent = "verification_submitted"
	EventMilestoneReleased     AuditEvent = "milestone_released"
	EventEmergencyConfigured   AuditEvent = "emergency_configured"
	EventEmergencyInitiated    AuditEvent = "emergency_initiated"
	EventEmergencyExecuted     AuditEvent = "emergency_executed"
	EventEscrowDeactivated     AuditEvent = "escrow_deactivated"

	// Treatment registry events
	EventTreatmentCreated       AuditEvent = "treatment_created"
	EventSponsorshipRecorded    AuditEvent = "sponsorship_recorded"
	EventTreatmentStatusChanged AuditEvent = "treatment_status_changed"
	EventTreatmentCompleted     AuditEvent = "treatment_completed"
	EventTreatmentCancelled     AuditEvent = "treatment_cancelled"
	EventOutcomeReported        AuditEvent = "outcome_reported"
)

// eventCategories maps each audit event to its category.
// Compliance: fund movements and irreversible transitions.
// Security: emergency path and deactivations.
// Operations: routine activity, can be sampled downstream.
var eventCategories = map[AuditEvent]EventCategory{
	EventEscrowCreated:     CategoryOperations,
	EventEscrowFunded:      CategoryCompliance,
	EventMilestoneReleased: CategoryCompliance,
	EventEmergencyExecuted: CategoryCompliance,

	EventEmergencyConfigured: CategorySecurity,
	EventEmergencyInitiated:  CategorySecurity,
	EventEscrowDeactivated:   CategorySecurity,
	EventTreatmentCancelled:  CategorySecurity,

	EventVerificationSubmitted:  CategoryOperations,
	EventTreatmentCreated:       CategoryOperations,
	EventSponsorshipRecorded:    CategoryCompliance,
	EventTreatmentStatusChanged: CategoryOperations,
	EventTreatmentCompleted:     CategoryCompliance,
	EventOutcomeReported:        CategoryCompliance,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store is the sink for audit events. The memory store keeps them
// in-process; the Postgres store writes outbox rows for the Kafka relay.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByTreatment(ctx context.Context, treatmentID id.TreatmentID) ([]Event, error)
}
