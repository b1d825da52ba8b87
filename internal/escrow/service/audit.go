package service

import (
	"context"
	"log/slog"

	"lifeline/internal/escrow/models"
	id "lifeline/pkg/domain"
	audit "lifeline/pkg/platform/audit"
	"lifeline/pkg/requestcontext"
)

// auditEmitter maps escrow event payloads onto the shared audit model
// and forwards them to the fail-closed publisher. Emission failures
// fail the operation; an unaudited fund movement must not commit.
type auditEmitter struct {
	logger    *slog.Logger
	publisher AuditPublisher
}

func newAuditEmitter(logger *slog.Logger, publisher AuditPublisher) *auditEmitter {
	return &auditEmitter{logger: logger, publisher: publisher}
}

func (a *auditEmitter) emit(ctx context.Context, event audit.Event) error {
	event.Timestamp = requestcontext.Now(ctx)
	event.RequestID = requestcontext.RequestID(ctx)
	event.ClientIP = requestcontext.ClientIP(ctx)
	event.ClientDevice = requestcontext.ClientDevice(ctx)
	if actor := requestcontext.SignerID(ctx); !actor.IsNil() {
		event.ActorID = actor.String()
	}

	if a.logger != nil {
		a.logger.InfoContext(ctx, event.Action,
			"event", event.Action,
			"treatment_id", event.TreatmentID,
			"request_id", event.RequestID,
			"log_type", "audit",
		)
	}
	if a.publisher == nil {
		return nil
	}
	return a.publisher.Emit(ctx, event)
}

func (a *auditEmitter) emitEscrowCreated(ctx context.Context, e models.EscrowCreated) error {
	return a.emit(ctx, audit.Event{
		Action:      string(audit.EventEscrowCreated),
		TreatmentID: e.TreatmentID,
	})
}

func (a *auditEmitter) emitEscrowFunded(ctx context.Context, e models.EscrowFunded) error {
	return a.emit(ctx, audit.Event{
		Action:      string(audit.EventEscrowFunded),
		TreatmentID: e.TreatmentID,
		Subject:     e.Sponsor.String(),
		Amount:      e.Amount,
	})
}

func (a *auditEmitter) emitVerificationSubmitted(ctx context.Context, e models.VerificationSubmitted) error {
	return a.emit(ctx, audit.Event{
		Action:      string(audit.EventVerificationSubmitted),
		TreatmentID: e.TreatmentID,
		MilestoneID: milestoneRef(e.MilestoneID),
		Subject:     e.Verifier.String(),
		Reason:      e.Type.String(),
	})
}

func (a *auditEmitter) emitMilestoneReleased(ctx context.Context, e models.MilestoneReleased) error {
	return a.emit(ctx, audit.Event{
		Action:      string(audit.EventMilestoneReleased),
		TreatmentID: e.TreatmentID,
		MilestoneID: milestoneRef(e.MilestoneID),
		Subject:     e.Caller.String(),
		Amount:      e.ReleaseAmount,
	})
}

func (a *auditEmitter) emitEmergencyConfigured(ctx context.Context, treatmentID id.TreatmentID) error {
	return a.emit(ctx, audit.Event{
		Action:      string(audit.EventEmergencyConfigured),
		TreatmentID: treatmentID,
	})
}

func (a *auditEmitter) emitEmergencyInitiated(ctx context.Context, e models.EmergencyInitiated) error {
	return a.emit(ctx, audit.Event{
		Action:      string(audit.EventEmergencyInitiated),
		TreatmentID: e.TreatmentID,
		Subject:     e.Initiator.String(),
		Reason:      e.Reason,
	})
}

func (a *auditEmitter) emitEmergencyExecuted(ctx context.Context, e models.EmergencyExecuted) error {
	return a.emit(ctx, audit.Event{
		Action:      string(audit.EventEmergencyExecuted),
		TreatmentID: e.TreatmentID,
		Subject:     e.Executor.String(),
		Amount:      e.Amount,
		Reason:      e.Destination,
	})
}

func (a *auditEmitter) emitEscrowDeactivated(ctx context.Context, e models.EscrowDeactivated) error {
	return a.emit(ctx, audit.Event{
		Action:      string(audit.EventEscrowDeactivated),
		TreatmentID: e.TreatmentID,
		Reason:      e.Reason,
	})
}

func milestoneRef(milestoneID id.MilestoneID) *id.MilestoneID {
	m := milestoneID
	return &m
}
