package service

import (
	"context"
	"log/slog"

	"lifeline/internal/treatment/models"
	id "lifeline/pkg/domain"
	audit "lifeline/pkg/platform/audit"
	"lifeline/pkg/requestcontext"
)

// auditEmitter maps registry events onto the shared audit model and
// forwards them to the fail-closed publisher.
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

func (a *auditEmitter) emitTreatmentCreated(ctx context.Context, t *models.Treatment) error {
	return a.emit(ctx, audit.Event{
		Action:      string(audit.EventTreatmentCreated),
		TreatmentID: t.ID,
		Subject:     t.Patient.String(),
		Amount:      t.FundingTarget,
	})
}

func (a *auditEmitter) emitSponsorshipRecorded(ctx context.Context, treatmentID id.TreatmentID, sponsor id.SignerID, amount id.Amount) error {
	return a.emit(ctx, audit.Event{
		Action:      string(audit.EventSponsorshipRecorded),
		TreatmentID: treatmentID,
		Subject:     sponsor.String(),
		Amount:      amount,
	})
}

func (a *auditEmitter) emitStatusChanged(ctx context.Context, treatmentID id.TreatmentID, from, to models.TreatmentStatus) error {
	return a.emit(ctx, audit.Event{
		Action:      string(audit.EventTreatmentStatusChanged),
		TreatmentID: treatmentID,
		Reason:      string(from) + " -> " + string(to),
	})
}

func (a *auditEmitter) emitTreatmentCompleted(ctx context.Context, treatmentID id.TreatmentID) error {
	return a.emit(ctx, audit.Event{
		Action:      string(audit.EventTreatmentCompleted),
		TreatmentID: treatmentID,
	})
}

func (a *auditEmitter) emitTreatmentCancelled(ctx context.Context, treatmentID id.TreatmentID, reason string) error {
	return a.emit(ctx, audit.Event{
		Action:      string(audit.EventTreatmentCancelled),
		TreatmentID: treatmentID,
		Reason:      reason,
	})
}

func (a *auditEmitter) emitOutcomeReported(ctx context.Context, treatmentID id.TreatmentID, reporter id.SignerID, successful bool) error {
	reason := "unsuccessful"
	if successful {
		reason = "successful"
	}
	return a.emit(ctx, audit.Event{
		Action:      string(audit.EventOutcomeReported),
		TreatmentID: treatmentID,
		Subject:     reporter.String(),
		Reason:      reason,
	})
}
