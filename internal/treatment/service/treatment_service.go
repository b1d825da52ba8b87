package service

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	escrowmodels "lifeline/internal/escrow/models"
	"lifeline/internal/treatment/models"
	id "lifeline/pkg/domain"
	dErrors "lifeline/pkg/domain-errors"
	"lifeline/pkg/requestcontext"
)

// TreatmentDetails is the combined read model: the registry aggregate
// plus the escrow's financial summary.
type TreatmentDetails struct {
	Treatment *models.Treatment    `json:"treatment"`
	Escrow    escrowmodels.Summary `json:"escrow"`
}

// Create registers a new treatment case and provisions its escrow. The
// escrow beneficiary is fixed to the patient here; nothing downstream
// can redirect releases.
func (s *Service) Create(ctx context.Context, patient, facility id.SignerID, description string, fundingTarget id.Amount, milestones []models.MilestoneDefinition) (*models.Treatment, error) {
	ctx, span := s.tracer.Start(ctx, "treatment.Create")
	defer span.End()

	now := requestcontext.Now(ctx)
	treatmentID := id.NewTreatmentID()

	treatment, err := models.NewTreatment(treatmentID, patient, facility, description, fundingTarget, milestones, now)
	if err != nil {
		var dErr *dErrors.Error
		if errors.As(err, &dErr) && dErr.Code == dErrors.CodeInvariantViolation {
			return nil, dErrors.New(dErrors.CodeValidation, dErr.Message)
		}
		return nil, err
	}

	releases := make([]escrowmodels.MilestoneRelease, 0, len(milestones))
	for _, m := range milestones {
		release, err := escrowmodels.NewMilestoneRelease(m.Number, m.ReleaseAmount, m.Requirements)
		if err != nil {
			return nil, err
		}
		releases = append(releases, release)
	}

	if _, err := s.escrow.Create(ctx, treatmentID, patient, releases); err != nil {
		return nil, err
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.treatments.Create(ctx, treatment); err != nil {
			return wrapTreatmentErr(err)
		}
		return s.auditEmitter.emitTreatmentCreated(ctx, treatment)
	})
	if err != nil {
		// The escrow already exists. Deactivate it so the orphan cannot
		// accept funds; failure here leaves an inactive-in-spirit escrow
		// that operations must clean up.
		if _, dErr := s.escrow.Deactivate(ctx, treatmentID, "treatment registration failed"); dErr != nil && s.logger != nil {
			s.logger.ErrorContext(ctx, "CRITICAL: orphaned escrow could not be deactivated",
				"treatment_id", treatmentID,
				"error", dErr,
			)
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrementTreatmentsCreated()
	}
	return treatment, nil
}

// RecordSponsorship deposits the sponsor's funds into the escrow vault
// and appends the sponsor to the treatment's roll. The sponsor is the
// signer of the current request.
func (s *Service) RecordSponsorship(ctx context.Context, treatmentID id.TreatmentID, amount id.Amount) (*models.Treatment, error) {
	ctx, span := s.tracer.Start(ctx, "treatment.RecordSponsorship")
	defer span.End()
	start := time.Now()

	if err := requireTreatmentID(treatmentID); err != nil {
		return nil, err
	}
	sponsor := requestcontext.SignerID(ctx)
	if sponsor.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "sponsorship requires an authenticated signer")
	}

	// Check the registry guards before any money moves. The deposit is
	// rechecked under the store lock below, but rejecting a doomed
	// sponsorship here avoids a transfer that would need compensating.
	current, err := s.treatments.FindByID(ctx, treatmentID)
	if err != nil {
		return nil, wrapTreatmentErr(err)
	}
	if err := current.CanRecordSponsorship(amount); err != nil {
		return nil, err
	}

	if _, err := s.escrow.Fund(ctx, treatmentID, sponsor, amount); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	var (
		applyErr error
		from     models.TreatmentStatus
	)
	var treatment *models.Treatment
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		treatment, err = s.treatments.Execute(ctx, treatmentID,
			func(t *models.Treatment) error { return t.CanRecordSponsorship(amount) },
			func(t *models.Treatment) {
				from = t.Status
				applyErr = t.ApplySponsorship(sponsor, amount, now)
			},
		)
		if err != nil {
			return wrapTreatmentErr(err)
		}
		if applyErr != nil {
			return applyErr
		}
		if err := s.auditEmitter.emitSponsorshipRecorded(ctx, treatmentID, sponsor, amount); err != nil {
			return err
		}
		if treatment.Status != from {
			return s.auditEmitter.emitStatusChanged(ctx, treatmentID, from, treatment.Status)
		}
		return nil
	})
	if err != nil {
		// The deposit landed in the vault but the roll update failed.
		// Funds are safe inside the escrow; flag the mismatch loudly.
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "CRITICAL: deposit recorded in escrow but sponsor roll update failed",
				"treatment_id", treatmentID,
				"sponsor", sponsor,
				"amount", amount,
				"error", err,
			)
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrementSponsorshipsRecorded()
		s.metrics.ObserveSponsorship(start)
	}
	return treatment, nil
}

// Begin moves a fully funded treatment into progress.
func (s *Service) Begin(ctx context.Context, treatmentID id.TreatmentID) (*models.Treatment, error) {
	return s.transition(ctx, treatmentID,
		func(t *models.Treatment) error { return t.CanBegin() },
		func(t *models.Treatment, now time.Time) { t.ApplyBegin(now) },
	)
}

// Pause suspends an in-progress treatment.
func (s *Service) Pause(ctx context.Context, treatmentID id.TreatmentID) (*models.Treatment, error) {
	return s.transition(ctx, treatmentID,
		func(t *models.Treatment) error { return t.CanPause() },
		func(t *models.Treatment, now time.Time) { t.ApplyPause(now) },
	)
}

// Resume restarts a paused treatment.
func (s *Service) Resume(ctx context.Context, treatmentID id.TreatmentID) (*models.Treatment, error) {
	return s.transition(ctx, treatmentID,
		func(t *models.Treatment) error { return t.CanResume() },
		func(t *models.Treatment, now time.Time) { t.ApplyResume(now) },
	)
}

// transition runs one status-machine edge under the store lock and
// audits the change.
func (s *Service) transition(
	ctx context.Context,
	treatmentID id.TreatmentID,
	validate func(*models.Treatment) error,
	apply func(*models.Treatment, time.Time),
) (*models.Treatment, error) {
	if err := requireTreatmentID(treatmentID); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	var from models.TreatmentStatus
	var treatment *models.Treatment
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		treatment, err = s.treatments.Execute(ctx, treatmentID, validate,
			func(t *models.Treatment) {
				from = t.Status
				apply(t, now)
			},
		)
		if err != nil {
			return wrapTreatmentErr(err)
		}
		return s.auditEmitter.emitStatusChanged(ctx, treatmentID, from, treatment.Status)
	})
	if err != nil {
		return nil, err
	}
	return treatment, nil
}

// Cancel terminates the treatment and deactivates its escrow so no
// further deposits or releases can happen.
func (s *Service) Cancel(ctx context.Context, treatmentID id.TreatmentID, reason string) (*models.Treatment, error) {
	ctx, span := s.tracer.Start(ctx, "treatment.Cancel")
	defer span.End()

	if err := requireTreatmentID(treatmentID); err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "cancellation reason is required")
	}

	// Guard first, then freeze the money, then record the cancellation.
	// An escrow deactivated for a treatment that fails to cancel blocks
	// fund movement, which is the safe side of that mismatch.
	current, err := s.treatments.FindByID(ctx, treatmentID)
	if err != nil {
		return nil, wrapTreatmentErr(err)
	}
	if err := current.CanCancel(); err != nil {
		return nil, err
	}

	if _, err := s.escrow.Deactivate(ctx, treatmentID, reason); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	var treatment *models.Treatment
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		treatment, err = s.treatments.Execute(ctx, treatmentID,
			func(t *models.Treatment) error { return t.CanCancel() },
			func(t *models.Treatment) { t.ApplyCancel(now) },
		)
		if err != nil {
			return wrapTreatmentErr(err)
		}
		return s.auditEmitter.emitTreatmentCancelled(ctx, treatmentID, reason)
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrementTreatmentsCancelled()
	}
	return treatment, nil
}

// OnMilestoneReleased implements the escrow engine's release callback.
// When the final milestone pays out the treatment is complete.
func (s *Service) OnMilestoneReleased(ctx context.Context, treatmentID id.TreatmentID, allReleased bool) error {
	if !allReleased {
		return nil
	}

	now := requestcontext.Now(ctx)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		_, err := s.treatments.Execute(ctx, treatmentID,
			func(t *models.Treatment) error { return t.CanComplete() },
			func(t *models.Treatment) { t.ApplyComplete(now) },
		)
		if err != nil {
			return wrapTreatmentErr(err)
		}
		return s.auditEmitter.emitTreatmentCompleted(ctx, treatmentID)
	})
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.IncrementTreatmentsCompleted()
	}
	return nil
}

// ReportOutcome records the patient's post-treatment report. Only the
// treatment's patient may report, and only once.
func (s *Service) ReportOutcome(ctx context.Context, treatmentID id.TreatmentID, report models.OutcomeReport) (*models.Treatment, error) {
	if err := requireTreatmentID(treatmentID); err != nil {
		return nil, err
	}
	reporter := requestcontext.SignerID(ctx)
	if reporter.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "outcome reporting requires an authenticated signer")
	}
	if report.Summary == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "outcome summary is required")
	}

	now := requestcontext.Now(ctx)
	var treatment *models.Treatment
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		treatment, err = s.treatments.Execute(ctx, treatmentID,
			func(t *models.Treatment) error { return t.CanReportOutcome(reporter) },
			func(t *models.Treatment) { t.ApplyOutcome(report, now) },
		)
		if err != nil {
			return wrapTreatmentErr(err)
		}
		return s.auditEmitter.emitOutcomeReported(ctx, treatmentID, reporter, report.Successful)
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrementOutcomesReported()
	}
	return treatment, nil
}

// Get returns the treatment and its escrow summary. The two reads are
// independent, so they run concurrently.
func (s *Service) Get(ctx context.Context, treatmentID id.TreatmentID) (*TreatmentDetails, error) {
	if err := requireTreatmentID(treatmentID); err != nil {
		return nil, err
	}

	var details TreatmentDetails
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		treatment, err := s.treatments.FindByID(gctx, treatmentID)
		if err != nil {
			return wrapTreatmentErr(err)
		}
		details.Treatment = treatment
		return nil
	})
	g.Go(func() error {
		summary, err := s.escrow.Summary(gctx, treatmentID)
		if err != nil {
			return err
		}
		details.Escrow = summary
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &details, nil
}

// List returns all registered treatments, newest first.
func (s *Service) List(ctx context.Context) ([]*models.Treatment, error) {
	treatments, err := s.treatments.List(ctx)
	if err != nil {
		return nil, wrapTreatmentErr(err)
	}
	return treatments, nil
}
