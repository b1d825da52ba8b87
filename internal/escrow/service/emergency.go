package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"lifeline/internal/escrow/models"
	"lifeline/internal/ledger"
	id "lifeline/pkg/domain"
	dErrors "lifeline/pkg/domain-errors"
	"lifeline/pkg/requestcontext"
)

// ConfigureEmergency enables the time-delayed override with an
// authorized releaser set. Admin-only; the handler enforces the admin
// token before this is reachable.
func (s *Service) ConfigureEmergency(ctx context.Context, treatmentID id.TreatmentID, releasers []id.SignerID, delaySeconds int64) (*models.Escrow, error) {
	if err := requireTreatmentID(treatmentID); err != nil {
		return nil, err
	}
	for _, r := range releasers {
		if r.IsNil() {
			return nil, dErrors.New(dErrors.CodeValidation, "emergency releaser id cannot be nil")
		}
	}
	if delaySeconds <= 0 {
		delaySeconds = int64(s.emergencyDelay / time.Second)
	}

	now := requestcontext.Now(ctx)
	var escrow *models.Escrow
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		e, execErr := s.escrows.Execute(txCtx, treatmentID,
			func(e *models.Escrow) error {
				// ConfigureEmergency validates and mutates in one step;
				// run it on the working copy inside validate so a
				// rejection discards everything.
				return e.ConfigureEmergency(releasers, delaySeconds, now)
			},
			func(e *models.Escrow) {},
		)
		if execErr != nil {
			if dErrors.HasCode(execErr, dErrors.CodeInvariantViolation) {
				return dErrors.New(dErrors.CodeValidation, execErr.Error())
			}
			return wrapEscrowErr(execErr)
		}
		escrow = e
		return s.auditEmitter.emitEmergencyConfigured(txCtx, treatmentID)
	})
	if err != nil {
		return nil, err
	}
	return escrow, nil
}

// InitiateEmergency starts the delay clock. Only a configured releaser
// may initiate; repeating restarts the window and the audit trail keeps
// every initiation.
func (s *Service) InitiateEmergency(ctx context.Context, treatmentID id.TreatmentID, reason string) (*models.Escrow, error) {
	if err := requireTreatmentID(treatmentID); err != nil {
		return nil, err
	}
	initiator := requestcontext.SignerID(ctx)
	if initiator.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "emergency initiation requires an authenticated signer")
	}
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "emergency initiation requires a reason")
	}

	now := requestcontext.Now(ctx)
	var escrow *models.Escrow
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		e, execErr := s.escrows.Execute(txCtx, treatmentID,
			func(e *models.Escrow) error {
				return e.CanInitiateEmergency(initiator)
			},
			func(e *models.Escrow) {
				_ = e.ApplyInitiateEmergency(initiator, reason, now)
			},
		)
		if execErr != nil {
			return wrapEscrowErr(execErr)
		}
		escrow = e
		return s.auditEmitter.emitEmergencyInitiated(txCtx, models.EmergencyInitiated{
			TreatmentID: treatmentID,
			Initiator:   initiator,
			Reason:      reason,
		})
	})
	if err != nil {
		return nil, err
	}
	return escrow, nil
}

// ExecuteEmergency releases the full remaining balance to the
// beneficiary once the delay has elapsed, then deactivates the escrow.
// The executor may differ from the initiator but must be authorized.
// Audited as emergency_executed, never as a normal release.
func (s *Service) ExecuteEmergency(ctx context.Context, treatmentID id.TreatmentID) (*models.Escrow, error) {
	ctx, span := s.tracer.Start(ctx, "escrow.ExecuteEmergency",
		trace.WithAttributes(attribute.String("treatment_id", treatmentID.String())))
	defer span.End()

	if err := requireTreatmentID(treatmentID); err != nil {
		return nil, err
	}
	executor := requestcontext.SignerID(ctx)
	if executor.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "emergency execution requires an authenticated signer")
	}

	now := requestcontext.Now(ctx)
	var (
		escrow      *models.Escrow
		amount      id.Amount
		beneficiary id.SignerID
		transferred bool
		applyErr    error
	)
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		e, execErr := s.escrows.Execute(txCtx, treatmentID,
			func(e *models.Escrow) error {
				if err := e.CanExecuteEmergency(executor, now); err != nil {
					return err
				}
				amount, beneficiary = e.Remaining(), e.Beneficiary

				// Payout inside the validate step: a failed transfer
				// aborts the unit before the deactivation persists.
				if amount > 0 {
					if err := s.ledger.Transfer(txCtx, ledger.VaultAccount(treatmentID), ledger.SignerAccount(e.Beneficiary), ledger.EscrowAuthority(treatmentID), amount); err != nil {
						return wrapTransferErr(err)
					}
					transferred = true
				}
				return nil
			},
			func(e *models.Escrow) {
				_, applyErr = e.ApplyExecuteEmergency(executor, now)
			},
		)
		if execErr != nil {
			return wrapEscrowErr(execErr)
		}
		if applyErr != nil {
			return applyErr
		}
		escrow = e

		return s.auditEmitter.emitEmergencyExecuted(txCtx, models.EmergencyExecuted{
			TreatmentID: treatmentID,
			Executor:    executor,
			Amount:      amount,
			Destination: beneficiary.String(),
		})
	})
	if err != nil {
		if transferred {
			s.compensatePayout(ctx, treatmentID, beneficiary, amount, func(e *models.Escrow) bool {
				return !e.IsActive
			})
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrementEmergencyExecutions()
	}
	return escrow, nil
}
