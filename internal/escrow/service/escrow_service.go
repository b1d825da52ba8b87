package service

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/sha3"

	"lifeline/internal/escrow/models"
	"lifeline/internal/ledger"
	id "lifeline/pkg/domain"
	dErrors "lifeline/pkg/domain-errors"
	"lifeline/pkg/platform/sentinel"
	"lifeline/pkg/requestcontext"
)

// Create opens the escrow for a treatment's funding phase: the record
// itself plus the vault account whose recorded authority is the derived
// escrow authority, never an individual signer.
func (s *Service) Create(ctx context.Context, treatmentID id.TreatmentID, beneficiary id.SignerID, milestones []models.MilestoneRelease) (*models.Escrow, error) {
	if err := requireTreatmentID(treatmentID); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	escrow, err := models.NewEscrow(treatmentID, beneficiary, milestones, now)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, err.Error())
		}
		return nil, err
	}

	if err := s.ledger.CreateAccount(ctx, ledger.VaultAccount(treatmentID), ledger.EscrowAuthority(treatmentID)); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "vault account already exists for treatment")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to open vault account")
	}

	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.escrows.Create(txCtx, escrow); err != nil {
			return wrapEscrowErr(err)
		}
		return s.auditEmitter.emitEscrowCreated(txCtx, models.EscrowCreated{
			TreatmentID:     treatmentID,
			TotalMilestones: len(milestones),
		})
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrementEscrowsCreated()
	}
	return escrow, nil
}

// Fund moves sponsor funds into the vault and advances the escrow total
// by the same amount.
//
// The increment is dry-checked before any funds move, so a checked-add
// failure can never strand a transfer. The ledger transfer runs under
// the sponsor's own authority; if the escrow mutation then fails (a
// racing deactivation), the deposit is compensated back under the
// derived authority.
func (s *Service) Fund(ctx context.Context, treatmentID id.TreatmentID, sponsor id.SignerID, amount id.Amount) (*models.Escrow, error) {
	ctx, span := s.tracer.Start(ctx, "escrow.Fund",
		trace.WithAttributes(attribute.String("treatment_id", treatmentID.String())))
	defer span.End()

	if err := requireTreatmentID(treatmentID); err != nil {
		return nil, err
	}
	if sponsor.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "sponsor id is required")
	}
	if amount == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "deposit amount must be positive")
	}

	// Dry check before any funds move.
	current, err := s.escrows.FindByTreatment(ctx, treatmentID)
	if err != nil {
		return nil, wrapEscrowErr(err)
	}
	if err := current.CanAddFunds(amount); err != nil {
		return nil, err
	}

	vault := ledger.VaultAccount(treatmentID)
	if err := s.ledger.Transfer(ctx, ledger.SignerAccount(sponsor), vault, ledger.SignerAuthority(sponsor), amount); err != nil {
		return nil, wrapTransferErr(err)
	}

	now := requestcontext.Now(ctx)
	var escrow *models.Escrow
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		e, execErr := s.escrows.Execute(txCtx, treatmentID,
			func(e *models.Escrow) error {
				return e.CanAddFunds(amount)
			},
			func(e *models.Escrow) {
				_ = e.AddFunds(amount, now)
			},
		)
		if execErr != nil {
			return wrapEscrowErr(execErr)
		}
		escrow = e
		return s.auditEmitter.emitEscrowFunded(txCtx, models.EscrowFunded{
			TreatmentID: treatmentID,
			Sponsor:     sponsor,
			Amount:      amount,
			TotalAmount: e.TotalAmount,
		})
	})
	if err != nil {
		s.compensateDeposit(ctx, treatmentID, sponsor, amount)
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrementFundsDeposited()
	}
	return escrow, nil
}

// compensateDeposit returns a deposit whose escrow increment failed.
// Best effort: a failure here leaves funds in the vault (recoverable by
// an operator) rather than double-counted in the escrow.
func (s *Service) compensateDeposit(ctx context.Context, treatmentID id.TreatmentID, sponsor id.SignerID, amount id.Amount) {
	err := s.ledger.Transfer(ctx, ledger.VaultAccount(treatmentID), ledger.SignerAccount(sponsor), ledger.EscrowAuthority(treatmentID), amount)
	if err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "CRITICAL: deposit compensation failed, funds stranded in vault",
			"treatment_id", treatmentID,
			"sponsor", sponsor,
			"amount", uint64(amount),
			"error", err,
		)
	}
}

// compensatePayout reverses a vault payout whose escrow record did not
// commit. The stored record decides: when committed reports the state
// change as persisted (a rolled-forward memory write whose downstream
// step failed), the payout stands and only the failure is logged;
// otherwise the funds return to the vault so the operation can run
// again.
func (s *Service) compensatePayout(ctx context.Context, treatmentID id.TreatmentID, beneficiary id.SignerID, amount id.Amount, committed func(*models.Escrow) bool) {
	if e, err := s.escrows.FindByTreatment(ctx, treatmentID); err == nil && committed(e) {
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "payout committed but a downstream step failed",
				"treatment_id", treatmentID,
				"beneficiary", beneficiary,
				"amount", uint64(amount),
			)
		}
		return
	}
	err := s.ledger.Transfer(ctx, ledger.SignerAccount(beneficiary), ledger.VaultAccount(treatmentID), ledger.SignerAuthority(beneficiary), amount)
	if err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "CRITICAL: payout compensation failed, funds left with beneficiary",
			"treatment_id", treatmentID,
			"beneficiary", beneficiary,
			"amount", uint64(amount),
			"error", err,
		)
	}
}

// SubmitVerification records one piece of milestone evidence.
//
// The verifier identity is the authenticated signer; a submission
// cannot attribute evidence to anyone else. The signer's role must be
// allowed to produce the claimed verification type, and the proof nonce
// must not have been used before.
func (s *Service) SubmitVerification(ctx context.Context, treatmentID id.TreatmentID, milestoneID id.MilestoneID, vType id.VerificationType, evidenceHash, proof string) (*models.Escrow, error) {
	if err := requireTreatmentID(treatmentID); err != nil {
		return nil, err
	}
	verifier := requestcontext.SignerID(ctx)
	if verifier.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "verification requires an authenticated signer")
	}
	if !vType.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid verification type")
	}
	if proof == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "verification proof is required")
	}
	role := requestcontext.SignerRole(ctx)
	if !vType.MaySubmit(role) {
		return nil, dErrors.New(dErrors.CodeForbidden, "signer role may not submit this verification type")
	}

	// The nonce is claimed before the mutation so racing duplicates
	// resolve to exactly one winner; a claim whose submission does not
	// commit is handed back below.
	proofHash := hashProof(proof)
	if err := s.replayGuard.Register(ctx, proofHash); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.New(dErrors.CodeConflict, "verification proof already used")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "proof replay check failed")
	}

	now := requestcontext.Now(ctx)
	verification := models.ReceivedVerification{
		Verifier:     verifier,
		Type:         vType,
		VerifiedAt:   now,
		EvidenceHash: evidenceHash,
		Proof:        proof,
	}

	var escrow *models.Escrow
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		e, execErr := s.escrows.Execute(txCtx, treatmentID,
			func(e *models.Escrow) error {
				return e.CanAddVerification(milestoneID)
			},
			func(e *models.Escrow) {
				_ = e.AddVerification(milestoneID, verification)
			},
		)
		if execErr != nil {
			return wrapEscrowErr(execErr)
		}
		escrow = e
		return s.auditEmitter.emitVerificationSubmitted(txCtx, models.VerificationSubmitted{
			TreatmentID:  treatmentID,
			MilestoneID:  milestoneID,
			Verifier:     verifier,
			Type:         vType,
			EvidenceHash: evidenceHash,
		})
	})
	if err != nil {
		if relErr := s.replayGuard.Unregister(ctx, proofHash); relErr != nil && s.logger != nil {
			s.logger.ErrorContext(ctx, "failed to release proof nonce for rejected submission",
				"treatment_id", treatmentID,
				"error", relErr,
			)
		}
		return nil, err
	}
	return escrow, nil
}

// CanRelease evaluates release eligibility without side effects.
func (s *Service) CanRelease(ctx context.Context, treatmentID id.TreatmentID, milestoneID id.MilestoneID) error {
	if err := requireTreatmentID(treatmentID); err != nil {
		return err
	}
	escrow, err := s.escrows.FindByTreatment(ctx, treatmentID)
	if err != nil {
		return wrapEscrowErr(err)
	}
	return escrow.CanRelease(milestoneID)
}

// Release performs the exactly-once milestone release: eligibility
// check, flag flip, released-amount advance, vault→beneficiary transfer
// under the derived escrow authority, and the audit record — one atomic
// unit. Any authenticated signer may trigger it; eligibility is decided
// entirely by the recorded verifications.
func (s *Service) Release(ctx context.Context, treatmentID id.TreatmentID, milestoneID id.MilestoneID) (*models.Escrow, error) {
	ctx, span := s.tracer.Start(ctx, "escrow.Release",
		trace.WithAttributes(
			attribute.String("treatment_id", treatmentID.String()),
			attribute.Int("milestone_id", int(milestoneID)),
		))
	defer span.End()
	start := time.Now()

	if err := requireTreatmentID(treatmentID); err != nil {
		return nil, err
	}
	caller := requestcontext.SignerID(ctx)
	if caller.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "release requires an authenticated signer")
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
				if err := e.CanRelease(milestoneID); err != nil {
					return err
				}
				a, err := e.MilestoneAmount(milestoneID)
				if err != nil {
					return err
				}
				amount, beneficiary = a, e.Beneficiary

				// The payout runs inside the validate step so a failed
				// transfer aborts the unit with the flag flip never
				// persisted, in the memory store as much as in Postgres.
				if err := s.ledger.Transfer(txCtx, ledger.VaultAccount(treatmentID), ledger.SignerAccount(e.Beneficiary), ledger.EscrowAuthority(treatmentID), a); err != nil {
					return wrapTransferErr(err)
				}
				transferred = true
				return nil
			},
			func(e *models.Escrow) {
				_, applyErr = e.ApplyRelease(milestoneID, now)
			},
		)
		if execErr != nil {
			return wrapEscrowErr(execErr)
		}
		if applyErr != nil {
			return applyErr
		}
		escrow = e

		return s.auditEmitter.emitMilestoneReleased(txCtx, models.MilestoneReleased{
			TreatmentID:    treatmentID,
			MilestoneID:    milestoneID,
			Caller:         caller,
			ReleaseAmount:  amount,
			ReleasedAmount: e.ReleasedAmount,
		})
	})
	if err != nil {
		if transferred {
			s.compensatePayout(ctx, treatmentID, beneficiary, amount, func(e *models.Escrow) bool {
				return e.IsMilestoneReleased(milestoneID)
			})
		}
		if s.metrics != nil {
			s.metrics.IncrementReleasesRejected()
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrementMilestonesReleased()
		s.metrics.ObserveRelease(start)
	}

	if notifier := s.releaseNotifier(); notifier != nil {
		if err := notifier.OnMilestoneReleased(ctx, treatmentID, escrow.AllReleased()); err != nil && s.logger != nil {
			// The release itself is committed; registry status catches up
			// on the next read.
			s.logger.ErrorContext(ctx, "release notification failed",
				"treatment_id", treatmentID,
				"error", err,
			)
		}
	}
	return escrow, nil
}

// Deactivate closes the escrow to further mutation. Invoked by the
// registry on treatment cancellation.
func (s *Service) Deactivate(ctx context.Context, treatmentID id.TreatmentID, reason string) (*models.Escrow, error) {
	if err := requireTreatmentID(treatmentID); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	var escrow *models.Escrow
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		e, execErr := s.escrows.Execute(txCtx, treatmentID,
			func(e *models.Escrow) error {
				if !e.IsActive {
					return models.ErrEscrowInactive
				}
				return nil
			},
			func(e *models.Escrow) {
				e.Deactivate(now)
			},
		)
		if execErr != nil {
			return wrapEscrowErr(execErr)
		}
		escrow = e
		return s.auditEmitter.emitEscrowDeactivated(txCtx, models.EscrowDeactivated{
			TreatmentID: treatmentID,
			Reason:      reason,
		})
	})
	if err != nil {
		return nil, err
	}
	return escrow, nil
}

// Summary computes the escrow read model.
func (s *Service) Summary(ctx context.Context, treatmentID id.TreatmentID) (models.Summary, error) {
	if err := requireTreatmentID(treatmentID); err != nil {
		return models.Summary{}, err
	}
	escrow, err := s.escrows.FindByTreatment(ctx, treatmentID)
	if err != nil {
		return models.Summary{}, wrapEscrowErr(err)
	}
	return escrow.Summarize(), nil
}

// hashProof derives the replay-guard key from a proof nonce. Hashing
// keeps raw proofs out of Redis.
func hashProof(proof string) string {
	h := sha3.Sum256([]byte(proof))
	return hex.EncodeToString(h[:])
}

// wrapTransferErr translates ledger sentinels into domain errors.
func wrapTransferErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sentinel.ErrInsufficientFunds) {
		return dErrors.New(dErrors.CodePolicy, "insufficient funds for transfer")
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "ledger account not found")
	}
	if errors.Is(err, sentinel.ErrInvalidState) {
		return dErrors.New(dErrors.CodeForbidden, "transfer authority rejected")
	}
	var dErr *dErrors.Error
	if errors.As(err, &dErr) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "ledger transfer failed")
}
