package models

import (
	"time"

	escrowmodels "lifeline/internal/escrow/models"
	id "lifeline/pkg/domain"
	dErrors "lifeline/pkg/domain-errors"
)

// MaxSponsors bounds the sponsor roll kept on the treatment.
const MaxSponsors = 50

// MilestoneDefinition is the registry-side description of one milestone:
// the amount it releases and the verification policy the escrow will
// enforce. Fixed at treatment creation.
type MilestoneDefinition struct {
	Number        id.MilestoneID                         `json:"number"`
	ReleaseAmount id.Amount                              `json:"release_amount"`
	Requirements  []escrowmodels.VerificationRequirement `json:"requirements"`
}

// SponsorInfo is one entry on the treatment's sponsor roll.
type SponsorInfo struct {
	Sponsor   id.SignerID `json:"sponsor"`
	Amount    id.Amount   `json:"amount"`
	Timestamp time.Time   `json:"timestamp"`
}

// OutcomeReport is the patient's post-treatment report. ResearchConsent
// records whether the anonymized outcome may be shared with research
// partners; the sharing itself happens elsewhere.
type OutcomeReport struct {
	Summary         string    `json:"summary"`
	Successful      bool      `json:"successful"`
	ResearchConsent bool      `json:"research_consent"`
	ReportedAt      time.Time `json:"reported_at"`
}

// Treatment is the registry aggregate for one funded treatment case.
//
// Invariants:
//   - milestone numbers are unique and the release amounts sum to
//     FundingTarget exactly
//   - FundedAmount is monotone and never exceeds FundingTarget
//   - the sponsor roll is bounded by MaxSponsors
//   - Status only moves along the explicit transition table
//   - the outcome is reported at most once, by the patient
type Treatment struct {
	ID            id.TreatmentID        `json:"id"`
	Patient       id.SignerID           `json:"patient"`
	Facility      id.SignerID           `json:"facility"`
	Description   string                `json:"description"`
	FundingTarget id.Amount             `json:"funding_target"`
	FundedAmount  id.Amount             `json:"funded_amount"`
	Status        TreatmentStatus       `json:"status"`
	Milestones    []MilestoneDefinition `json:"milestones"`
	Sponsors      []SponsorInfo         `json:"sponsors"`
	Outcome       *OutcomeReport        `json:"outcome,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// NewTreatment validates and builds the aggregate. The milestone sum
// check is strict equality: a treatment whose milestones cannot pay out
// its full target (or would overpay it) is a definition error.
func NewTreatment(treatmentID id.TreatmentID, patient, facility id.SignerID, description string, fundingTarget id.Amount, milestones []MilestoneDefinition, now time.Time) (*Treatment, error) {
	if treatmentID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "treatment requires an id")
	}
	if patient.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "treatment requires a patient")
	}
	if facility.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "treatment requires a facility")
	}
	if fundingTarget == 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "funding target must be positive")
	}
	if len(milestones) == 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "treatment requires at least one milestone")
	}
	if len(milestones) > escrowmodels.MaxMilestones {
		return nil, dErrors.New(dErrors.CodePolicy, "too many milestones")
	}

	var sum id.Amount
	seen := make(map[id.MilestoneID]bool, len(milestones))
	for _, m := range milestones {
		if seen[m.Number] {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, "milestone numbers must be unique")
		}
		seen[m.Number] = true
		if m.ReleaseAmount == 0 {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, "milestone release amount must be positive")
		}
		next, err := sum.CheckedAdd(m.ReleaseAmount)
		if err != nil {
			return nil, err
		}
		sum = next
	}
	if sum != fundingTarget {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "milestone amounts must sum to the funding target")
	}

	return &Treatment{
		ID:            treatmentID,
		Patient:       patient,
		Facility:      facility,
		Description:   description,
		FundingTarget: fundingTarget,
		Status:        StatusFundingRequired,
		Milestones:    milestones,
		Sponsors:      []SponsorInfo{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Remaining is the unfunded portion of the target.
func (t *Treatment) Remaining() id.Amount {
	return t.FundingTarget - t.FundedAmount
}

// CanRecordSponsorship checks the funding guards without mutating.
// Sponsorships are capped at the remaining target so the vault never
// holds more than the milestones can pay out.
func (t *Treatment) CanRecordSponsorship(amount id.Amount) error {
	if !t.Status.IsFundingPhase() {
		return dErrors.Newf(dErrors.CodeConflict, "treatment is not accepting sponsorships in status %s", t.Status)
	}
	if len(t.Sponsors) >= MaxSponsors {
		return ErrSponsorCapacity
	}
	if amount == 0 {
		return dErrors.New(dErrors.CodeValidation, "sponsorship amount must be positive")
	}
	next, err := t.FundedAmount.CheckedAdd(amount)
	if err != nil {
		return err
	}
	if next > t.FundingTarget {
		return ErrExceedsFundingTarget
	}
	return nil
}

// ApplySponsorship appends the sponsor entry, advances the funded
// amount, and moves the status forward when thresholds are crossed.
// Call CanRecordSponsorship first.
func (t *Treatment) ApplySponsorship(sponsor id.SignerID, amount id.Amount, now time.Time) error {
	if err := t.CanRecordSponsorship(amount); err != nil {
		return err
	}
	t.Sponsors = append(t.Sponsors, SponsorInfo{Sponsor: sponsor, Amount: amount, Timestamp: now})
	t.FundedAmount += amount
	switch {
	case t.FundedAmount == t.FundingTarget:
		t.Status = StatusFullyFunded
	case t.Status == StatusFundingRequired:
		t.Status = StatusPartiallyFunded
	}
	t.UpdatedAt = now
	return nil
}

// CanBegin checks the FullyFunded -> TreatmentInProgress edge.
func (t *Treatment) CanBegin() error {
	return requireTransition(t.Status, StatusTreatmentInProgress)
}

// ApplyBegin starts the treatment. Call CanBegin first.
func (t *Treatment) ApplyBegin(now time.Time) {
	t.Status = StatusTreatmentInProgress
	t.UpdatedAt = now
}

// CanPause checks the TreatmentInProgress -> TreatmentPaused edge.
func (t *Treatment) CanPause() error {
	return requireTransition(t.Status, StatusTreatmentPaused)
}

// ApplyPause pauses the treatment. Call CanPause first.
func (t *Treatment) ApplyPause(now time.Time) {
	t.Status = StatusTreatmentPaused
	t.UpdatedAt = now
}

// CanResume checks the TreatmentPaused -> TreatmentInProgress edge.
func (t *Treatment) CanResume() error {
	if t.Status != StatusTreatmentPaused {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "treatment cannot resume from status %s", t.Status)
	}
	return nil
}

// ApplyResume resumes a paused treatment. Call CanResume first.
func (t *Treatment) ApplyResume(now time.Time) {
	t.Status = StatusTreatmentInProgress
	t.UpdatedAt = now
}

// CanCancel checks that the treatment is not already terminal.
// Cancellation is allowed from any non-terminal state.
func (t *Treatment) CanCancel() error {
	return requireTransition(t.Status, StatusTreatmentCancelled)
}

// ApplyCancel cancels the treatment. Call CanCancel first.
func (t *Treatment) ApplyCancel(now time.Time) {
	t.Status = StatusTreatmentCancelled
	t.UpdatedAt = now
}

// CanComplete checks the TreatmentInProgress -> TreatmentCompleted edge.
func (t *Treatment) CanComplete() error {
	return requireTransition(t.Status, StatusTreatmentCompleted)
}

// ApplyComplete marks the treatment completed. Call CanComplete first.
func (t *Treatment) ApplyComplete(now time.Time) {
	t.Status = StatusTreatmentCompleted
	t.UpdatedAt = now
}

// CanReportOutcome checks the outcome-reporting guards: patient only,
// once only, and only after the treatment ran.
func (t *Treatment) CanReportOutcome(reporter id.SignerID) error {
	if reporter != t.Patient {
		return ErrNotPatient
	}
	if t.Outcome != nil {
		return ErrOutcomeAlreadyReported
	}
	if t.Status != StatusTreatmentCompleted && t.Status != StatusTreatmentCancelled {
		return dErrors.Newf(dErrors.CodeConflict, "outcome cannot be reported while treatment is %s", t.Status)
	}
	return nil
}

// ApplyOutcome records the outcome report. Call CanReportOutcome first.
func (t *Treatment) ApplyOutcome(report OutcomeReport, now time.Time) {
	report.ReportedAt = now
	t.Outcome = &report
	t.UpdatedAt = now
}

// Clone deep-copies the aggregate for copy-on-write stores.
func (t *Treatment) Clone() *Treatment {
	cp := *t
	cp.Milestones = make([]MilestoneDefinition, len(t.Milestones))
	for i, m := range t.Milestones {
		mc := m
		mc.Requirements = append([]escrowmodels.VerificationRequirement(nil), m.Requirements...)
		cp.Milestones[i] = mc
	}
	cp.Sponsors = append([]SponsorInfo(nil), t.Sponsors...)
	if t.Outcome != nil {
		o := *t.Outcome
		cp.Outcome = &o
	}
	return &cp
}
