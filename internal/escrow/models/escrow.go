package models

import (
	"time"

	id "lifeline/pkg/domain"
	dErrors "lifeline/pkg/domain-errors"
)

// Capacity limits for the escrow's bounded collections. Exceeding a limit
// is an explicit rejection at the boundary, never a silent truncation.
const (
	MaxMilestones                = 10
	MaxVerificationsPerMilestone = 25
	MaxEmergencyReleasers        = 5
)

// Escrow is the fund-holding and release-control aggregate for one
// treatment.
//
// Invariants:
//   - TotalAmount and ReleasedAmount are monotonically non-decreasing
//   - ReleasedAmount <= TotalAmount at all times
//   - ReleasedAmount equals the sum of ReleaseAmount over released milestones
//   - all amount math is overflow-checked; a failed check aborts the
//     operation with no partial mutation
//   - once IsActive is false (emergency executed or treatment cancelled),
//     every mutating operation fails with ErrEscrowInactive
//
// The aggregate is mutated only through its Apply* methods, always inside
// a store Execute callback so that check and mutation share one atomic
// unit. Two racing releases can both pass the eligibility read, but only
// the first ApplyRelease flips IsReleased; the loser fails with
// ErrMilestoneAlreadyReleased instead of double-spending.
type Escrow struct {
	TreatmentID id.TreatmentID `json:"treatment_id"`
	// Beneficiary is the destination for every release, fixed at creation.
	// Neither normal nor emergency release can redirect funds elsewhere.
	Beneficiary    id.SignerID         `json:"beneficiary"`
	TotalAmount    id.Amount           `json:"total_amount"`
	ReleasedAmount id.Amount           `json:"released_amount"`
	IsActive       bool                `json:"is_active"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
	Milestones     []MilestoneRelease  `json:"milestones"`
	Emergency      EmergencyConditions `json:"emergency"`
}

// MilestoneRelease is one independently verifiable, independently funded
// checkpoint. ReleaseAmount is fixed at creation; IsReleased transitions
// false -> true exactly once.
type MilestoneRelease struct {
	MilestoneID      id.MilestoneID            `json:"milestone_id"`
	ReleaseAmount    id.Amount                 `json:"release_amount"`
	IsReleased       bool                      `json:"is_released"`
	ReleaseTimestamp *time.Time                `json:"release_timestamp,omitempty"`
	Requirements     []VerificationRequirement `json:"requirements"`
	Received         []ReceivedVerification    `json:"received"`
}

// VerificationRequirement is the release policy for a milestone: which
// verification type must be present, optionally pinned to one specific
// verifier. Immutable once the milestone is created.
type VerificationRequirement struct {
	Type             id.VerificationType `json:"type"`
	RequiredVerifier *id.SignerID        `json:"required_verifier,omitempty"`
	Mandatory        bool                `json:"mandatory"`
}

// ReceivedVerification is one piece of submitted evidence. The list is
// append-only: a second submission of the same type from the same or a
// different verifier adds an entry, it never overwrites one. The
// eligibility predicate de-duplicates by type, not by entry.
type ReceivedVerification struct {
	Verifier     id.SignerID         `json:"verifier"`
	Type         id.VerificationType `json:"type"`
	VerifiedAt   time.Time           `json:"verified_at"`
	EvidenceHash string              `json:"evidence_hash,omitempty"`
	Proof        string              `json:"proof"`
}

// EmergencyConditions is the time-delayed escape hatch configuration.
// Lifecycle: disabled -> enabled (admin) -> initiated (authorized signer,
// stamps time and reason) -> executed after the delay elapses.
type EmergencyConditions struct {
	Enabled      bool          `json:"enabled"`
	Releasers    []id.SignerID `json:"releasers,omitempty"`
	DelaySeconds int64         `json:"delay_seconds"`
	InitiatedAt  *time.Time    `json:"initiated_at,omitempty"`
	Reason       string        `json:"reason,omitempty"`
}

// DefaultEmergencyDelaySeconds is applied when an escrow is created; the
// admin surface can override it before enabling the emergency path.
const DefaultEmergencyDelaySeconds = 86400 // 24 hours

// NewMilestoneRelease validates and builds one milestone entry.
func NewMilestoneRelease(milestoneID id.MilestoneID, amount id.Amount, requirements []VerificationRequirement) (MilestoneRelease, error) {
	if amount == 0 {
		return MilestoneRelease{}, dErrors.New(dErrors.CodeInvariantViolation, "milestone release amount must be positive")
	}
	for _, r := range requirements {
		if !r.Type.IsValid() {
			return MilestoneRelease{}, dErrors.New(dErrors.CodeInvariantViolation, "milestone requirement has invalid verification type")
		}
	}
	return MilestoneRelease{
		MilestoneID:   milestoneID,
		ReleaseAmount: amount,
		Requirements:  requirements,
		Received:      []ReceivedVerification{},
	}, nil
}

// NewEscrow builds the escrow for a treatment's funding phase. Milestone
// numbers must be unique within the escrow and the list is bounded by
// MaxMilestones.
func NewEscrow(treatmentID id.TreatmentID, beneficiary id.SignerID, milestones []MilestoneRelease, now time.Time) (*Escrow, error) {
	if treatmentID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "escrow requires a treatment id")
	}
	if beneficiary.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "escrow requires a beneficiary")
	}
	if len(milestones) == 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "escrow requires at least one milestone")
	}
	if len(milestones) > MaxMilestones {
		return nil, ErrCapacityExceeded
	}
	seen := make(map[id.MilestoneID]bool, len(milestones))
	for _, m := range milestones {
		if seen[m.MilestoneID] {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, "milestone ids must be unique within an escrow")
		}
		seen[m.MilestoneID] = true
	}
	return &Escrow{
		TreatmentID: treatmentID,
		Beneficiary: beneficiary,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
		Milestones:  milestones,
		Emergency: EmergencyConditions{
			Enabled:      false,
			DelaySeconds: DefaultEmergencyDelaySeconds,
		},
	}, nil
}

// findMilestone returns a pointer into the milestone slice.
func (e *Escrow) findMilestone(milestoneID id.MilestoneID) (*MilestoneRelease, error) {
	for i := range e.Milestones {
		if e.Milestones[i].MilestoneID == milestoneID {
			return &e.Milestones[i], nil
		}
	}
	return nil, ErrMilestoneNotFound
}

// MilestoneAmount reports the configured release amount of a milestone.
func (e *Escrow) MilestoneAmount(milestoneID id.MilestoneID) (id.Amount, error) {
	m, err := e.findMilestone(milestoneID)
	if err != nil {
		return 0, err
	}
	return m.ReleaseAmount, nil
}

// IsMilestoneReleased reports whether the milestone's release flag is
// set. Unknown milestones report false.
func (e *Escrow) IsMilestoneReleased(milestoneID id.MilestoneID) bool {
	m, err := e.findMilestone(milestoneID)
	return err == nil && m.IsReleased
}

// AddFunds advances TotalAmount with checked arithmetic. The paired
// ledger transfer must already have succeeded within the same atomic unit;
// callers validate the increment with a dry CheckedAdd before moving any
// funds so a failed check never strands a transfer.
func (e *Escrow) AddFunds(amount id.Amount, now time.Time) error {
	if !e.IsActive {
		return ErrEscrowInactive
	}
	next, err := e.TotalAmount.CheckedAdd(amount)
	if err != nil {
		return err
	}
	e.TotalAmount = next
	e.UpdatedAt = now
	return nil
}

// CanAddFunds checks the increment without mutating anything.
func (e *Escrow) CanAddFunds(amount id.Amount) error {
	if !e.IsActive {
		return ErrEscrowInactive
	}
	_, err := e.TotalAmount.CheckedAdd(amount)
	return err
}

// CanAddVerification checks the submission guards without mutating.
func (e *Escrow) CanAddVerification(milestoneID id.MilestoneID) error {
	if !e.IsActive {
		return ErrEscrowInactive
	}
	m, err := e.findMilestone(milestoneID)
	if err != nil {
		return err
	}
	if m.IsReleased {
		return ErrMilestoneAlreadyReleased
	}
	if len(m.Received) >= MaxVerificationsPerMilestone {
		return ErrCapacityExceeded
	}
	return nil
}

// AddVerification appends evidence to a milestone.
//
// Rejections: ErrEscrowInactive, ErrMilestoneNotFound,
// ErrMilestoneAlreadyReleased (no late evidence), ErrCapacityExceeded.
// Duplicate types from any verifier are accepted and recorded; the
// eligibility predicate decides which count.
func (e *Escrow) AddVerification(milestoneID id.MilestoneID, v ReceivedVerification) error {
	if !e.IsActive {
		return ErrEscrowInactive
	}
	m, err := e.findMilestone(milestoneID)
	if err != nil {
		return err
	}
	if m.IsReleased {
		return ErrMilestoneAlreadyReleased
	}
	if len(m.Received) >= MaxVerificationsPerMilestone {
		return ErrCapacityExceeded
	}
	m.Received = append(m.Received, v)
	e.UpdatedAt = v.VerifiedAt
	return nil
}

// CanRelease evaluates release eligibility without mutating state.
//
// Eligible iff the milestone exists, is not yet released, and every
// mandatory requirement has at least one received verification of matching
// type (and matching verifier when the requirement pins one). Optional
// requirements never block.
func (e *Escrow) CanRelease(milestoneID id.MilestoneID) error {
	if !e.IsActive {
		return ErrEscrowInactive
	}
	m, err := e.findMilestone(milestoneID)
	if err != nil {
		return err
	}
	if m.IsReleased {
		return ErrMilestoneAlreadyReleased
	}
	for _, req := range m.Requirements {
		if !req.Mandatory {
			continue
		}
		if !m.satisfies(req) {
			return ErrVerificationIncomplete
		}
	}
	return nil
}

// satisfies reports whether any received verification meets a requirement.
func (m *MilestoneRelease) satisfies(req VerificationRequirement) bool {
	for _, rv := range m.Received {
		if rv.Type != req.Type {
			continue
		}
		if req.RequiredVerifier != nil && rv.Verifier != *req.RequiredVerifier {
			continue
		}
		return true
	}
	return false
}

// ApplyRelease flips the milestone to released and advances
// ReleasedAmount, enforcing conservation (released never exceeds total).
// Call CanRelease first; ApplyRelease re-runs the guards so the check and
// the flip stay inside one atomic unit.
func (e *Escrow) ApplyRelease(milestoneID id.MilestoneID, now time.Time) (id.Amount, error) {
	if err := e.CanRelease(milestoneID); err != nil {
		return 0, err
	}
	m, err := e.findMilestone(milestoneID)
	if err != nil {
		return 0, err
	}
	next, err := e.ReleasedAmount.CheckedAdd(m.ReleaseAmount)
	if err != nil {
		return 0, err
	}
	if next > e.TotalAmount {
		return 0, ErrInsufficientEscrowFunds
	}

	m.IsReleased = true
	ts := now
	m.ReleaseTimestamp = &ts
	e.ReleasedAmount = next
	e.UpdatedAt = now
	return m.ReleaseAmount, nil
}

// AllReleased reports whether every milestone has been released. The
// registry polls this after each successful release to flip the treatment
// to completed.
func (e *Escrow) AllReleased() bool {
	for _, m := range e.Milestones {
		if !m.IsReleased {
			return false
		}
	}
	return true
}

// Remaining is the unreleased balance held by the escrow.
func (e *Escrow) Remaining() id.Amount {
	// Conservation invariant guarantees this never underflows.
	return e.TotalAmount - e.ReleasedAmount
}

// Deactivate closes the escrow to further mutation. Used by treatment
// cancellation and by emergency execution.
func (e *Escrow) Deactivate(now time.Time) {
	e.IsActive = false
	e.UpdatedAt = now
}

// ConfigureEmergency enables the emergency path with an authorized
// releaser set and a mandatory delay. Rejected once the escrow is
// inactive or when the releaser set exceeds capacity.
func (e *Escrow) ConfigureEmergency(releasers []id.SignerID, delaySeconds int64, now time.Time) error {
	if !e.IsActive {
		return ErrEscrowInactive
	}
	if len(releasers) == 0 {
		return dErrors.New(dErrors.CodeInvariantViolation, "emergency release requires at least one authorized releaser")
	}
	if len(releasers) > MaxEmergencyReleasers {
		return ErrCapacityExceeded
	}
	if delaySeconds <= 0 {
		return dErrors.New(dErrors.CodeInvariantViolation, "emergency delay must be positive")
	}
	e.Emergency.Enabled = true
	e.Emergency.Releasers = releasers
	e.Emergency.DelaySeconds = delaySeconds
	e.UpdatedAt = now
	return nil
}

// isEmergencyReleaser reports membership in the authorized releaser set.
func (e *Escrow) isEmergencyReleaser(signer id.SignerID) bool {
	for _, r := range e.Emergency.Releasers {
		if r == signer {
			return true
		}
	}
	return false
}

// CanInitiateEmergency checks the initiation guards without mutating.
func (e *Escrow) CanInitiateEmergency(signer id.SignerID) error {
	if !e.IsActive {
		return ErrEscrowInactive
	}
	if !e.Emergency.Enabled {
		return ErrEmergencyDisabled
	}
	if !e.isEmergencyReleaser(signer) {
		return ErrEmergencyNotAuthorized
	}
	return nil
}

// ApplyInitiateEmergency stamps the initiation time and reason. A repeat
// initiation restarts the delay window; the audit trail keeps the history.
func (e *Escrow) ApplyInitiateEmergency(signer id.SignerID, reason string, now time.Time) error {
	if err := e.CanInitiateEmergency(signer); err != nil {
		return err
	}
	ts := now
	e.Emergency.InitiatedAt = &ts
	e.Emergency.Reason = reason
	e.UpdatedAt = now
	return nil
}

// CanExecuteEmergency checks the execution guards without mutating. The
// executing signer may differ from the initiator but must be authorized.
func (e *Escrow) CanExecuteEmergency(signer id.SignerID, now time.Time) error {
	if !e.IsActive {
		return ErrEscrowInactive
	}
	if !e.Emergency.Enabled {
		return ErrEmergencyDisabled
	}
	if !e.isEmergencyReleaser(signer) {
		return ErrEmergencyNotAuthorized
	}
	if e.Emergency.InitiatedAt == nil {
		return ErrEmergencyNotInitiated
	}
	earliest := e.Emergency.InitiatedAt.Add(time.Duration(e.Emergency.DelaySeconds) * time.Second)
	if now.Before(earliest) {
		return ErrEmergencyTooEarly
	}
	return nil
}

// ApplyExecuteEmergency releases the full remaining balance and closes
// the escrow. Irreversible: the escrow never reactivates.
func (e *Escrow) ApplyExecuteEmergency(signer id.SignerID, now time.Time) (id.Amount, error) {
	if err := e.CanExecuteEmergency(signer, now); err != nil {
		return 0, err
	}
	remaining := e.Remaining()
	released, err := e.ReleasedAmount.CheckedAdd(remaining)
	if err != nil {
		return 0, err
	}
	e.ReleasedAmount = released
	e.Deactivate(now)
	return remaining, nil
}

// MilestoneStatus is the computed per-milestone state. The "stuck" state
// of a verification-incomplete milestone is not stored; it shows up as
// AwaitingVerification with Eligible=false in the summary.
type MilestoneStatus string

const (
	MilestoneStatusNotStarted           MilestoneStatus = "not_started"
	MilestoneStatusAwaitingVerification MilestoneStatus = "awaiting_verification"
	MilestoneStatusReleased             MilestoneStatus = "released"
)

// MilestoneSummary is the read-model row for one milestone.
type MilestoneSummary struct {
	MilestoneID   id.MilestoneID  `json:"milestone_id"`
	ReleaseAmount id.Amount       `json:"release_amount"`
	Status        MilestoneStatus `json:"status"`
	Eligible      bool            `json:"eligible"`
	Verifications int             `json:"verifications"`
}

// Summary is the read model exposed to the registry and the HTTP surface:
// released/total counters and per-milestone status, computed on demand.
type Summary struct {
	TreatmentID    id.TreatmentID     `json:"treatment_id"`
	TotalAmount    id.Amount          `json:"total_amount"`
	ReleasedAmount id.Amount          `json:"released_amount"`
	IsActive       bool               `json:"is_active"`
	AllReleased    bool               `json:"all_released"`
	Milestones     []MilestoneSummary `json:"milestones"`
}

// Summarize computes the read model.
func (e *Escrow) Summarize() Summary {
	s := Summary{
		TreatmentID:    e.TreatmentID,
		TotalAmount:    e.TotalAmount,
		ReleasedAmount: e.ReleasedAmount,
		IsActive:       e.IsActive,
		AllReleased:    e.AllReleased(),
		Milestones:     make([]MilestoneSummary, 0, len(e.Milestones)),
	}
	for i := range e.Milestones {
		m := &e.Milestones[i]
		row := MilestoneSummary{
			MilestoneID:   m.MilestoneID,
			ReleaseAmount: m.ReleaseAmount,
			Verifications: len(m.Received),
		}
		switch {
		case m.IsReleased:
			row.Status = MilestoneStatusReleased
		case len(m.Received) > 0:
			row.Status = MilestoneStatusAwaitingVerification
		default:
			row.Status = MilestoneStatusNotStarted
		}
		row.Eligible = e.CanRelease(m.MilestoneID) == nil
		s.Milestones = append(s.Milestones, row)
	}
	return s
}

// Clone deep-copies the aggregate. Stores hand callbacks a clone so a
// failed operation leaves the stored record untouched.
func (e *Escrow) Clone() *Escrow {
	cp := *e
	cp.Milestones = make([]MilestoneRelease, len(e.Milestones))
	for i, m := range e.Milestones {
		mc := m
		mc.Requirements = append([]VerificationRequirement(nil), m.Requirements...)
		mc.Received = append([]ReceivedVerification(nil), m.Received...)
		if m.ReleaseTimestamp != nil {
			ts := *m.ReleaseTimestamp
			mc.ReleaseTimestamp = &ts
		}
		cp.Milestones[i] = mc
	}
	cp.Emergency.Releasers = append([]id.SignerID(nil), e.Emergency.Releasers...)
	if e.Emergency.InitiatedAt != nil {
		ts := *e.Emergency.InitiatedAt
		cp.Emergency.InitiatedAt = &ts
	}
	return &cp
}
