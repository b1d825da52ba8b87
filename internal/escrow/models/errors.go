package models

import dErrors "lifeline/pkg/domain-errors"

// Named domain errors for the escrow engine. Services and handlers branch
// on these with errors.Is; each carries the taxonomy code callers use to
// decide between retry, abandon, and escalation.
var (
	// ErrMilestoneNotFound: the milestone id is absent from the escrow.
	ErrMilestoneNotFound = dErrors.New(dErrors.CodeNotFound, "milestone not found")

	// ErrMilestoneAlreadyReleased: the exactly-once guard. The first
	// release wins; every later attempt gets this.
	ErrMilestoneAlreadyReleased = dErrors.New(dErrors.CodeConflict, "milestone already released")

	// ErrVerificationIncomplete: a mandatory verification requirement has
	// no matching received verification yet.
	ErrVerificationIncomplete = dErrors.New(dErrors.CodePolicy, "milestone verification incomplete")

	// ErrEscrowInactive: the escrow was closed by emergency execution or
	// treatment cancellation; no further mutation is accepted.
	ErrEscrowInactive = dErrors.New(dErrors.CodeConflict, "escrow is not active")

	// ErrInsufficientEscrowFunds: releasing would push released_amount past
	// total_amount; the milestone stays releasable once funding catches up.
	ErrInsufficientEscrowFunds = dErrors.New(dErrors.CodePolicy, "insufficient escrow funds")

	// ErrCapacityExceeded: a bounded collection (milestones, verifications,
	// emergency releasers) is full. Explicit rejection, never truncation.
	ErrCapacityExceeded = dErrors.New(dErrors.CodePolicy, "capacity exceeded")

	// ErrEmergencyDisabled: emergency release has not been enabled for
	// this escrow.
	ErrEmergencyDisabled = dErrors.New(dErrors.CodeConflict, "emergency release not enabled")

	// ErrEmergencyNotInitiated: execute called before initiate.
	ErrEmergencyNotInitiated = dErrors.New(dErrors.CodeConflict, "emergency release not initiated")

	// ErrEmergencyTooEarly: the mandatory delay between initiation and
	// execution has not elapsed.
	ErrEmergencyTooEarly = dErrors.New(dErrors.CodePolicy, "emergency delay not elapsed")

	// ErrEmergencyNotAuthorized: the signer is not in the escrow's
	// emergency releaser set.
	ErrEmergencyNotAuthorized = dErrors.New(dErrors.CodeForbidden, "signer not authorized for emergency release")
)
