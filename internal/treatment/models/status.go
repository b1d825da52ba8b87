package models

import dErrors "lifeline/pkg/domain-errors"

// TreatmentStatus is the registry's lifecycle state for a treatment.
type TreatmentStatus string

const (
	StatusFundingRequired     TreatmentStatus = "funding_required"
	StatusPartiallyFunded     TreatmentStatus = "partially_funded"
	StatusFullyFunded         TreatmentStatus = "fully_funded"
	StatusTreatmentInProgress TreatmentStatus = "treatment_in_progress"
	StatusTreatmentCompleted  TreatmentStatus = "treatment_completed"
	StatusTreatmentPaused     TreatmentStatus = "treatment_paused"
	StatusTreatmentCancelled  TreatmentStatus = "treatment_cancelled"
)

// validTransitions is the explicit status machine. Anything not listed
// is rejected; the two terminal states have no outgoing edges.
var validTransitions = map[TreatmentStatus]map[TreatmentStatus]bool{
	StatusFundingRequired: {
		StatusPartiallyFunded:    true,
		StatusFullyFunded:        true,
		StatusTreatmentCancelled: true,
	},
	StatusPartiallyFunded: {
		StatusFullyFunded:        true,
		StatusTreatmentCancelled: true,
	},
	StatusFullyFunded: {
		StatusTreatmentInProgress: true,
		StatusTreatmentCancelled:  true,
	},
	StatusTreatmentInProgress: {
		StatusTreatmentCompleted: true,
		StatusTreatmentPaused:    true,
		StatusTreatmentCancelled: true,
	},
	StatusTreatmentPaused: {
		StatusTreatmentInProgress: true,
		StatusTreatmentCancelled:  true,
	},
	StatusTreatmentCompleted: {},
	StatusTreatmentCancelled: {},
}

// CanTransitionTo reports whether the status machine permits the edge.
func (s TreatmentStatus) CanTransitionTo(next TreatmentStatus) bool {
	return validTransitions[s][next]
}

// IsTerminal reports whether the status has no outgoing transitions.
func (s TreatmentStatus) IsTerminal() bool {
	return len(validTransitions[s]) == 0
}

// IsFundingPhase reports whether sponsorships are still accepted.
func (s TreatmentStatus) IsFundingPhase() bool {
	return s == StatusFundingRequired || s == StatusPartiallyFunded
}

// requireTransition builds the error callers branch on for bad edges.
func requireTransition(from, to TreatmentStatus) error {
	if !from.CanTransitionTo(to) {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "treatment cannot transition from %s to %s", from, to)
	}
	return nil
}
