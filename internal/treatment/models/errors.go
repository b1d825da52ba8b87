package models

import dErrors "lifeline/pkg/domain-errors"

// Named domain errors for the treatment registry.
var (
	// ErrTreatmentNotFound: the treatment id is unknown to the registry.
	ErrTreatmentNotFound = dErrors.New(dErrors.CodeNotFound, "treatment not found")

	// ErrSponsorCapacity: the sponsor roll is full.
	ErrSponsorCapacity = dErrors.New(dErrors.CodePolicy, "sponsor capacity exceeded")

	// ErrExceedsFundingTarget: the sponsorship would overshoot the
	// remaining funding target.
	ErrExceedsFundingTarget = dErrors.New(dErrors.CodePolicy, "sponsorship exceeds remaining funding target")

	// ErrNotPatient: outcome reporting is reserved for the treatment's
	// patient.
	ErrNotPatient = dErrors.New(dErrors.CodeForbidden, "only the patient may report the treatment outcome")

	// ErrOutcomeAlreadyReported: a treatment outcome is reported once.
	ErrOutcomeAlreadyReported = dErrors.New(dErrors.CodeConflict, "treatment outcome already reported")
)
