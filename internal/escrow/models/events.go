package models

import (
	id "lifeline/pkg/domain"
)

// Event payloads emitted by the escrow service. One struct per audited
// state change; the service's audit emitter maps them onto the shared
// audit event model.

type EscrowCreated struct {
	TreatmentID     id.TreatmentID
	TotalMilestones int
}

type EscrowFunded struct {
	TreatmentID id.TreatmentID
	Sponsor     id.SignerID
	Amount      id.Amount
	TotalAmount id.Amount
}

type VerificationSubmitted struct {
	TreatmentID  id.TreatmentID
	MilestoneID  id.MilestoneID
	Verifier     id.SignerID
	Type         id.VerificationType
	EvidenceHash string
}

type MilestoneReleased struct {
	TreatmentID    id.TreatmentID
	MilestoneID    id.MilestoneID
	Caller         id.SignerID
	ReleaseAmount  id.Amount
	ReleasedAmount id.Amount
}

type EmergencyInitiated struct {
	TreatmentID id.TreatmentID
	Initiator   id.SignerID
	Reason      string
}

// EmergencyExecuted is logged distinctly from MilestoneReleased; audit
// consumers must never conflate the two release paths.
type EmergencyExecuted struct {
	TreatmentID id.TreatmentID
	Executor    id.SignerID
	Amount      id.Amount
	Destination string
}

type EscrowDeactivated struct {
	TreatmentID id.TreatmentID
	Reason      string
}
