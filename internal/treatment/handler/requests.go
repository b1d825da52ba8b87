package handler

// MilestoneDefinitionRequest describes one milestone in a create request.
type MilestoneDefinitionRequest struct {
	Number        uint8                            `json:"number"`
	ReleaseAmount uint64                           `json:"release_amount"`
	Requirements  []VerificationRequirementRequest `json:"requirements"`
}

// VerificationRequirementRequest describes one verification policy entry.
type VerificationRequirementRequest struct {
	Type             string  `json:"type"`
	RequiredVerifier *string `json:"required_verifier,omitempty"`
	Mandatory        bool    `json:"mandatory"`
}

// CreateTreatmentRequest registers a treatment case.
type CreateTreatmentRequest struct {
	Patient       string                       `json:"patient"`
	Facility      string                       `json:"facility"`
	Description   string                       `json:"description"`
	FundingTarget uint64                       `json:"funding_target"`
	Milestones    []MilestoneDefinitionRequest `json:"milestones"`
}

// SponsorshipRequest records a sponsor deposit. The sponsor is the
// authenticated signer, never a request field.
type SponsorshipRequest struct {
	Amount uint64 `json:"amount"`
}

// CancelTreatmentRequest terminates a treatment.
type CancelTreatmentRequest struct {
	Reason string `json:"reason"`
}

// OutcomeReportRequest is the patient's post-treatment report.
type OutcomeReportRequest struct {
	Summary         string `json:"summary"`
	Successful      bool   `json:"successful"`
	ResearchConsent bool   `json:"research_consent"`
}
