package handler

// FundRequest deposits sponsor funds into the escrow vault. The sponsor
// is always the authenticated signer.
type FundRequest struct {
	Amount uint64 `json:"amount"`
}

// SubmitVerificationRequest records milestone evidence from the
// authenticated verifier.
type SubmitVerificationRequest struct {
	Type         string `json:"type"`
	EvidenceHash string `json:"evidence_hash,omitempty"`
	Proof        string `json:"proof"`
}

// ConfigureEmergencyRequest enables the emergency path (admin only).
// A zero delay selects the platform default.
type ConfigureEmergencyRequest struct {
	Releasers    []string `json:"releasers"`
	DelaySeconds int64    `json:"delay_seconds,omitempty"`
}

// InitiateEmergencyRequest starts the emergency delay clock.
type InitiateEmergencyRequest struct {
	Reason string `json:"reason"`
}

// EligibilityResponse reports release eligibility for one milestone.
type EligibilityResponse struct {
	MilestoneID uint8  `json:"milestone_id"`
	Eligible    bool   `json:"eligible"`
	Reason      string `json:"reason,omitempty"`
}
