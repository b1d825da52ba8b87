package domain

import dErrors "lifeline/pkg/domain-errors"

// VerificationType classifies the evidence attesting a milestone.
// Invariant: the value must be one of the supported verification types.
//
// Usage: construct via ParseVerificationType at trust boundaries to enforce
// the allowlist; direct casting bypasses validation.
type VerificationType string

// Supported verification types.
const (
	VerificationHealthcareProvider VerificationType = "healthcare_provider"
	VerificationPatientSelfReport  VerificationType = "patient_self_report"
	VerificationCommunityWitness   VerificationType = "community_witness"
	VerificationThirdPartyMedical  VerificationType = "third_party_medical"
	VerificationAutomatedDevice    VerificationType = "automated_device"
	VerificationEmergencyOverride  VerificationType = "emergency_override"
)

// validVerificationTypes is the single source of truth for valid types.
var validVerificationTypes = map[VerificationType]bool{
	VerificationHealthcareProvider: true,
	VerificationPatientSelfReport:  true,
	VerificationCommunityWitness:   true,
	VerificationThirdPartyMedical:  true,
	VerificationAutomatedDevice:    true,
	VerificationEmergencyOverride:  true,
}

// ParseVerificationType constructs a VerificationType from external input.
//
// Errors: returns CodeInvalidInput when the value is empty or unsupported;
// no other errors are expected.
func ParseVerificationType(s string) (VerificationType, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "verification type cannot be empty")
	}
	v := VerificationType(s)
	if !v.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid verification type")
	}
	return v, nil
}

// IsValid checks if the verification type is one of the supported values.
func (v VerificationType) IsValid() bool {
	return validVerificationTypes[v]
}

func (v VerificationType) String() string { return string(v) }

// VerifierRole is the platform role carried in a signer's credentials.
// Roles gate which verification types an identity may submit.
type VerifierRole string

const (
	RolePatient   VerifierRole = "patient"
	RoleSponsor   VerifierRole = "sponsor"
	RoleProvider  VerifierRole = "provider"
	RoleCommunity VerifierRole = "community"
	RoleDevice    VerifierRole = "device"
	RoleAdmin     VerifierRole = "admin"
)

var validVerifierRoles = map[VerifierRole]bool{
	RolePatient:   true,
	RoleSponsor:   true,
	RoleProvider:  true,
	RoleCommunity: true,
	RoleDevice:    true,
	RoleAdmin:     true,
}

// ParseVerifierRole constructs a VerifierRole from external input.
// Errors: CodeInvalidInput when empty or unsupported.
func ParseVerifierRole(s string) (VerifierRole, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "role cannot be empty")
	}
	r := VerifierRole(s)
	if !validVerifierRoles[r] {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid role")
	}
	return r, nil
}

// rolesByVerificationType maps each verification type to the roles allowed
// to submit it. Admins may submit any type.
var rolesByVerificationType = map[VerificationType]map[VerifierRole]bool{
	VerificationHealthcareProvider: {RoleProvider: true},
	VerificationPatientSelfReport:  {RolePatient: true},
	VerificationCommunityWitness:   {RoleCommunity: true},
	VerificationThirdPartyMedical:  {RoleProvider: true, RoleCommunity: true},
	VerificationAutomatedDevice:    {RoleDevice: true},
	VerificationEmergencyOverride:  {RoleAdmin: true},
}

// MaySubmit reports whether a role is allowed to submit this verification
// type.
func (v VerificationType) MaySubmit(role VerifierRole) bool {
	if role == RoleAdmin {
		return true
	}
	return rolesByVerificationType[v][role]
}
