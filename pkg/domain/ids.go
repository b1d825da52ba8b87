// Package domain holds identifier and value types shared across modules.
//
// IDs are distinct named types over uuid.UUID so the compiler rejects
// cross-type assignment (a SignerID can never be passed where a
// TreatmentID is expected). Construct them via the ParseXxx functions at
// trust boundaries; direct casting bypasses validation.
package domain

import (
	"github.com/google/uuid"

	dErrors "lifeline/pkg/domain-errors"
)

// TreatmentID identifies one treatment case and the escrow attached to it.
type TreatmentID uuid.UUID

// SignerID identifies the party that signed the current instruction:
// patient, sponsor, verifier, or emergency releaser.
type SignerID uuid.UUID

// MilestoneID identifies a milestone within one treatment. Milestone
// numbers are unique per treatment, not globally.
type MilestoneID uint8

func (t TreatmentID) String() string { return uuid.UUID(t).String() }
func (t TreatmentID) IsNil() bool    { return uuid.UUID(t) == uuid.Nil }

func (s SignerID) String() string { return uuid.UUID(s).String() }
func (s SignerID) IsNil() bool    { return uuid.UUID(s) == uuid.Nil }

// NewTreatmentID mints a fresh treatment id.
func NewTreatmentID() TreatmentID { return TreatmentID(uuid.New()) }

// ParseTreatmentID constructs a TreatmentID from external input.
// Errors: CodeInvalidInput when the value is empty, malformed, or nil.
func ParseTreatmentID(s string) (TreatmentID, error) {
	u, err := parseUUID(s, "treatment id")
	if err != nil {
		return TreatmentID{}, err
	}
	return TreatmentID(u), nil
}

// ParseSignerID constructs a SignerID from external input.
// Errors: CodeInvalidInput when the value is empty, malformed, or nil.
func ParseSignerID(s string) (SignerID, error) {
	u, err := parseUUID(s, "signer id")
	if err != nil {
		return SignerID{}, err
	}
	return SignerID(u), nil
}

func parseUUID(s, field string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s cannot be empty", field)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s is not a valid UUID", field)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s cannot be the nil UUID", field)
	}
	return u, nil
}
