package ledger

import (
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/sha3"

	"github.com/google/uuid"

	id "lifeline/pkg/domain"
)

// authorityKind discriminates the two ways a transfer can be authorized.
type authorityKind uint8

const (
	kindSigner authorityKind = iota + 1
	kindDerived
)

// Descriptor is the opaque, deterministically derivable identifier of a
// derived escrow authority. It contains no key material: the ledger
// verifies it by re-deriving from the treatment identifier supplied with
// the transfer and comparing against the authority recorded on the vault.
type Descriptor string

// derivationTag is the fixed domain-separation prefix for escrow authority
// derivation. Changing it invalidates every recorded vault authority.
const derivationTag = "lifeline/escrow-authority/v1"

// DeriveEscrowAuthority computes the authority descriptor for a
// treatment's escrow. Pure and deterministic: the same treatment always
// derives the same descriptor, so the escrow can re-derive its own signing
// proof at any time.
func DeriveEscrowAuthority(treatmentID id.TreatmentID) Descriptor {
	h := sha3.New256()
	h.Write([]byte(derivationTag))
	u := uuid.UUID(treatmentID)
	h.Write(u[:])
	return Descriptor(hex.EncodeToString(h.Sum(nil)))
}

// Authority authorizes a single transfer. Construct one of the two
// variants per instruction and discard it afterwards; authorities are
// never persisted outside the account record.
type Authority struct {
	kind        authorityKind
	signer      id.SignerID
	treatmentID id.TreatmentID
}

// SignerAuthority authorizes as the instruction's direct signer. The
// ledger accepts it only when the source account is owned by that signer.
func SignerAuthority(signer id.SignerID) Authority {
	return Authority{kind: kindSigner, signer: signer}
}

// EscrowAuthority authorizes as the derived escrow authority for a
// treatment. The ledger re-derives the descriptor from the treatment
// identifier and accepts the transfer only when it matches the authority
// recorded on the source vault.
func EscrowAuthority(treatmentID id.TreatmentID) Authority {
	return Authority{kind: kindDerived, treatmentID: treatmentID}
}

// Matches checks an authority against the descriptor recorded on an
// account. Signer authorities match the signer's own account descriptor;
// derived authorities match by constant-time descriptor comparison.
func (a Authority) Matches(recorded Descriptor) bool {
	derived := a.descriptor()
	return subtle.ConstantTimeCompare([]byte(derived), []byte(recorded)) == 1
}

// descriptor resolves the authority to its descriptor form.
func (a Authority) descriptor() Descriptor {
	switch a.kind {
	case kindSigner:
		return SignerDescriptor(a.signer)
	case kindDerived:
		return DeriveEscrowAuthority(a.treatmentID)
	default:
		return ""
	}
}

// SignerDescriptor is the recorded authority of a signer-owned account.
func SignerDescriptor(signer id.SignerID) Descriptor {
	return Descriptor("signer:" + signer.String())
}
