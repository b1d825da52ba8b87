// Package ledger defines the value-transfer substrate the escrow engine
// relies on but does not implement.
//
// A transfer is authorized either by the source account's owner signing the
// instruction, or by a derived escrow authority re-derivable from the
// treatment identifier (see authority.go). The package ships a memory
// implementation used by the platform's reference deployment and by tests;
// a production chain adapter satisfies the same interface.
package ledger

import (
	"context"
	"fmt"

	id "lifeline/pkg/domain"
)

// AccountID names a balance-holding account.
type AccountID string

// VaultAccount returns the escrow vault account for a treatment. One vault
// exists per treatment and its recorded authority is the derived escrow
// authority, never an individual signer.
func VaultAccount(treatmentID id.TreatmentID) AccountID {
	return AccountID(fmt.Sprintf("vault:%s", treatmentID))
}

// SignerAccount returns the personal account of a platform signer
// (sponsor, patient, facility).
func SignerAccount(signerID id.SignerID) AccountID {
	return AccountID(fmt.Sprintf("signer:%s", signerID))
}

// Ledger is the external transfer primitive (spec'd collaborator).
//
// Transfer moves amount from one account to another, authorized by the
// supplied authority. It either fully applies or fully fails; partial
// application is impossible. Implementations return sentinel errors
// (sentinel.ErrNotFound, sentinel.ErrInsufficientFunds) wrapped with
// context.
type Ledger interface {
	// CreateAccount opens an account with the given authority. Opening an
	// existing account is a conflict.
	CreateAccount(ctx context.Context, account AccountID, authority Authority) error
	// Transfer moves amount between accounts under the given authority.
	Transfer(ctx context.Context, from, to AccountID, authority Authority, amount id.Amount) error
	// Balance reports an account's current balance.
	Balance(ctx context.Context, account AccountID) (id.Amount, error)
}
