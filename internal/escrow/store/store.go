// Package store persists milestone escrows.
//
// The Execute callback pattern is the concurrency contract for the
// release path: the store holds its lock (mutex or FOR UPDATE) across
// both the validate and mutate callbacks, so a release decision and the
// state change it authorizes are one atomic step. Two concurrent
// releases of the same milestone cannot both observe it unreleased.
package store

import (
	"context"

	"lifeline/internal/escrow/models"
	id "lifeline/pkg/domain"
)

// Store is the persistence port for escrow records.
//
// Implementations return sentinel errors (pkg/platform/sentinel) for
// infrastructure facts; validate callbacks return domain errors which
// pass through Execute unchanged.
type Store interface {
	// Create persists a new escrow. Returns sentinel.ErrConflict if an
	// escrow already exists for the treatment.
	Create(ctx context.Context, escrow *models.Escrow) error

	// FindByTreatment returns a copy of the escrow record.
	// Returns sentinel.ErrNotFound if no escrow exists.
	FindByTreatment(ctx context.Context, treatmentID id.TreatmentID) (*models.Escrow, error)

	// Execute atomically runs validate then mutate on the escrow under
	// the store's lock. If validate returns an error the escrow is left
	// untouched and the error is returned. The updated escrow is
	// persisted and a copy returned.
	Execute(
		ctx context.Context,
		treatmentID id.TreatmentID,
		validate func(*models.Escrow) error,
		mutate func(*models.Escrow),
	) (*models.Escrow, error)
}
