// Package store persists treatment registry records. Same contract as
// the escrow store: Execute holds the lock across validate and mutate.
package store

import (
	"context"

	"lifeline/internal/treatment/models"
	id "lifeline/pkg/domain"
)

// Store is the persistence port for treatments.
type Store interface {
	// Create persists a new treatment. Returns sentinel.ErrConflict if
	// the id is taken.
	Create(ctx context.Context, treatment *models.Treatment) error

	// FindByID returns a copy of the treatment.
	// Returns sentinel.ErrNotFound if unknown.
	FindByID(ctx context.Context, treatmentID id.TreatmentID) (*models.Treatment, error)

	// List returns all treatments, newest first.
	List(ctx context.Context) ([]*models.Treatment, error)

	// Execute atomically runs validate then mutate under the store's
	// lock and persists the result.
	Execute(
		ctx context.Context,
		treatmentID id.TreatmentID,
		validate func(*models.Treatment) error,
		mutate func(*models.Treatment),
	) (*models.Treatment, error)
}
