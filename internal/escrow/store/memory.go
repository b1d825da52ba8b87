package store

import (
	"context"
	"sync"

	"lifeline/internal/escrow/models"
	id "lifeline/pkg/domain"
	"lifeline/pkg/platform/sentinel"
)

// InMemory is the in-process escrow store for reference deployments and
// tests. One mutex covers all escrows; contention is not a concern at
// that scale.
type InMemory struct {
	mu      sync.Mutex
	escrows map[id.TreatmentID]*models.Escrow
}

func NewInMemory() *InMemory {
	return &InMemory{escrows: make(map[id.TreatmentID]*models.Escrow)}
}

func (s *InMemory) Create(_ context.Context, escrow *models.Escrow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.escrows[escrow.TreatmentID]; exists {
		return sentinel.ErrConflict
	}
	s.escrows[escrow.TreatmentID] = escrow.Clone()
	return nil
}

func (s *InMemory) FindByTreatment(_ context.Context, treatmentID id.TreatmentID) (*models.Escrow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	escrow, ok := s.escrows[treatmentID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return escrow.Clone(), nil
}

// Execute runs validate then mutate under the store mutex. The mutate
// callback operates on a clone; the stored record is only replaced
// after both callbacks succeed, so a panicking callback cannot leave a
// half-mutated escrow behind.
func (s *InMemory) Execute(
	_ context.Context,
	treatmentID id.TreatmentID,
	validate func(*models.Escrow) error,
	mutate func(*models.Escrow),
) (*models.Escrow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.escrows[treatmentID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}

	working := stored.Clone()
	if err := validate(working); err != nil {
		return nil, err
	}
	mutate(working)

	s.escrows[treatmentID] = working
	return working.Clone(), nil
}
