package store

import (
	"context"
	"sort"
	"sync"

	"lifeline/internal/treatment/models"
	id "lifeline/pkg/domain"
	"lifeline/pkg/platform/sentinel"
)

// InMemory is the in-process treatment store.
type InMemory struct {
	mu         sync.Mutex
	treatments map[id.TreatmentID]*models.Treatment
}

func NewInMemory() *InMemory {
	return &InMemory{treatments: make(map[id.TreatmentID]*models.Treatment)}
}

func (s *InMemory) Create(_ context.Context, treatment *models.Treatment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.treatments[treatment.ID]; exists {
		return sentinel.ErrConflict
	}
	s.treatments[treatment.ID] = treatment.Clone()
	return nil
}

func (s *InMemory) FindByID(_ context.Context, treatmentID id.TreatmentID) (*models.Treatment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	treatment, ok := s.treatments[treatmentID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return treatment.Clone(), nil
}

func (s *InMemory) List(_ context.Context) ([]*models.Treatment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Treatment, 0, len(s.treatments))
	for _, t := range s.treatments {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemory) Execute(
	_ context.Context,
	treatmentID id.TreatmentID,
	validate func(*models.Treatment) error,
	mutate func(*models.Treatment),
) (*models.Treatment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.treatments[treatmentID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}

	working := stored.Clone()
	if err := validate(working); err != nil {
		return nil, err
	}
	mutate(working)

	s.treatments[treatmentID] = working
	return working.Clone(), nil
}
