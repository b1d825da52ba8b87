package memory

import (
	"context"
	"sync"

	id "lifeline/pkg/domain"
	audit "lifeline/pkg/platform/audit"
)

// InMemoryStore keeps audit events in process, keyed by treatment.
// Reference deployments and tests use it in place of the outbox.
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[id.TreatmentID][]audit.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[id.TreatmentID][]audit.Event)}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[id.TreatmentID][]audit.Event)
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.TreatmentID] = append(s.events[event.TreatmentID], event)
	return nil
}

func (s *InMemoryStore) ListByTreatment(_ context.Context, treatmentID id.TreatmentID) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.events[treatmentID]...), nil
}

// ListAll returns all audit events across all treatments (admin-only).
func (s *InMemoryStore) ListAll(_ context.Context) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []audit.Event
	for _, evs := range s.events {
		all = append(all, evs...)
	}
	return all, nil
}
